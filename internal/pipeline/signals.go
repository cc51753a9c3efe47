package pipeline

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// SignalSource starts delivering termination requests on the returned
// channel until stop is called.
type SignalSource func() (signals <-chan os.Signal, stop func())

// TerminationSignals listens for SIGINT and SIGTERM. Once stopped, both
// signals get their default disposition back, so a second one terminates
// the process.
func TerminationSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// Interrupted is the cancellation cause when a termination signal arrived.
type Interrupted struct {
	Signal os.Signal
}

func (e *Interrupted) Error() string {
	return fmt.Sprintf("interrupted by %v", e.Signal)
}

// Reraise delivers sig to the process again with its default disposition so
// the exit status reflects it. It only returns if the signal did not end the
// process.
func Reraise(sig os.Signal) {
	s, ok := sig.(unix.Signal)
	if !ok {
		return
	}
	signal.Reset(s)
	_ = unix.Kill(os.Getpid(), s)
}
