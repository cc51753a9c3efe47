package pipeline

import (
	"context"

	"github.com/jbweber/boxforge/internal/collector"
)

// Stage is one step of a build. Run registers a cleanup action with col for
// everything it acquires before it returns.
type Stage interface {
	// Name is the status line shown when the stage starts.
	Name() string
	Run(ctx context.Context, bc *BuildContext, col *collector.Collector) error
}

// Func adapts a function to a Stage.
type Func struct {
	Title string
	Fn    func(ctx context.Context, bc *BuildContext, col *collector.Collector) error
}

func (f Func) Name() string { return f.Title }

func (f Func) Run(ctx context.Context, bc *BuildContext, col *collector.Collector) error {
	return f.Fn(ctx, bc, col)
}
