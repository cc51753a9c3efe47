package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocket is the system libvirtd socket.
const DefaultSocket = "/var/run/libvirt/libvirt-sock"

// domainAPI is the part of *libvirt.Libvirt the client uses for domains.
type domainAPI interface {
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
}

// Client wraps a go-libvirt connection.
type Client struct {
	libvirt *libvirt.Libvirt
	domains domainAPI
}

// Connect establishes a connection to the local libvirt daemon.
// It returns a Client that must be closed via Close() when done.
//
// If socketPath is empty, DefaultSocket is used.
// If timeout is zero, defaults to 5 seconds.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}

	return &Client{libvirt: l, domains: l}, nil
}

// ConnectWithContext establishes a connection with context support for cancellation.
func ConnectWithContext(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(socketPath, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// a connection that completes late is closed by its own goroutine
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}
	l := c.libvirt
	c.libvirt = nil

	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}

	return nil
}

// DefineDomain defines a persistent domain from xml and returns the XML as
// normalized by the daemon. The daemon validates the document, so a box
// description it rejects fails here rather than on the user's machine.
func (c *Client) DefineDomain(xml string) (string, error) {
	if c.domains == nil {
		return "", fmt.Errorf("client not connected")
	}
	dom, err := c.domains.DomainDefineXML(xml)
	if err != nil {
		return "", fmt.Errorf("failed to define domain: %w", err)
	}
	normalized, err := c.domains.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return "", fmt.Errorf("failed to read back domain %s: %w", dom.Name, err)
	}
	return normalized, nil
}

// UndefineDomain removes the named domain and its NVRAM. A domain that no
// longer exists is not an error.
func (c *Client) UndefineDomain(name string) error {
	if c.domains == nil {
		return fmt.Errorf("client not connected")
	}
	dom, err := c.domains.DomainLookupByName(name)
	if err != nil {
		if libvirt.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up domain %s: %w", name, err)
	}
	if err := c.domains.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram); err != nil {
		return fmt.Errorf("failed to undefine domain %s: %w", name, err)
	}
	return nil
}
