// Package libvirt provides a client wrapper for interacting with libvirt.
//
// This package wraps github.com/digitalocean/go-libvirt to provide:
//   - Connection management (connect, disconnect)
//   - Domain XML generation for macOS guests booting from a qcow2 disk
//   - Defining and undefining the build domain of a libvirt box
//
// The libvirt box stage defines a throwaway domain from the generated XML so
// the daemon validates it, stores the normalized XML inside the box and
// undefines the domain again during cleanup:
//
//	client, err := libvirt.Connect(libvirt.DefaultSocket, 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	xml, err := libvirt.GenerateDomainXML(libvirt.DomainSpec{...})
//	if err != nil {
//	    return err
//	}
//	normalized, err := client.DefineDomain(xml)
//
// Consumers define their own interfaces listing only the operations they
// need (see internal/stages), so tests never need a daemon.
package libvirt
