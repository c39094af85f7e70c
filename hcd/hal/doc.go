// Package hal defines the hardware register contract between the EHCI
// scheduler and a USB 2.0 host controller.
//
// The scheduler never touches register bit layout directly; it programs the
// controller exclusively through the [Registers] interface. All operations
// are synchronous, non-blocking accessors over memory-mapped state, and the
// scheduler never assumes caching: every read observes current hardware
// state. Platform vendors implement [Registers] for their controller; the
// sim subpackage provides a pure-software implementation for tests and
// host-less development.
//
// The package also holds the wire-level types shared with the upper host
// stack: connection speeds, port status, SETUP packets, and endpoint
// descriptors.
package hal
