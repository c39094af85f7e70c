package pkg

import "errors"

// Host controller driver errors.
var (
	// ErrNoQueueHead indicates the device's queue head pool is exhausted.
	ErrNoQueueHead = errors.New("no free queue head")

	// ErrNoTransferDescriptor indicates the device's transfer descriptor
	// pool is exhausted.
	ErrNoTransferDescriptor = errors.New("no free transfer descriptor")

	// ErrInvalidPipe indicates a malformed or unopened pipe handle.
	ErrInvalidPipe = errors.New("invalid pipe handle")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrControllerTimeout indicates a controller state transition
	// (run/stop/reset) did not complete within its frame budget.
	ErrControllerTimeout = errors.New("controller timeout")

	// ErrListCorrupt indicates a schedule list traversal did not find an
	// expected element before wrapping back to the list head.
	ErrListCorrupt = errors.New("schedule list corrupt")

	// ErrTransferTooLarge indicates a transfer exceeds the descriptor's
	// buffer page capacity.
	ErrTransferTooLarge = errors.New("transfer too large")

	// ErrDeviceNotRegistered indicates no device is registered at the
	// requested address.
	ErrDeviceNotRegistered = errors.New("device not registered")

	// ErrControllerID indicates an out-of-range controller identifier.
	ErrControllerID = errors.New("invalid controller id")
)

// BusEvent identifies the condition reported to the upper host layer for a
// pipe, delivered from interrupt context.
type BusEvent int

// Bus event values.
const (
	BusEventTransferComplete BusEvent = iota // Transfer finished successfully
	BusEventTransferError                    // Transaction error on the pipe
)

// String returns a string representation of the bus event.
func (e BusEvent) String() string {
	switch e {
	case BusEventTransferComplete:
		return "transfer complete"
	case BusEventTransferError:
		return "transfer error"
	default:
		return "unknown"
	}
}
