package hcd

import "time"

// PID selects the token packet type for a transaction.
type PID uint8

// Transaction PIDs, encoded as the controller expects them.
const (
	PIDOut   PID = 0 // OUT token (host to device)
	PIDIn    PID = 1 // IN token (device to host)
	PIDSetup PID = 2 // SETUP token (control transfers only)
)

// String returns a human-readable PID name.
func (p PID) String() string {
	switch p {
	case PIDOut:
		return "OUT"
	case PIDIn:
		return "IN"
	case PIDSetup:
		return "SETUP"
	default:
		return "unknown"
	}
}

// ElementType is the schedule element discriminant carried in the low bits
// of a hardware link pointer.
type ElementType uint8

// Schedule element types (EHCI Table 3-8).
const (
	ElementIsochronous      ElementType = 0 // iTD, not scheduled by this driver
	ElementQueueHead        ElementType = 1 // QH
	ElementSplitIsochronous ElementType = 2 // siTD, not scheduled by this driver
	ElementFrameSpanNode    ElementType = 3 // FSTN, not scheduled by this driver
)

// String returns a human-readable element type name.
func (t ElementType) String() string {
	switch t {
	case ElementIsochronous:
		return "iTD"
	case ElementQueueHead:
		return "QH"
	case ElementSplitIsochronous:
		return "siTD"
	case ElementFrameSpanNode:
		return "FSTN"
	default:
		return "unknown"
	}
}

const (
	// bufferPageSize is the DMA buffer page granularity.
	bufferPageSize = 4096

	// bufferPageCount is the number of buffer pointer slots per transfer
	// descriptor.
	bufferPageCount = 5

	// maxTransferBytes is the largest single transfer a descriptor can
	// carry across its buffer pages.
	maxTransferBytes = bufferPageCount * bufferPageSize

	// defaultErrorRetries is the consecutive-error tolerance programmed
	// into each transfer descriptor.
	defaultErrorRetries = 3

	// framePeriod is the USB full-speed frame period.
	framePeriod = time.Millisecond

	// controllerStopBudget bounds run/stop and reset transitions. The USB
	// spec requires the controller to halt within 16 microframes.
	controllerStopBudget = 2 * framePeriod

	// portResetBudget bounds the port reset sequence (USB 2.0 requires a
	// 50 ms reset drive on root ports).
	portResetBudget = 60 * framePeriod

	// smaskAllMicroframes schedules a high-speed interrupt endpoint in
	// every microframe.
	smaskAllMicroframes = 0xFF

	// smaskFirstMicroframe schedules a full/low-speed interrupt endpoint
	// in the first microframe only.
	smaskFirstMicroframe = 0x01

	// splitCompleteMask schedules complete-split transactions at
	// microframes 2-4 for full/low-speed interrupt endpoints behind a
	// high-speed hub (EHCI 4.12.2.1 case 1).
	splitCompleteMask = 0x1C
)
