package hal

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// Status is the controller's interrupt status word. The same bit positions
// are used for the interrupt enable mask. A handled status bit is
// acknowledged by writing the read value back; this is the only supported
// acknowledgment protocol for the hardware.
type Status uint32

// Interrupt status bits.
const (
	StatusError            Status = 1 << 1  // Transaction error on some queue head
	StatusPortChange       Status = 1 << 2  // Root port connect status changed
	StatusAsyncAdvance     Status = 1 << 5  // Async schedule advanced past doorbell
	StatusHalted           Status = 1 << 12 // Controller has stopped
	StatusAsyncComplete    Status = 1 << 18 // Async transfer with IOC retired
	StatusPeriodicComplete Status = 1 << 19 // Periodic transfer with IOC retired
)

// StatusInterruptMask covers every interrupt source the scheduler handles.
const StatusInterruptMask = StatusError | StatusPortChange | StatusAsyncAdvance |
	StatusAsyncComplete | StatusPeriodicComplete

// PortStatus represents the status of the controller's root port.
type PortStatus struct {
	Connected       bool  // Device is connected
	ConnectChange   bool  // Connection status has changed
	Enabled         bool  // Port is enabled
	PowerOn         bool  // Port has power applied
	ResetInProgress bool  // Port reset sequence has not yet completed
	Speed           Speed // Connected device speed as reported by hardware
}

// Registers is the scheduler's contract with the host controller's
// memory-mapped operational registers.
//
// Methods must not block; state transitions that take hardware time (stop,
// reset, port reset) are observed by polling the corresponding query method.
type Registers interface {
	// SetInterruptMask enables the given interrupt sources and disables
	// all others.
	SetInterruptMask(mask Status)

	// InterruptMask returns the currently enabled interrupt sources.
	InterruptMask() Status

	// ReadStatus returns the pending interrupt status bits.
	ReadStatus() Status

	// AcknowledgeStatus clears the given pending status bits (write-back
	// of a previously read value).
	AcknowledgeStatus(ack Status)

	// SetAsyncListBase programs the bus address of the asynchronous list
	// head queue head.
	SetAsyncListBase(addr uint32)

	// SetPeriodicListBase programs the bus address of the periodic frame
	// list. Zero disables the periodic schedule.
	SetPeriodicListBase(addr uint32)

	// SetRun starts or stops the controller's schedule traversal.
	SetRun(run bool)

	// Halted reports whether the controller has come to a stop after
	// SetRun(false).
	Halted() bool

	// TriggerReset initiates a host controller reset.
	TriggerReset()

	// ResetDone reports whether a triggered reset has completed.
	ResetDone() bool

	// ReadPortStatus returns the current root port status.
	ReadPortStatus() PortStatus

	// AcknowledgePortChange clears the port's change-detection bits.
	AcknowledgePortChange()

	// StartPortReset disables the port and begins the port reset
	// sequence. Completion is observed via ReadPortStatus.
	StartPortReset()

	// SetPortPower applies or removes port power.
	SetPortPower(on bool)

	// RequestAsyncAdvanceDoorbell asks the controller to raise
	// StatusAsyncAdvance once it has completed a full traversal of the
	// asynchronous list, guaranteeing it no longer caches removed
	// entries.
	RequestAsyncAdvanceDoorbell()
}
