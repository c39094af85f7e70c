package hcd

import (
	"time"

	"github.com/ardnew/ehcihost/hcd/hal"
)

// QueueHead represents one logical pipe: its endpoint identity, scheduling
// metadata, the software list of pending transfer descriptors, and the
// overlay region mirroring the currently executing descriptor.
//
// A queue head is created when a pipe is opened and lives until the pipe is
// closed. It must never be reclaimed while the hardware may still hold a
// cached reference to it; see the removal protocol in ClosePipe and the
// async-advance interrupt handler.
type QueueHead struct {
	// Pipe identity.
	deviceAddress  uint8
	endpointNumber uint8
	endpointSpeed  hal.Speed
	maxPacketSize  uint16
	xferType       hal.TransferType
	classCode      uint8
	pidNonControl  PID // Fixed transfer direction for bulk/interrupt pipes

	// Scheduling metadata.
	dataToggleControl bool  // Toggle comes from each qTD (control pipes)
	headListFlag      bool  // This is the permanent async list head
	nonHSControl      bool  // Full/low-speed control endpoint behind a HS hub
	nakCountReload    uint8
	hubAddress        uint8
	hubPort           uint8
	mult              uint8 // High-bandwidth multiplier (always 1)
	interruptSmask    uint8 // Microframe start-split schedule mask
	interruptCmask    uint8 // Microframe complete-split mask (non-HS only)

	// overlay mirrors the currently executing transfer descriptor. The
	// hardware reads and writes this directly; it is the live transaction
	// state of the pipe.
	overlay TransferDescriptor

	// next is the horizontal link into the enclosing schedule list.
	next Link

	// Software-owned bookkeeping of pending descriptors.
	qtdListHead *TransferDescriptor
	qtdListTail *TransferDescriptor

	used       bool
	isRemoving bool
	removedAt  time.Time // When a periodic queue head was unlinked

	// busAddress is the synthetic 32-byte aligned address presented to
	// the hardware register interface; poolIndex is the slot within the
	// owning device's arena.
	busAddress uint32
	poolIndex  uint8
}

// init configures the queue head for a freshly opened pipe. dev supplies the
// connection attributes the upper host stack registered for deviceAddress.
func (qh *QueueHead) init(dev *deviceInfo, deviceAddress uint8, maxPacketSize uint16, endpointAddress uint8, xfer hal.TransferType) {
	// Address 0 reuses the permanent async list head, which is always on
	// the list and must keep its link and head flag intact.
	if deviceAddress != 0 {
		busAddr, index := qh.busAddress, qh.poolIndex
		*qh = QueueHead{busAddress: busAddr, poolIndex: index}
	}

	qh.deviceAddress = deviceAddress
	qh.endpointNumber = endpointAddress & 0x0F
	qh.endpointSpeed = dev.speed
	qh.maxPacketSize = maxPacketSize
	qh.xferType = xfer
	qh.dataToggleControl = xfer == hal.TransferControl
	qh.headListFlag = deviceAddress == 0 // addr 0 is the permanent list head
	qh.nonHSControl = xfer == hal.TransferControl && dev.speed != hal.SpeedHigh
	qh.nakCountReload = 0

	// Bulk/control pipes carry no schedule masks.
	qh.interruptSmask = 0
	qh.interruptCmask = 0
	if xfer == hal.TransferInterrupt {
		if dev.speed == hal.SpeedHigh {
			// High speed: schedule in every microframe; cmask is
			// ignored by the controller.
			qh.interruptSmask = smaskAllMicroframes
		} else {
			// Full/low speed: start-split in the first microframe,
			// complete-split at microframes 2-4.
			qh.interruptSmask = smaskFirstMicroframe
		}
		qh.interruptCmask = splitCompleteMask
	}

	qh.hubAddress = dev.hubAddress
	qh.hubPort = dev.hubPort
	qh.mult = 1 // High-bandwidth and park mode unused

	// Active with an empty descriptor chain.
	qh.overlay = TransferDescriptor{}
	qh.overlay.next = nil

	qh.used = true
	qh.isRemoving = false
	qh.qtdListHead = nil
	qh.qtdListTail = nil
	if endpointAddress&0x80 != 0 {
		qh.pidNonControl = PIDIn
	} else {
		qh.pidNonControl = PIDOut
	}
}

// attachTransferDescriptor appends td to the pending list. When td becomes
// the only entry, the overlay's next pointer is written so the controller
// picks it up on its next visit; the descriptor must be fully initialized
// before this call.
func (qh *QueueHead) attachTransferDescriptor(td *TransferDescriptor) {
	if qh.qtdListHead == nil {
		qh.qtdListHead = td
		qh.qtdListTail = td
		qh.overlay.next = td
	} else {
		qh.qtdListTail.next = td
		qh.qtdListTail = td
	}
}

// popTransferDescriptor removes the first pending descriptor.
func (qh *QueueHead) popTransferDescriptor() {
	if qh.qtdListHead == qh.qtdListTail {
		qh.qtdListHead = nil
		qh.qtdListTail = nil
	} else {
		qh.qtdListHead = qh.qtdListHead.next
	}
}

// pipeHandle derives the notification handle for this queue head. Endpoint
// zero maps to the device's control pipe handle.
func (qh *QueueHead) pipeHandle() PipeHandle {
	h := PipeHandle{deviceAddress: qh.deviceAddress, xferType: hal.TransferControl}
	if qh.endpointNumber != 0 {
		h.xferType = qh.xferType
		h.index = qh.poolIndex
	}
	return h
}
