package hcd

import (
	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

// TransferDescriptor describes one DMA transaction: a buffer split across
// page-sized chunks, the token PID, toggle and status bits, and a link to
// the next descriptor in the queue head's chain.
//
// A descriptor is hardware-owned from the moment it is linked into a queue
// head until its active bit clears or an error bit is set; software must not
// touch the execution fields in between.
type TransferDescriptor struct {
	// next links to the following descriptor in the chain; nil terminates.
	next *TransferDescriptor

	// Execution status, read and written by the hardware agent.
	active      bool // Transaction pending
	halted      bool // Serious error or STALL; queue head stops
	bufferErr   bool // Data buffer over/underrun
	babbleErr   bool // Device babbled beyond expected length
	transactErr bool // Transaction-level error (CRC, timeout, bad PID)
	pingState   bool // PING pre-check for high-speed bulk OUT (EHCI 4.11)

	pid           PID
	errorCount    uint8 // Remaining consecutive-error tolerance
	dataToggle    bool
	intOnComplete bool
	totalBytes    int // Bytes remaining; decremented by hardware

	// pages is the buffer split across page-aligned DMA pointer slots.
	pages [bufferPageCount][]byte

	// buf is the whole caller-supplied buffer (software view).
	buf []byte

	// Driver bookkeeping, invisible to hardware.
	used     bool
	setupPkt [hal.SetupPacketSize]byte // Backing store for the SETUP phase
}

// init prepares the descriptor for one transaction of totalBytes from buf.
// The caller sets PID, toggle, and interrupt-on-complete afterward. The
// alternate-next pointer of the hardware layout is always terminated and is
// not modeled.
func (td *TransferDescriptor) init(buf []byte, totalBytes int) error {
	if totalBytes > maxTransferBytes {
		return pkg.ErrTransferTooLarge
	}
	if totalBytes > len(buf) && totalBytes > 0 {
		return pkg.ErrInvalidParameter
	}
	*td = TransferDescriptor{
		used:       true,
		active:     true,
		errorCount: defaultErrorRetries,
		totalBytes: totalBytes,
		buf:        buf,
	}

	// Split the buffer across page-sized chunks so each pointer slot
	// references at most one page.
	for i, off := 0, 0; i < bufferPageCount && off < totalBytes; i++ {
		end := off + bufferPageSize
		if end > totalBytes {
			end = totalBytes
		}
		td.pages[i] = buf[off:end]
		off = end
	}
	return nil
}

// setupBuffer returns the descriptor's private 8-byte SETUP packet store.
func (td *TransferDescriptor) setupBuffer() []byte {
	return td.setupPkt[:]
}

// transactionError reports whether the descriptor carries a transaction
// error condition.
func (td *TransferDescriptor) transactionError() bool {
	return td.bufferErr || td.babbleErr || td.transactErr
}

// mirror copies the execution state of src into td. The hardware agent uses
// this to maintain the queue head overlay while it works a descriptor.
func (td *TransferDescriptor) mirror(src *TransferDescriptor) {
	td.active = src.active
	td.halted = src.halted
	td.bufferErr = src.bufferErr
	td.babbleErr = src.babbleErr
	td.transactErr = src.transactErr
	td.pingState = src.pingState
	td.pid = src.pid
	td.errorCount = src.errorCount
	td.dataToggle = src.dataToggle
	td.intOnComplete = src.intOnComplete
	td.totalBytes = src.totalBytes
	td.next = src.next
}
