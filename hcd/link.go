package hcd

// Link is the software form of a schedule list link: a tagged reference to
// the next element, or a terminator. Using an explicit tagged type keeps the
// ownership transition of list nodes visible to software; the hardware's
// packed 32-bit encoding exists only at the register marshalling boundary
// (see Encode).
type Link struct {
	// Terminate marks the end of a chain; the hardware stops traversal
	// here. A terminated link references no element.
	Terminate bool

	// Type discriminates the referenced schedule element. This driver
	// only ever links queue heads.
	Type ElementType

	// QH is the referenced queue head when Type is ElementQueueHead and
	// Terminate is clear.
	QH *QueueHead
}

// terminateLink returns a link marking the end of a chain.
func terminateLink() Link {
	return Link{Terminate: true}
}

// queueHeadLink returns a link referencing the given queue head.
func queueHeadLink(qh *QueueHead) Link {
	return Link{Type: ElementQueueHead, QH: qh}
}

// Hardware link pointer layout (EHCI 3.x): bit 0 terminate, bits 2:1
// element type, bits 31:5 the 32-byte aligned bus address.
const (
	linkTerminateBit = 0x1
	linkTypeShift    = 1
	linkAddressMask  = 0xFFFFFFE0
)

// Encode packs the link into the controller's 32-bit horizontal link
// pointer format using the referenced element's bus address.
func (l Link) Encode() uint32 {
	if l.Terminate || l.QH == nil {
		return linkTerminateBit
	}
	return (l.QH.busAddress & linkAddressMask) | uint32(l.Type)<<linkTypeShift
}
