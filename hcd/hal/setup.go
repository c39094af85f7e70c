package hal

// SetupPacket represents a USB SETUP packet (USB 2.0 §9.3).
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes in the data phase
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// DirectionIn returns true if the data phase moves device to host.
func (s *SetupPacket) DirectionIn() bool {
	return s.RequestType&0x80 != 0
}

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// TransferType indicates the type of USB transfer.
type TransferType uint8

// Transfer type constants.
const (
	TransferControl     TransferType = 0 // Control transfer
	TransferIsochronous TransferType = 1 // Isochronous transfer
	TransferBulk        TransferType = 2 // Bulk transfer
	TransferInterrupt   TransferType = 3 // Interrupt transfer
)

// String returns a human-readable transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// EndpointDescriptor describes an endpoint as reported by the device's
// configuration descriptor.
type EndpointDescriptor struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointDescriptor) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the endpoint's transfer type.
func (e *EndpointDescriptor) TransferType() TransferType {
	return TransferType(e.Attributes & 0x03)
}
