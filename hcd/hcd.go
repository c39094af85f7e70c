package hcd

import (
	"math/bits"

	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

// EventHandler is the upper host stack's notification contract. Every
// callback is invoked from interrupt context and must not block; callers
// needing synchronous semantics build them on top with a wait primitive
// woken by the notification.
type EventHandler interface {
	// OnTransferComplete reports that a transfer which requested a
	// completion interrupt has retired on the pipe.
	OnTransferComplete(pipe PipeHandle, classCode uint8)

	// OnTransferError reports a transaction error on the pipe. Errors are
	// per-pipe and do not halt other pipes.
	OnTransferError(pipe PipeHandle, classCode uint8)

	// OnDeviceAttached reports a device connection on the controller's
	// root port, after the port reset, with the hardware-reported speed.
	OnDeviceAttached(controllerID uint8, speed hal.Speed)

	// OnDeviceDetached reports a device disconnection on the controller's
	// root port.
	OnDeviceDetached(controllerID uint8)
}

// Config sizes the driver's descriptor arenas. Arenas are allocated once at
// New and never grow; all subsequent allocation is linear scan over the
// fixed slots.
type Config struct {
	// MaxDevices is the number of addressable device slots (1-127).
	MaxDevices int

	// QueueHeadsPerDevice sizes each device's bulk/interrupt queue head
	// arena. The dedicated control queue head is extra.
	QueueHeadsPerDevice int

	// TransferDescriptorsPerDevice sizes each device's shared transfer
	// descriptor arena. The three control-phase descriptors are extra.
	TransferDescriptorsPerDevice int

	// FrameListSize is the periodic frame list length; power of two.
	FrameListSize int
}

// DefaultConfig returns the driver's default arena sizing.
func DefaultConfig() Config {
	return Config{
		MaxDevices:                   8,
		QueueHeadsPerDevice:          8,
		TransferDescriptorsPerDevice: 16,
		FrameListSize:                256,
	}
}

// validate checks arena sizing constraints.
func (c Config) validate() error {
	if c.MaxDevices < 1 || c.MaxDevices > 127 {
		return pkg.ErrInvalidParameter
	}
	if c.QueueHeadsPerDevice < 1 || c.TransferDescriptorsPerDevice < 1 {
		return pkg.ErrInvalidParameter
	}
	if c.FrameListSize < 1 || bits.OnesCount(uint(c.FrameListSize)) != 1 {
		return pkg.ErrInvalidParameter
	}
	return nil
}

// deviceInfo is the driver's per-address view of a connected device,
// registered by the upper host stack during enumeration.
type deviceInfo struct {
	registered bool
	controller uint8
	speed      hal.Speed
	hubAddress uint8
	hubPort    uint8
}

// HCD is the host controller driver: per-controller schedule state plus the
// per-device descriptor arenas shared by all pipes of a device.
type HCD struct {
	cfg     Config
	handler EventHandler

	controllers []*Controller

	// devices is indexed by device address; index 0 is the enumeration
	// pseudo-address.
	devices []deviceInfo

	// pools is indexed by device address minus one.
	pools []*devicePool

	// addr0QTD serves control transfers on the enumeration pseudo-address,
	// which has no device pool of its own.
	addr0QTD [3]TransferDescriptor

	// maxScheduleNodes bounds every list traversal so a corrupted chain
	// cannot hang interrupt dispatch.
	maxScheduleNodes int
}

// New initializes the driver over the given controllers' register
// interfaces. Every controller is programmed and started before New
// returns; a controller that fails to initialize fails the whole driver.
func New(cfg Config, regs []hal.Registers, handler EventHandler) (*HCD, error) {
	if len(regs) == 0 || handler == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	h := &HCD{
		cfg:     cfg,
		handler: handler,
		devices: make([]deviceInfo, cfg.MaxDevices+1),
		pools:   make([]*devicePool, cfg.MaxDevices),
	}
	for slot := range h.pools {
		h.pools[slot] = newDevicePool(cfg, slot)
	}
	// Every queue head in the schedule plus the two permanent heads.
	h.maxScheduleNodes = cfg.MaxDevices*(cfg.QueueHeadsPerDevice+1) + 2

	for i, r := range regs {
		c := &Controller{id: uint8(i), regs: r}
		if err := c.init(cfg); err != nil {
			return nil, err
		}
		h.controllers = append(h.controllers, c)
	}

	pkg.LogInfo(pkg.ComponentController, "hcd initialized",
		"controllers", len(h.controllers),
		"devices", cfg.MaxDevices)
	return h, nil
}

// RegisterDevice records the connection attributes for a device address.
// The upper host stack calls this during enumeration, before opening pipes
// for the address; address 0 registers the enumeration pseudo-device.
func (h *HCD) RegisterDevice(address, controllerID uint8, speed hal.Speed, hubAddress, hubPort uint8) error {
	if int(address) >= len(h.devices) {
		return pkg.ErrInvalidParameter
	}
	if int(controllerID) >= len(h.controllers) {
		return pkg.ErrControllerID
	}
	h.devices[address] = deviceInfo{
		registered: true,
		controller: controllerID,
		speed:      speed,
		hubAddress: hubAddress,
		hubPort:    hubPort,
	}
	return nil
}

// DeviceRegistered reports whether a device is registered at the address.
func (h *HCD) DeviceRegistered(address uint8) bool {
	return int(address) < len(h.devices) && h.devices[address].registered
}

// PortReset drives the root port reset sequence on the controller.
func (h *HCD) PortReset(controllerID uint8) error {
	c, err := h.controller(controllerID)
	if err != nil {
		return err
	}
	return c.portReset()
}

// PortConnected reports whether a device is connected to the controller's
// root port.
func (h *HCD) PortConnected(controllerID uint8) bool {
	c, err := h.controller(controllerID)
	if err != nil {
		return false
	}
	return c.regs.ReadPortStatus().Connected
}

// StopController halts the controller's schedule traversal. A timeout here
// is fatal to the controller instance and is surfaced, never retried
// silently.
func (h *HCD) StopController(controllerID uint8) error {
	c, err := h.controller(controllerID)
	if err != nil {
		return err
	}
	return c.stop()
}

// ResetController resets the controller. Fatal on timeout, as with
// StopController.
func (h *HCD) ResetController(controllerID uint8) error {
	c, err := h.controller(controllerID)
	if err != nil {
		return err
	}
	return c.reset()
}

// controller returns the controller for the identifier.
func (h *HCD) controller(controllerID uint8) (*Controller, error) {
	if int(controllerID) >= len(h.controllers) {
		return nil, pkg.ErrControllerID
	}
	return h.controllers[controllerID], nil
}

// device returns the registered device info for the address.
func (h *HCD) device(address uint8) (*deviceInfo, error) {
	if int(address) >= len(h.devices) {
		return nil, pkg.ErrInvalidParameter
	}
	dev := &h.devices[address]
	if !dev.registered {
		return nil, pkg.ErrDeviceNotRegistered
	}
	return dev, nil
}

// pool returns the descriptor arena owning the device address.
func (h *HCD) pool(address uint8) *devicePool {
	return h.pools[address-1]
}

// controlQueueHead returns the control queue head for the address: the
// permanent async list head for address 0, the device's dedicated control
// queue head otherwise.
func (h *HCD) controlQueueHead(address uint8) *QueueHead {
	if address == 0 {
		return &h.controllers[h.devices[0].controller].asyncHead
	}
	return &h.pool(address).controlQH
}

// controlTransferDescriptors returns the three control-phase descriptors
// for the address.
func (h *HCD) controlTransferDescriptors(address uint8) *[3]TransferDescriptor {
	if address == 0 {
		return &h.addr0QTD
	}
	return &h.pool(address).controlQTD
}
