// Package sim provides a pure-software implementation of the hal.Registers
// contract for tests and host-less development.
//
// The simulated controller keeps an ordinary register file in memory and
// exposes helper methods (Connect, Disconnect, InjectStatus, AdvanceDoorbell)
// to play the hardware's role in a deterministic, single-threaded fashion.
// Port resets and controller resets complete immediately.
package sim

import (
	"sync"

	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

// Controller is a simulated EHCI register file.
type Controller struct {
	mu sync.Mutex

	intMask      hal.Status
	status       hal.Status
	asyncBase    uint32
	periodicBase uint32
	running      bool
	resetDone    bool

	port          hal.PortStatus
	doorbellArmed bool
}

// New creates a simulated controller with all registers cleared.
func New() *Controller {
	return &Controller{resetDone: true}
}

var _ hal.Registers = (*Controller)(nil)

// SetInterruptMask enables the given interrupt sources.
func (c *Controller) SetInterruptMask(mask hal.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intMask = mask
}

// InterruptMask returns the enabled interrupt sources.
func (c *Controller) InterruptMask() hal.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intMask
}

// ReadStatus returns the pending status bits.
func (c *Controller) ReadStatus() hal.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AcknowledgeStatus clears the given pending status bits.
func (c *Controller) AcknowledgeStatus(ack hal.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status &^= ack
}

// SetAsyncListBase programs the async list head bus address.
func (c *Controller) SetAsyncListBase(addr uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asyncBase = addr
}

// SetPeriodicListBase programs the periodic frame list bus address.
func (c *Controller) SetPeriodicListBase(addr uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.periodicBase = addr
}

// SetRun starts or stops schedule traversal. Stopping halts immediately.
func (c *Controller) SetRun(run bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = run
}

// Halted reports whether the controller is stopped.
func (c *Controller) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running
}

// TriggerReset resets the register file. The reset completes immediately.
func (c *Controller) TriggerReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intMask = 0
	c.status = 0
	c.asyncBase = 0
	c.periodicBase = 0
	c.running = false
	c.doorbellArmed = false
	c.port = hal.PortStatus{}
	c.resetDone = true
	pkg.LogDebug(pkg.ComponentSim, "controller reset")
}

// ResetDone reports whether a triggered reset has completed.
func (c *Controller) ResetDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetDone
}

// ReadPortStatus returns the current root port status.
func (c *Controller) ReadPortStatus() hal.PortStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

// AcknowledgePortChange clears the port's change-detection bits.
func (c *Controller) AcknowledgePortChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port.ConnectChange = false
}

// StartPortReset disables the port and completes the reset sequence
// immediately, enabling the port if a device is connected.
func (c *Controller) StartPortReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port.Enabled = false
	c.port.ResetInProgress = false
	if c.port.Connected {
		c.port.Enabled = true
	}
	pkg.LogDebug(pkg.ComponentSim, "port reset", "enabled", c.port.Enabled)
}

// SetPortPower applies or removes port power.
func (c *Controller) SetPortPower(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port.PowerOn = on
}

// RequestAsyncAdvanceDoorbell arms the async advance doorbell. The
// corresponding status bit is raised by the next AdvanceDoorbell call,
// standing in for the hardware's full traversal of the async list.
func (c *Controller) RequestAsyncAdvanceDoorbell() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doorbellArmed = true
}

// Simulation helpers; these play the hardware's role and are not part of
// the hal.Registers contract.

// Connect attaches a device at the given speed and raises a port-change
// interrupt.
func (c *Controller) Connect(speed hal.Speed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port.Connected = true
	c.port.ConnectChange = true
	c.port.Speed = speed
	c.status |= hal.StatusPortChange
}

// Disconnect detaches the device and raises a port-change interrupt.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.port.Connected = false
	c.port.Enabled = false
	c.port.ConnectChange = true
	c.port.Speed = hal.SpeedUnknown
	c.status |= hal.StatusPortChange
}

// InjectStatus raises the given pending status bits.
func (c *Controller) InjectStatus(bits hal.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status |= bits
}

// AdvanceDoorbell raises StatusAsyncAdvance if the doorbell was requested,
// modeling completion of one full async list traversal. Returns true if the
// doorbell fired.
func (c *Controller) AdvanceDoorbell() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.doorbellArmed {
		return false
	}
	c.doorbellArmed = false
	c.status |= hal.StatusAsyncAdvance
	return true
}

// DoorbellArmed reports whether an async advance doorbell is pending.
func (c *Controller) DoorbellArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doorbellArmed
}

// AsyncListBase returns the programmed async list head bus address.
func (c *Controller) AsyncListBase() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asyncBase
}

// PeriodicListBase returns the programmed periodic frame list bus address.
func (c *Controller) PeriodicListBase() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.periodicBase
}
