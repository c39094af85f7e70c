package hcd

import (
	"sync"
	"time"

	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

// Controller holds one physical host controller's scheduling state: its
// register interface, the permanent asynchronous list head, and the
// periodic frame list with its shared dummy head. Controllers are built
// once at driver init and live for the process lifetime.
type Controller struct {
	id   uint8
	regs hal.Registers

	// asyncHead anchors the circular asynchronous list. It doubles as the
	// control queue head for address 0 during enumeration and is never
	// removed from the list.
	asyncHead QueueHead

	// periodHead is the dummy queue head every frame list slot resolves
	// to; interrupt pipes chain off it.
	periodHead QueueHead

	// frameList has one link per frame, power-of-two sized.
	frameList []Link

	// mu is the critical section covering list pointer splices. It stands
	// in for masking this controller's interrupt source: the interrupt
	// dispatcher and any mainline operation that mutates a schedule list
	// hold it for the minimal splice window.
	mu sync.Mutex
}

// ID returns the controller's identifier.
func (c *Controller) ID() uint8 {
	return c.id
}

// init programs the controller's operational registers and stands up both
// schedule lists, then starts schedule traversal and applies port power.
func (c *Controller) init(cfg Config) error {
	regs := c.regs

	// Quiesce interrupts, clear stale status, then enable the sources the
	// dispatcher handles.
	regs.SetInterruptMask(0)
	regs.AcknowledgeStatus(hal.StatusInterruptMask | hal.StatusHalted)
	regs.SetInterruptMask(hal.StatusInterruptMask)

	// Asynchronous list: circular, the head links to itself.
	c.asyncHead = QueueHead{busAddress: asyncHeadAddress(c.id)}
	c.asyncHead.headListFlag = true
	c.asyncHead.used = true
	c.asyncHead.next = queueHeadLink(&c.asyncHead)
	c.asyncHead.overlay.halted = true // dummy head, inactive most of the time
	regs.SetAsyncListBase(c.asyncHead.busAddress)

	// Periodic frame list: every slot resolves to the shared dummy head,
	// which terminates the chain.
	c.periodHead = QueueHead{busAddress: periodHeadAddress(c.id)}
	c.periodHead.used = true
	c.periodHead.interruptSmask = smaskFirstMicroframe // periodic QH must carry a non-zero smask
	c.periodHead.next = terminateLink()
	c.periodHead.overlay.halted = true
	c.frameList = make([]Link, cfg.FrameListSize)
	for i := range c.frameList {
		c.frameList[i] = queueHeadLink(&c.periodHead)
	}
	regs.SetPeriodicListBase(frameListAddress(c.id))

	regs.SetRun(true)
	regs.SetPortPower(true)

	pkg.LogInfo(pkg.ComponentController, "controller initialized",
		"id", c.id,
		"frames", cfg.FrameListSize)
	return nil
}

// stop halts schedule traversal, polling until the controller reports
// halted or the frame budget expires.
func (c *Controller) stop() error {
	c.regs.SetRun(false)
	if err := waitHardware(controllerStopBudget, c.regs.Halted); err != nil {
		pkg.LogError(pkg.ComponentController, "controller failed to halt", "id", c.id)
		return err
	}
	return nil
}

// reset issues a host controller reset and polls for completion.
func (c *Controller) reset() error {
	c.regs.TriggerReset()
	if err := waitHardware(controllerStopBudget, c.regs.ResetDone); err != nil {
		pkg.LogError(pkg.ComponentController, "controller reset timed out", "id", c.id)
		return err
	}
	return nil
}

// portReset drives the root port reset sequence and polls for completion.
// The port is disabled before the reset per the controller's rule; hardware
// re-enables it when the sequence finishes with a device present.
func (c *Controller) portReset() error {
	c.regs.StartPortReset()
	return waitHardware(portResetBudget, func() bool {
		return !c.regs.ReadPortStatus().ResetInProgress
	})
}

// waitHardware polls done until it reports true or the budget expires.
// Hardware state transitions are bounded, never waited on indefinitely.
func waitHardware(budget time.Duration, done func() bool) error {
	deadline := time.Now().Add(budget)
	for !done() {
		if time.Now().After(deadline) {
			return pkg.ErrControllerTimeout
		}
		time.Sleep(framePeriod / 16)
	}
	return nil
}
