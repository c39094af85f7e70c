package hcd

import (
	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

// ControllerISR is the controller's interrupt handler, invoked by the
// board's interrupt vector. It reads and acknowledges the status register
// (write-back of the read value clears the handled bits), then dispatches
// the pending events in a fixed order: transaction errors, asynchronous
// completions, periodic completions, port changes, and async-advance last.
// Async-advance must follow asynchronous-list processing so a queue head
// already drained of completed descriptors is the one reclaimed.
//
// The handler runs single-instance per controller and never blocks.
func (h *HCD) ControllerISR(controllerID uint8) {
	c, err := h.controller(controllerID)
	if err != nil {
		pkg.LogError(pkg.ComponentISR, "interrupt for unknown controller",
			"id", controllerID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	regs := c.regs
	status := regs.ReadStatus() & regs.InterruptMask()
	regs.AcknowledgeStatus(status) // write-back acknowledges handled bits

	if status == 0 {
		return
	}

	if status&hal.StatusError != 0 {
		h.transferErrorISR(c)
	}

	if status&hal.StatusAsyncComplete != 0 {
		h.asyncListProcessISR(c)
	}

	if status&hal.StatusPeriodicComplete != 0 {
		h.periodicListProcessISR(c)
	}

	if status&hal.StatusPortChange != 0 {
		port := regs.ReadPortStatus()
		if port.ConnectChange {
			h.portConnectChangeISR(c, port)
		}
		regs.AcknowledgePortChange()
	}

	if status&hal.StatusAsyncAdvance != 0 {
		h.asyncAdvanceISR(c)
	}
}

// transferErrorISR scans both schedule lists for queue heads whose overlay
// shows a transaction error and delivers an error notification for each.
// A halted overlay also counts for non-zero addresses; the enumeration
// pseudo-pipe at address 0 cannot legitimately STALL, so its halted bit is
// ignored here.
func (h *HCD) transferErrorISR(c *Controller) {
	qh := &c.asyncHead
	for i := 0; i < h.maxScheduleNodes; i++ {
		h.reportIfErrored(qh)
		next := qh.next.QH
		if qh.next.Terminate || next == nil || next == &c.asyncHead {
			break
		}
		qh = next
	}

	link := c.periodHead.next
	for i := 0; !link.Terminate && i < h.maxScheduleNodes; i++ {
		if link.Type != ElementQueueHead || link.QH == nil {
			pkg.LogError(pkg.ComponentISR, "unexpected periodic element",
				"type", link.Type)
			return
		}
		h.reportIfErrored(link.QH)
		link = link.QH.next
	}
}

// reportIfErrored delivers OnTransferError if the queue head's overlay
// carries an error condition.
func (h *HCD) reportIfErrored(qh *QueueHead) {
	if qh.overlay.transactionError() ||
		(qh.deviceAddress != 0 && qh.overlay.halted) {
		h.handler.OnTransferError(qh.pipeHandle(), qh.classCode)
	}
}

// asyncListProcessISR traverses the asynchronous list once, reaping
// completed descriptors from every non-halted queue head.
func (h *HCD) asyncListProcessISR(c *Controller) {
	qh := &c.asyncHead
	for i := 0; i < h.maxScheduleNodes; i++ {
		if !qh.overlay.halted {
			h.reapCompleted(qh)
		}
		next := qh.next.QH
		if qh.next.Terminate || next == nil || next == &c.asyncHead {
			break
		}
		qh = next
	}
}

// periodicListProcessISR walks the frame list's interrupt queue head chain,
// reaping completed descriptors. Isochronous elements are never scheduled
// by this driver; encountering one stops the walk rather than traversing
// unknown memory.
func (h *HCD) periodicListProcessISR(c *Controller) {
	link := c.periodHead.next
	for i := 0; !link.Terminate && i < h.maxScheduleNodes; i++ {
		if link.Type != ElementQueueHead || link.QH == nil {
			pkg.LogError(pkg.ComponentISR, "unexpected periodic element",
				"type", link.Type)
			return
		}
		qh := link.QH
		if !qh.overlay.halted {
			h.reapCompleted(qh)
		}
		link = qh.next
	}
}

// reapCompleted pops retired descriptors from the front of the queue head's
// pending list, notifying the upper layer once for each descriptor that
// requested a completion interrupt, then freeing the slot.
func (h *HCD) reapCompleted(qh *QueueHead) {
	for qh.qtdListHead != nil && !qh.qtdListHead.active {
		td := qh.qtdListHead
		if td.intOnComplete { // end of request
			h.handler.OnTransferComplete(qh.pipeHandle(), qh.classCode)
		}
		td.used = false
		qh.popTransferDescriptor()
	}
}

// portConnectChangeISR handles a root port connect-status change. On
// connect the port is reset and the upper layer is told the link speed; on
// disconnect the upper layer is notified and the async-advance doorbell is
// requested so the departed device's resources can be reclaimed safely
// (EHCI 4.8.2).
func (h *HCD) portConnectChangeISR(c *Controller, port hal.PortStatus) {
	if port.Connected {
		if err := c.portReset(); err != nil {
			pkg.LogError(pkg.ComponentISR, "port reset failed",
				"controller", c.id, "error", err)
			return
		}
		speed := c.regs.ReadPortStatus().Speed
		pkg.LogInfo(pkg.ComponentISR, "device attached",
			"controller", c.id, "speed", speed)
		h.handler.OnDeviceAttached(c.id, speed)
	} else {
		pkg.LogInfo(pkg.ComponentISR, "device detached", "controller", c.id)
		h.handler.OnDeviceDetached(c.id)
		c.regs.RequestAsyncAdvanceDoorbell()
	}
}

// asyncAdvanceISR finalizes deferred removals: the controller has completed
// a full pass of the asynchronous list since the doorbell was requested and
// holds no cached reference to any removed entry, so tagged queue heads may
// now be freed.
func (h *HCD) asyncAdvanceISR(c *Controller) {
	// Closing the control pipe of address 0: the permanent head stays on
	// the list, only its transfer state is cleared.
	if c.asyncHead.isRemoving {
		c.asyncHead.isRemoving = false
		c.asyncHead.qtdListHead = nil
		c.asyncHead.qtdListTail = nil
		c.asyncHead.overlay.halted = true
	}

	for address := 1; address <= h.cfg.MaxDevices; address++ {
		dev := &h.devices[address]
		if dev.registered && dev.controller != c.id {
			continue
		}
		pool := h.pools[address-1]

		// A removing control queue head means the whole device is being
		// torn down: free every descriptor it owns and mark the device
		// state removed.
		if pool.controlQH.isRemoving {
			pool.freeAll()
			dev.registered = false
			pkg.LogInfo(pkg.ComponentISR, "device resources reclaimed",
				"address", address)
			continue
		}

		// Individually closed bulk pipes are reclaimed here as well;
		// their descriptors are freed along with the queue head slot.
		for i := range pool.qh {
			qh := &pool.qh[i]
			if !qh.isRemoving || qh.xferType != hal.TransferBulk {
				continue
			}
			for qh.qtdListHead != nil {
				qh.qtdListHead.used = false
				qh.popTransferDescriptor()
			}
			qh.isRemoving = false
			qh.used = false
		}
	}
}
