package hcd

import (
	"time"

	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

// PipeHandle identifies an open pipe. It is an opaque lookup key, not an
// owning reference: the queue head itself owns the pipe state.
type PipeHandle struct {
	deviceAddress uint8
	xferType      hal.TransferType
	index         uint8
}

// DeviceAddress returns the pipe's device address.
func (p PipeHandle) DeviceAddress() uint8 {
	return p.deviceAddress
}

// TransferType returns the pipe's transfer type.
func (p PipeHandle) TransferType() hal.TransferType {
	return p.xferType
}

// OpenControl opens the control pipe for a device address. Address 0, the
// enumeration pseudo-address, reuses the permanent asynchronous list head
// as its queue head; all other addresses take their dedicated control queue
// head and are inserted into the asynchronous list.
func (h *HCD) OpenControl(address uint8, maxPacketSize uint16) error {
	dev, err := h.device(address)
	if err != nil {
		return err
	}

	qh := h.controlQueueHead(address)
	qh.init(dev, address, maxPacketSize, 0, hal.TransferControl)

	if address != 0 {
		c := h.controllers[dev.controller]
		c.mu.Lock()
		listInsert(&c.asyncHead, qh, ElementQueueHead)
		c.mu.Unlock()
	}

	pkg.LogDebug(pkg.ComponentPipe, "control pipe opened",
		"address", address,
		"maxPacket", maxPacketSize)
	return nil
}

// ControlTransfer builds the three-phase descriptor chain for a control
// request and attaches it to the control queue head. The SETUP phase
// carries the 8-byte request; the DATA phase exists only when the request
// has a data stage; the STATUS phase is zero length, runs in the direction
// opposite the data stage, and raises the completion interrupt.
//
// Completion is signaled asynchronously through OnTransferComplete; this
// call never blocks waiting for hardware.
func (h *HCD) ControlTransfer(address uint8, request *hal.SetupPacket, data []byte) error {
	dev, err := h.device(address)
	if err != nil {
		return err
	}
	if request == nil {
		return pkg.ErrInvalidParameter
	}
	if int(request.Length) > len(data) {
		return pkg.ErrInvalidParameter
	}

	qh := h.controlQueueHead(address)
	if !qh.used {
		return pkg.ErrInvalidPipe
	}

	tds := h.controlTransferDescriptors(address)
	setup, dataTD, status := &tds[0], &tds[1], &tds[2]

	// SETUP phase: fixed 8 bytes, SETUP PID, toggle 0.
	if err := setup.init(setup.setupBuffer(), hal.SetupPacketSize); err != nil {
		return err
	}
	request.MarshalTo(setup.setupBuffer())
	setup.pid = PIDSetup

	last := setup
	if request.Length > 0 {
		// DATA phase: direction from the request, toggle forced to 1.
		if err := dataTD.init(data, int(request.Length)); err != nil {
			return err
		}
		dataTD.dataToggle = true
		if request.DirectionIn() {
			dataTD.pid = PIDIn
		} else {
			dataTD.pid = PIDOut
		}
		setup.next = dataTD
		last = dataTD
	}

	// STATUS phase: zero length, toggle 1, direction reversed from the
	// data phase, completion interrupt set.
	if err := status.init(nil, 0); err != nil {
		return err
	}
	status.intOnComplete = true
	status.dataToggle = true
	if request.DirectionIn() {
		status.pid = PIDOut
	} else {
		status.pid = PIDIn
	}
	last.next = status

	// Attach the chain to the queue head's software list and hardware
	// overlay in one step, under the controller's interrupt guard.
	c := h.controllers[dev.controller]
	c.mu.Lock()
	qh.qtdListHead = setup
	qh.qtdListTail = status
	qh.overlay.next = setup
	c.mu.Unlock()

	pkg.LogDebug(pkg.ComponentPipe, "control transfer submitted",
		"address", address,
		"request", request.Request,
		"length", request.Length)
	return nil
}

// CloseControl closes a device's control pipe. The queue head is tagged and
// unlinked; its slot is reclaimed only by the async-advance handshake. Safe
// to call only as part of an orderly device-removal sequence, never
// concurrently with an in-flight transfer on the same pipe.
func (h *HCD) CloseControl(address uint8) error {
	dev, err := h.device(address)
	if err != nil {
		return err
	}

	qh := h.controlQueueHead(address)
	if !qh.used {
		return pkg.ErrInvalidPipe
	}

	qh.isRemoving = true

	if address != 0 {
		c := h.controllers[dev.controller]
		c.mu.Lock()
		err = listRemove(&c.asyncHead, qh, h.maxScheduleNodes)
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}

	pkg.LogDebug(pkg.ComponentPipe, "control pipe closing", "address", address)
	return nil
}

// OpenPipe opens a bulk or interrupt pipe for an endpoint of a registered
// device. Isochronous endpoints are not supported. The returned handle
// encodes the queue head's pool slot.
func (h *HCD) OpenPipe(address uint8, endpoint *hal.EndpointDescriptor, classCode uint8) (PipeHandle, error) {
	if address == 0 || endpoint == nil {
		return PipeHandle{}, pkg.ErrInvalidParameter
	}
	dev, err := h.device(address)
	if err != nil {
		return PipeHandle{}, err
	}

	xfer := endpoint.TransferType()
	if xfer == hal.TransferIsochronous {
		return PipeHandle{}, pkg.ErrNotSupported
	}

	qh := h.pool(address).findFreeQueueHead()
	if qh == nil {
		return PipeHandle{}, pkg.ErrNoQueueHead
	}

	qh.init(dev, address, endpoint.MaxPacketSize, endpoint.Address, xfer)
	qh.classCode = classCode

	c := h.controllers[dev.controller]
	var anchor *QueueHead
	if xfer == hal.TransferBulk {
		anchor = &c.asyncHead
	} else {
		anchor = &c.periodHead
	}

	c.mu.Lock()
	listInsert(anchor, qh, ElementQueueHead)
	c.mu.Unlock()

	pkg.LogDebug(pkg.ComponentPipe, "pipe opened",
		"address", address,
		"endpoint", endpoint.Number(),
		"type", xfer)
	return PipeHandle{deviceAddress: address, xferType: xfer, index: qh.poolIndex}, nil
}

// PipeTransfer submits one transfer on an open bulk or interrupt pipe. The
// buffer is split across the descriptor's page-aligned pointer slots; the
// transaction direction is the endpoint's fixed PID. High-speed bulk OUT
// transfers run the PING flow-control pre-check required by the controller.
func (h *HCD) PipeTransfer(handle PipeHandle, buffer []byte, interruptOnComplete bool) error {
	qh, err := h.queueHeadFromHandle(handle)
	if err != nil {
		return err
	}
	dev, err := h.device(handle.deviceAddress)
	if err != nil {
		return err
	}

	td := h.pool(handle.deviceAddress).findFreeTransferDescriptor()
	if td == nil {
		return pkg.ErrNoTransferDescriptor
	}

	if err := td.init(buffer, len(buffer)); err != nil {
		return err
	}
	td.pid = qh.pidNonControl
	td.intOnComplete = interruptOnComplete
	// PING pre-check for high-speed bulk OUT, EHCI section 4.11.
	if handle.xferType == hal.TransferBulk &&
		qh.endpointSpeed == hal.SpeedHigh && td.pid == PIDOut {
		td.pingState = true
	}

	c := h.controllers[dev.controller]
	c.mu.Lock()
	qh.attachTransferDescriptor(td)
	c.mu.Unlock()

	pkg.LogDebug(pkg.ComponentPipe, "transfer submitted",
		"address", handle.deviceAddress,
		"type", handle.xferType,
		"bytes", len(buffer))
	return nil
}

// ClosePipe closes a bulk or interrupt pipe. The queue head is tagged and
// unlinked from its schedule list; asynchronous entries wait for the
// async-advance handshake before their slot is reusable, periodic entries
// become reusable one frame period after unlinking. Safe to call only as
// part of an orderly device-removal sequence.
func (h *HCD) ClosePipe(handle PipeHandle) error {
	qh, err := h.queueHeadFromHandle(handle)
	if err != nil {
		return err
	}
	dev, err := h.device(handle.deviceAddress)
	if err != nil {
		return err
	}

	qh.isRemoving = true

	c := h.controllers[dev.controller]
	c.mu.Lock()
	if handle.xferType == hal.TransferBulk {
		err = listRemove(&c.asyncHead, qh, h.maxScheduleNodes)
	} else {
		err = listRemove(&c.periodHead, qh, h.maxScheduleNodes)
		qh.removedAt = time.Now()
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentPipe, "pipe closing",
		"address", handle.deviceAddress,
		"type", handle.xferType)
	return nil
}

// queueHeadFromHandle validates a pipe handle and resolves its queue head.
func (h *HCD) queueHeadFromHandle(handle PipeHandle) (*QueueHead, error) {
	if handle.deviceAddress == 0 || int(handle.deviceAddress) >= len(h.devices) {
		return nil, pkg.ErrInvalidPipe
	}
	if handle.xferType != hal.TransferBulk && handle.xferType != hal.TransferInterrupt {
		return nil, pkg.ErrInvalidPipe
	}
	pool := h.pool(handle.deviceAddress)
	if int(handle.index) >= len(pool.qh) {
		return nil, pkg.ErrInvalidPipe
	}
	qh := &pool.qh[handle.index]
	if !qh.used || qh.isRemoving ||
		qh.deviceAddress != handle.deviceAddress || qh.xferType != handle.xferType {
		return nil, pkg.ErrInvalidPipe
	}
	return qh, nil
}
