package hcd

import (
	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

// DeviceModel emulates the device side of the bus for the software engine:
// it answers the transactions the engine executes while walking the
// schedule lists.
type DeviceModel interface {
	// Setup receives a SETUP packet on the control endpoint.
	Setup(request hal.SetupPacket)

	// In fills buf with up to len(buf) bytes from the endpoint and
	// returns the count, or an error to fail the transaction.
	In(endpoint uint8, buf []byte) (int, error)

	// Out consumes data sent to the endpoint, or returns an error to
	// fail the transaction.
	Out(endpoint uint8, data []byte) error
}

// StatusSink receives the hardware-side effects the engine produces:
// pending interrupt status bits and async-advance doorbell completion.
// The sim register file implements it.
type StatusSink interface {
	// InjectStatus raises pending status bits.
	InjectStatus(bits hal.Status)

	// AdvanceDoorbell completes a requested async-advance doorbell,
	// raising its status bit. Returns true if a doorbell was pending.
	AdvanceDoorbell() bool
}

// Engine plays the hardware DMA agent's role in software: each Frame walks
// the asynchronous list and the periodic chain exactly as the controller
// would, executes pending transfer descriptors against a device model,
// maintains queue head overlays, and latches the resulting interrupt status
// into the register file. Tests and host-less development drive the
// scheduler end to end with it.
type Engine struct {
	hcd   *HCD
	ctrl  *Controller
	sink  StatusSink
	model DeviceModel
}

// NewEngine creates an engine for one controller of the driver.
func NewEngine(h *HCD, controllerID uint8, sink StatusSink, model DeviceModel) (*Engine, error) {
	c, err := h.controller(controllerID)
	if err != nil {
		return nil, err
	}
	if sink == nil || model == nil {
		return nil, pkg.ErrInvalidParameter
	}
	return &Engine{hcd: h, ctrl: c, sink: sink, model: model}, nil
}

// Frame performs one schedule pass: the asynchronous list once, then the
// periodic chain once, then doorbell completion. Status bits raised during
// the pass become pending in the register file.
func (e *Engine) Frame() {
	var raised hal.Status

	e.ctrl.mu.Lock()

	qh := &e.ctrl.asyncHead
	for i := 0; i < e.hcd.maxScheduleNodes; i++ {
		if qh.used && !qh.overlay.halted {
			raised |= e.executeQueueHead(qh, hal.StatusAsyncComplete)
		}
		next := qh.next.QH
		if qh.next.Terminate || next == nil || next == &e.ctrl.asyncHead {
			break
		}
		qh = next
	}

	link := e.ctrl.periodHead.next
	for i := 0; !link.Terminate && i < e.hcd.maxScheduleNodes; i++ {
		if link.Type != ElementQueueHead || link.QH == nil {
			break
		}
		pqh := link.QH
		if pqh.used && !pqh.overlay.halted {
			raised |= e.executeQueueHead(pqh, hal.StatusPeriodicComplete)
		}
		link = pqh.next
	}

	e.ctrl.mu.Unlock()

	if raised != 0 {
		e.sink.InjectStatus(raised)
	}

	// One full async pass is now complete; a requested doorbell may fire.
	e.sink.AdvanceDoorbell()
}

// Step runs one frame and then delivers the resulting interrupt.
func (e *Engine) Step() {
	e.Frame()
	e.hcd.ControllerISR(e.ctrl.id)
}

// executeQueueHead works the queue head's pending descriptors in order,
// mirroring each into the overlay, until the chain is exhausted or a
// transaction fails. Returns the status bits to latch.
func (e *Engine) executeQueueHead(qh *QueueHead, completeBit hal.Status) hal.Status {
	var raised hal.Status

	td := qh.qtdListHead
	for td != nil && !td.active { // skip retired, not yet reaped entries
		td = td.next
	}
	for td != nil && td.active {
		err := e.executeTransferDescriptor(qh, td)
		if err != nil {
			td.active = false
			td.halted = true
			td.transactErr = true
			qh.overlay.mirror(td)
			raised |= hal.StatusError
			pkg.LogDebug(pkg.ComponentSim, "transaction failed",
				"address", qh.deviceAddress,
				"endpoint", qh.endpointNumber,
				"error", err)
			break
		}
		td.active = false
		qh.overlay.mirror(td)
		if td.intOnComplete {
			raised |= completeBit
		}
		td = td.next
	}
	return raised
}

// executeTransferDescriptor performs one transaction against the device
// model.
func (e *Engine) executeTransferDescriptor(qh *QueueHead, td *TransferDescriptor) error {
	switch td.pid {
	case PIDSetup:
		var request hal.SetupPacket
		if !hal.ParseSetupPacket(td.buf, &request) {
			return pkg.ErrInvalidParameter
		}
		e.model.Setup(request)
	case PIDIn:
		n, err := e.model.In(qh.endpointNumber, td.buf[:td.totalBytes])
		if err != nil {
			return err
		}
		td.totalBytes -= n
	case PIDOut:
		if err := e.model.Out(qh.endpointNumber, td.buf[:td.totalBytes]); err != nil {
			return err
		}
		td.totalBytes = 0
	default:
		return pkg.ErrInvalidParameter
	}
	return nil
}
