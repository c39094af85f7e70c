package hcd

import (
	"errors"
	"testing"

	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/pkg"
)

func TestOpenControl(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	if err := h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0); err != nil {
		t.Fatalf("RegisterDevice failed: %v", err)
	}

	if err := h.OpenControl(1, 64); err != nil {
		t.Fatalf("OpenControl failed: %v", err)
	}

	qh := &h.pool(1).controlQH
	if !qh.used || qh.deviceAddress != 1 || qh.maxPacketSize != 64 {
		t.Error("control queue head not initialized")
	}
	if !qh.dataToggleControl {
		t.Error("control pipe must take its toggle from each descriptor")
	}
	if qh.headListFlag {
		t.Error("non-zero address claims the list head flag")
	}

	// The queue head must be linked into the asynchronous list.
	c := h.controllers[0]
	if c.asyncHead.next.QH != qh {
		t.Error("control queue head not inserted after the async head")
	}
	if qh.next.QH != &c.asyncHead {
		t.Error("control queue head does not close the circle")
	}
}

func TestOpenControlAddressZero(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	if err := h.RegisterDevice(0, 0, hal.SpeedFull, 0, 0); err != nil {
		t.Fatalf("RegisterDevice failed: %v", err)
	}

	if err := h.OpenControl(0, 8); err != nil {
		t.Fatalf("OpenControl failed: %v", err)
	}

	c := h.controllers[0]
	qh := &c.asyncHead
	if qh.deviceAddress != 0 || qh.maxPacketSize != 8 {
		t.Error("async head not configured for the enumeration pipe")
	}
	if !qh.headListFlag {
		t.Error("async head lost its list head flag")
	}
	if qh.next.QH != qh {
		t.Error("async head lost its self link")
	}
	if qh.overlay.halted {
		t.Error("opened enumeration pipe still halted")
	}
}

func TestOpenControlUnregistered(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())

	if err := h.OpenControl(1, 64); !errors.Is(err, pkg.ErrDeviceNotRegistered) {
		t.Errorf("err = %v, want ErrDeviceNotRegistered", err)
	}
}

func TestOpenControlNonHighSpeed(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedLow, 2, 3)
	if err := h.OpenControl(1, 8); err != nil {
		t.Fatalf("OpenControl failed: %v", err)
	}

	qh := &h.pool(1).controlQH
	if !qh.nonHSControl {
		t.Error("low-speed control endpoint missing the split-control flag")
	}
	if qh.hubAddress != 2 || qh.hubPort != 3 {
		t.Error("hub routing attributes not carried over")
	}
}

func controlChain(t *testing.T, qh *QueueHead) []*TransferDescriptor {
	t.Helper()
	var chain []*TransferDescriptor
	for td := qh.qtdListHead; td != nil; td = td.next {
		chain = append(chain, td)
		if len(chain) > 4 {
			t.Fatal("descriptor chain does not terminate")
		}
	}
	return chain
}

func TestControlTransferThreePhases(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)
	h.OpenControl(1, 64)

	buf := make([]byte, 18)
	request := &hal.SetupPacket{
		RequestType: 0x80,
		Request:     0x06,
		Value:       0x0100,
		Length:      18,
	}
	if err := h.ControlTransfer(1, request, buf); err != nil {
		t.Fatalf("ControlTransfer failed: %v", err)
	}

	qh := &h.pool(1).controlQH
	chain := controlChain(t, qh)
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	setup, data, status := chain[0], chain[1], chain[2]

	if setup.pid != PIDSetup || setup.totalBytes != hal.SetupPacketSize {
		t.Error("SETUP phase malformed")
	}
	if setup.dataToggle {
		t.Error("SETUP phase toggle must be 0")
	}
	var parsed hal.SetupPacket
	if !hal.ParseSetupPacket(setup.buf, &parsed) || parsed != *request {
		t.Error("SETUP phase does not carry the marshalled request")
	}

	if data.pid != PIDIn || !data.dataToggle || data.totalBytes != 18 {
		t.Error("DATA phase malformed")
	}
	if data.intOnComplete {
		t.Error("DATA phase must not raise the completion interrupt")
	}

	// STATUS runs opposite the data stage, zero length, IOC set.
	if status.pid != PIDOut || !status.dataToggle || status.totalBytes != 0 {
		t.Error("STATUS phase malformed")
	}
	if !status.intOnComplete {
		t.Error("STATUS phase must raise the completion interrupt")
	}

	if qh.overlay.next != setup {
		t.Error("overlay does not point at the SETUP descriptor")
	}
	if qh.qtdListTail != status {
		t.Error("tail does not point at the STATUS descriptor")
	}
}

func TestControlTransferNoDataPhase(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)
	h.OpenControl(1, 64)

	// SET_ADDRESS has no data stage; STATUS runs IN.
	request := &hal.SetupPacket{Request: 0x05, Value: 7}
	if err := h.ControlTransfer(1, request, nil); err != nil {
		t.Fatalf("ControlTransfer failed: %v", err)
	}

	chain := controlChain(t, &h.pool(1).controlQH)
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if chain[0].pid != PIDSetup {
		t.Error("first phase is not SETUP")
	}
	if chain[1].pid != PIDIn || !chain[1].intOnComplete {
		t.Error("STATUS phase for an OUT request must run IN with IOC")
	}
}

func TestControlTransferErrors(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	request := &hal.SetupPacket{Length: 8}
	if err := h.ControlTransfer(1, request, make([]byte, 8)); !errors.Is(err, pkg.ErrInvalidPipe) {
		t.Errorf("unopened pipe: err = %v, want ErrInvalidPipe", err)
	}

	h.OpenControl(1, 64)
	if err := h.ControlTransfer(1, nil, nil); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("nil request: err = %v, want ErrInvalidParameter", err)
	}
	if err := h.ControlTransfer(1, request, make([]byte, 4)); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("short buffer: err = %v, want ErrInvalidParameter", err)
	}
}

func TestCloseControl(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)
	h.OpenControl(1, 64)

	if err := h.CloseControl(1); err != nil {
		t.Fatalf("CloseControl failed: %v", err)
	}

	qh := &h.pool(1).controlQH
	if !qh.isRemoving {
		t.Error("closing queue head not tagged for removal")
	}
	c := h.controllers[0]
	if c.asyncHead.next.QH != &c.asyncHead {
		t.Error("closed queue head still linked")
	}
	if qh.next.QH != &c.asyncHead {
		t.Error("closed queue head not steered back at the list head")
	}
}

func TestOpenPipe(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	endpoint := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}
	handle, err := h.OpenPipe(1, endpoint, 0x08)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	if handle.DeviceAddress() != 1 || handle.TransferType() != hal.TransferBulk {
		t.Errorf("handle = %+v", handle)
	}

	qh, err := h.queueHeadFromHandle(handle)
	if err != nil {
		t.Fatalf("handle does not resolve: %v", err)
	}
	if qh.endpointNumber != 1 || qh.pidNonControl != PIDIn {
		t.Error("endpoint identity not captured")
	}
	if qh.classCode != 0x08 {
		t.Error("class code not captured")
	}
	if qh.interruptSmask != 0 {
		t.Error("bulk pipe carries a schedule mask")
	}

	// Bulk pipes join the asynchronous list.
	if h.controllers[0].asyncHead.next.QH != qh {
		t.Error("bulk queue head not on the asynchronous list")
	}
}

func TestOpenPipeInterrupt(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)
	h.RegisterDevice(2, 0, hal.SpeedFull, 1, 2)

	endpoint := &hal.EndpointDescriptor{Address: 0x82, Attributes: 0x03, MaxPacketSize: 64, Interval: 10}

	hsHandle, err := h.OpenPipe(1, endpoint, 0x03)
	if err != nil {
		t.Fatalf("OpenPipe (high speed) failed: %v", err)
	}
	hsQH, _ := h.queueHeadFromHandle(hsHandle)
	if hsQH.interruptSmask != smaskAllMicroframes {
		t.Errorf("high-speed smask = %#x, want %#x", hsQH.interruptSmask, smaskAllMicroframes)
	}

	fsHandle, err := h.OpenPipe(2, endpoint, 0x03)
	if err != nil {
		t.Fatalf("OpenPipe (full speed) failed: %v", err)
	}
	fsQH, _ := h.queueHeadFromHandle(fsHandle)
	if fsQH.interruptSmask != smaskFirstMicroframe {
		t.Errorf("full-speed smask = %#x, want %#x", fsQH.interruptSmask, smaskFirstMicroframe)
	}
	if fsQH.interruptCmask != splitCompleteMask {
		t.Errorf("full-speed cmask = %#x, want %#x", fsQH.interruptCmask, splitCompleteMask)
	}

	// Interrupt pipes chain off the periodic dummy head.
	c := h.controllers[0]
	if c.periodHead.next.QH != fsQH {
		t.Error("interrupt queue head not on the periodic chain")
	}
	if fsQH.next.QH != hsQH || !hsQH.next.Terminate {
		t.Error("periodic chain order or termination wrong")
	}
}

func TestOpenPipeRejections(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	endpoint := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}
	if _, err := h.OpenPipe(0, endpoint, 0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("address 0: err = %v, want ErrInvalidParameter", err)
	}
	if _, err := h.OpenPipe(1, nil, 0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("nil endpoint: err = %v, want ErrInvalidParameter", err)
	}
	if _, err := h.OpenPipe(2, endpoint, 0); !errors.Is(err, pkg.ErrDeviceNotRegistered) {
		t.Errorf("unregistered: err = %v, want ErrDeviceNotRegistered", err)
	}

	iso := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x01, MaxPacketSize: 512}
	if _, err := h.OpenPipe(1, iso, 0); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("isochronous: err = %v, want ErrNotSupported", err)
	}
}

func TestOpenPipeExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueHeadsPerDevice = 2
	h, _, _ := newTestHCD(t, cfg)
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	endpoint := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}
	for i := 0; i < cfg.QueueHeadsPerDevice; i++ {
		if _, err := h.OpenPipe(1, endpoint, 0); err != nil {
			t.Fatalf("OpenPipe %d failed: %v", i, err)
		}
	}
	if _, err := h.OpenPipe(1, endpoint, 0); !errors.Is(err, pkg.ErrNoQueueHead) {
		t.Errorf("err = %v, want ErrNoQueueHead", err)
	}
}

func TestPipeTransferPing(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)
	h.RegisterDevice(2, 0, hal.SpeedFull, 0, 0)

	out := &hal.EndpointDescriptor{Address: 0x02, Attributes: 0x02, MaxPacketSize: 512}
	in := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}

	// High-speed bulk OUT runs the PING pre-check.
	handle, _ := h.OpenPipe(1, out, 0)
	if err := h.PipeTransfer(handle, []byte{1, 2, 3}, true); err != nil {
		t.Fatalf("PipeTransfer failed: %v", err)
	}
	qh, _ := h.queueHeadFromHandle(handle)
	if !qh.qtdListHead.pingState {
		t.Error("high-speed bulk OUT missing PING state")
	}
	if qh.qtdListHead.pid != PIDOut || !qh.qtdListHead.intOnComplete {
		t.Error("transfer token malformed")
	}

	// IN direction never pings.
	handle, _ = h.OpenPipe(1, in, 0)
	h.PipeTransfer(handle, make([]byte, 8), false)
	qh, _ = h.queueHeadFromHandle(handle)
	if qh.qtdListHead.pingState {
		t.Error("bulk IN must not set PING state")
	}

	// Full-speed bulk OUT never pings.
	handle, _ = h.OpenPipe(2, out, 0)
	h.PipeTransfer(handle, []byte{1}, false)
	qh, _ = h.queueHeadFromHandle(handle)
	if qh.qtdListHead.pingState {
		t.Error("full-speed bulk OUT must not set PING state")
	}
}

func TestPipeTransferQueueing(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	endpoint := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}
	handle, _ := h.OpenPipe(1, endpoint, 0)
	qh, _ := h.queueHeadFromHandle(handle)

	if err := h.PipeTransfer(handle, make([]byte, 8), false); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	first := qh.qtdListHead
	if qh.overlay.next != first {
		t.Error("first descriptor not handed to the overlay")
	}

	if err := h.PipeTransfer(handle, make([]byte, 8), true); err != nil {
		t.Fatalf("second transfer failed: %v", err)
	}
	if qh.qtdListHead != first || first.next != qh.qtdListTail {
		t.Error("second descriptor not appended behind the first")
	}
	if qh.overlay.next != first {
		t.Error("overlay changed while a descriptor was pending")
	}
}

func TestPipeTransferExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransferDescriptorsPerDevice = 1
	h, _, _ := newTestHCD(t, cfg)
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	endpoint := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}
	handle, _ := h.OpenPipe(1, endpoint, 0)

	if err := h.PipeTransfer(handle, make([]byte, 8), false); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}
	if err := h.PipeTransfer(handle, make([]byte, 8), false); !errors.Is(err, pkg.ErrNoTransferDescriptor) {
		t.Errorf("err = %v, want ErrNoTransferDescriptor", err)
	}
}

func TestPipeTransferInvalidHandle(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	if err := h.PipeTransfer(PipeHandle{}, nil, false); !errors.Is(err, pkg.ErrInvalidPipe) {
		t.Errorf("zero handle: err = %v, want ErrInvalidPipe", err)
	}

	bogus := PipeHandle{deviceAddress: 1, xferType: hal.TransferBulk, index: 200}
	if err := h.PipeTransfer(bogus, nil, false); !errors.Is(err, pkg.ErrInvalidPipe) {
		t.Errorf("bad index: err = %v, want ErrInvalidPipe", err)
	}

	endpoint := &hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}
	handle, _ := h.OpenPipe(1, endpoint, 0)
	stale := handle
	stale.xferType = hal.TransferInterrupt
	if err := h.PipeTransfer(stale, nil, false); !errors.Is(err, pkg.ErrInvalidPipe) {
		t.Errorf("type mismatch: err = %v, want ErrInvalidPipe", err)
	}
}

func TestClosePipePeriodic(t *testing.T) {
	h, _, _ := newTestHCD(t, DefaultConfig())
	h.RegisterDevice(1, 0, hal.SpeedHigh, 0, 0)

	endpoint := &hal.EndpointDescriptor{Address: 0x82, Attributes: 0x03, MaxPacketSize: 64}
	handle, _ := h.OpenPipe(1, endpoint, 0x03)
	qh, _ := h.queueHeadFromHandle(handle)

	if err := h.ClosePipe(handle); err != nil {
		t.Fatalf("ClosePipe failed: %v", err)
	}
	if !qh.isRemoving || qh.removedAt.IsZero() {
		t.Error("periodic removal not timestamped")
	}
	c := h.controllers[0]
	if !c.periodHead.next.Terminate {
		t.Error("closed queue head still on the periodic chain")
	}

	// The tagged slot no longer resolves as an open pipe.
	if err := h.PipeTransfer(handle, nil, false); !errors.Is(err, pkg.ErrInvalidPipe) {
		t.Errorf("transfer on closed pipe: err = %v, want ErrInvalidPipe", err)
	}
}
