// Command ehcisim runs the host controller scheduler against the simulated
// register file and a scripted device model, exercising the full pipe
// lifecycle: attach, enumeration on the pseudo-address, re-addressing, bulk
// traffic, and the removal handshake on detach.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"

	"github.com/ardnew/ehcihost/hcd"
	"github.com/ardnew/ehcihost/hcd/hal"
	"github.com/ardnew/ehcihost/hcd/hal/sim"
	"github.com/ardnew/ehcihost/pkg"
)

type cli struct {
	Config kong.ConfigFlag `help:"Load flag defaults from a TOML file." placeholder:"PATH"`

	Log struct {
		Level string `help:"Minimum log level." enum:"debug,info,warn,error" default:"info"`
	} `embed:"" prefix:"log."`

	Devices       int    `help:"Addressable device slots." default:"8"`
	QueueHeads    int    `help:"Queue heads per device." default:"8"`
	Descriptors   int    `help:"Transfer descriptors per device." default:"16"`
	FrameListSize int    `help:"Periodic frame list length (power of two)." default:"256"`
	Payload       string `help:"Bulk payload echoed through the device." default:"hello from the async schedule"`
}

func main() {
	var flags cli
	ctx := kong.Parse(&flags,
		kong.Name("ehcisim"),
		kong.Description("Simulated EHCI host controller scheduler demo."),
		kong.UsageOnError(),
		kong.Configuration(kongtoml.Loader, "/etc/ehcisim.toml", "ehcisim.toml"),
	)

	pkg.SetLogLevel(logLevel(flags.Log.Level))

	ctx.FatalIfErrorf(run(&flags))
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// events bridges driver notifications to the demo's linear script.
type events struct {
	attachedSpeed hal.Speed
	completions   int
	errors        int
	detached      bool
}

func (e *events) OnTransferComplete(pipe hcd.PipeHandle, classCode uint8) {
	e.completions++
	pkg.LogInfo(pkg.ComponentSim, "transfer complete",
		"address", pipe.DeviceAddress(), "type", pipe.TransferType())
}

func (e *events) OnTransferError(pipe hcd.PipeHandle, classCode uint8) {
	e.errors++
	pkg.LogWarn(pkg.ComponentSim, "transfer error",
		"address", pipe.DeviceAddress(), "type", pipe.TransferType())
}

func (e *events) OnDeviceAttached(controllerID uint8, speed hal.Speed) {
	e.attachedSpeed = speed
}

func (e *events) OnDeviceDetached(controllerID uint8) {
	e.detached = true
}

// loopbackDevice is the scripted bus peer: it answers GET_DESCRIPTOR with a
// canned device descriptor and echoes bulk OUT data back on the IN endpoint.
type loopbackDevice struct {
	lastSetup hal.SetupPacket
	echo      []byte
}

var deviceDescriptor = []byte{
	18, 0x01, // bLength, bDescriptorType DEVICE
	0x00, 0x02, // bcdUSB 2.00
	0x00, 0x00, 0x00, // class, subclass, protocol
	64,         // bMaxPacketSize0
	0x5e, 0x04, // idVendor
	0x8e, 0x02, // idProduct
	0x00, 0x01, // bcdDevice
	1, 2, 3, // string indices
	1, // bNumConfigurations
}

func (d *loopbackDevice) Setup(request hal.SetupPacket) {
	d.lastSetup = request
}

func (d *loopbackDevice) In(endpoint uint8, buf []byte) (int, error) {
	if endpoint == 0 {
		return copy(buf, deviceDescriptor), nil
	}
	return copy(buf, d.echo), nil
}

func (d *loopbackDevice) Out(endpoint uint8, data []byte) error {
	d.echo = append(d.echo[:0], data...)
	return nil
}

func run(flags *cli) error {
	cfg := hcd.Config{
		MaxDevices:                   flags.Devices,
		QueueHeadsPerDevice:          flags.QueueHeads,
		TransferDescriptorsPerDevice: flags.Descriptors,
		FrameListSize:                flags.FrameListSize,
	}

	ctrl := sim.New()
	handler := &events{}
	host, err := hcd.New(cfg, []hal.Registers{ctrl}, handler)
	if err != nil {
		return fmt.Errorf("initialize driver: %w", err)
	}

	device := &loopbackDevice{}
	engine, err := hcd.NewEngine(host, 0, ctrl, device)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	// Attach: the port-change interrupt resets the port and reports speed.
	ctrl.Connect(hal.SpeedHigh)
	host.ControllerISR(0)
	fmt.Printf("device attached at %s\n", handler.attachedSpeed)

	// Enumeration on the pseudo-address: read the descriptor head, assign
	// address 1, then retire the pseudo-address pipe.
	if err := host.RegisterDevice(0, 0, handler.attachedSpeed, 0, 0); err != nil {
		return err
	}
	if err := host.OpenControl(0, 8); err != nil {
		return err
	}

	head := make([]byte, 8)
	getDescriptor := &hal.SetupPacket{
		RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 8,
	}
	if err := host.ControlTransfer(0, getDescriptor, head); err != nil {
		return err
	}
	engine.Step()
	fmt.Printf("descriptor head % x (max packet %d)\n", head, head[7])

	setAddress := &hal.SetupPacket{Request: 0x05, Value: 1}
	if err := host.ControlTransfer(0, setAddress, nil); err != nil {
		return err
	}
	engine.Step()

	if err := host.CloseControl(0); err != nil {
		return err
	}
	ctrl.RequestAsyncAdvanceDoorbell()
	engine.Step()

	// The device now answers at address 1 with its real packet size.
	if err := host.RegisterDevice(1, 0, handler.attachedSpeed, 0, 0); err != nil {
		return err
	}
	if err := host.OpenControl(1, uint16(head[7])); err != nil {
		return err
	}

	full := make([]byte, len(deviceDescriptor))
	getDescriptor.Length = uint16(len(full))
	if err := host.ControlTransfer(1, getDescriptor, full); err != nil {
		return err
	}
	engine.Step()
	fmt.Printf("full descriptor % x\n", full)

	// Bulk loopback through a pair of pipes.
	outPipe, err := host.OpenPipe(1,
		&hal.EndpointDescriptor{Address: 0x01, Attributes: 0x02, MaxPacketSize: 512}, 0x08)
	if err != nil {
		return err
	}
	inPipe, err := host.OpenPipe(1,
		&hal.EndpointDescriptor{Address: 0x81, Attributes: 0x02, MaxPacketSize: 512}, 0x08)
	if err != nil {
		return err
	}

	if err := host.PipeTransfer(outPipe, []byte(flags.Payload), true); err != nil {
		return err
	}
	engine.Step()

	echoed := make([]byte, len(flags.Payload))
	if err := host.PipeTransfer(inPipe, echoed, true); err != nil {
		return err
	}
	engine.Step()
	fmt.Printf("bulk echo: %q\n", echoed)

	// Detach: the disconnect interrupt rings the doorbell; closing the
	// departed device's pipes tags them, and the advance interrupt on the
	// following frame reclaims every descriptor.
	ctrl.Disconnect()
	host.ControllerISR(0)
	if err := host.ClosePipe(outPipe); err != nil {
		return err
	}
	if err := host.ClosePipe(inPipe); err != nil {
		return err
	}
	if err := host.CloseControl(1); err != nil {
		return err
	}
	engine.Step()
	fmt.Printf("detached=%v registered=%v completions=%d errors=%d\n",
		handler.detached, host.DeviceRegistered(1), handler.completions, handler.errors)

	if handler.errors > 0 {
		os.Exit(1)
	}
	return nil
}
