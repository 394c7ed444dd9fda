package session

import (
	"crossinput/internal/ei"
	"crossinput/internal/logging"
)

// Kind is the role a device plays for this process.
type Kind uint8

const (
	KindKeyboard Kind = 1 << iota
	KindPointer
)

// pointerCaps is every capability that qualifies a device as the pointer.
const pointerCaps = ei.CapPointer | ei.CapPointerAbsolute | ei.CapButton

// wantedCaps are the capabilities requested when binding a seat.
const wantedCaps = pointerCaps | ei.CapKeyboard

// Device is a device record in the registry arena.
type Device struct {
	ID           uint64
	Name         string
	Kind         Kind
	Capabilities ei.Capabilities
	Regions      []ei.Region
	Resumed      bool
	// Serial is the serial of the last resumed or paused event.
	Serial uint32
}

// Has reports whether the device has every capability in c.
func (d *Device) Has(c ei.Capabilities) bool {
	return d != nil && d.Capabilities.Has(c)
}

// Usable reports whether frames may be sent to the device.
func (d *Device) Usable() bool {
	return d != nil && d.Resumed
}

// Region returns the first region of an absolute device.
func (d *Device) Region() (ei.Region, error) {
	if d == nil || len(d.Regions) == 0 {
		return ei.Region{}, ErrInvalidRegion
	}
	r := d.Regions[0]
	if r.Width == 0 || r.Height == 0 {
		return ei.Region{}, ErrInvalidRegion
	}
	return r, nil
}

// SeatBinder binds a seat for a set of capabilities.
type SeatBinder interface {
	BindSeat(seat uint64, caps ei.Capabilities) error
}

// Registry tracks the seat and the keyboard and pointer devices announced on
// the channel. The first device offering a capability wins; later ones are
// ignored.
type Registry struct {
	binder       SeatBinder
	seat         uint64
	devices      map[uint64]*Device
	keyboard     uint64
	pointer      uint64
	disconnected string
	log          *logging.Logger
}

// NewRegistry creates an empty registry that binds seats through binder.
func NewRegistry(binder SeatBinder) *Registry {
	return &Registry{
		binder:  binder,
		devices: make(map[uint64]*Device),
		log:     logging.Default().WithComponent("registry"),
	}
}

// OnEvent applies one channel event.
func (r *Registry) OnEvent(ev ei.Event) error {
	switch ev.Type {
	case ei.EventSeatAdded:
		return r.seatAdded(ev)
	case ei.EventSeatRemoved:
		if ev.Seat == r.seat {
			r.log.Info("seat removed", "seat", ev.Seat)
			r.seat = 0
		}
	case ei.EventDeviceAdded:
		r.deviceAdded(ev)
	case ei.EventDeviceResumed, ei.EventDevicePaused:
		d, ok := r.devices[ev.Device]
		if !ok {
			return nil
		}
		d.Resumed = ev.Type == ei.EventDeviceResumed
		d.Serial = ev.Serial
		r.log.Debug("device state", "device", d.Name, "resumed", d.Resumed, "serial", ev.Serial)
	case ei.EventDeviceRemoved:
		r.deviceRemoved(ev.Device)
	case ei.EventDisconnected:
		r.disconnected = ev.Reason
		if r.disconnected == "" {
			r.disconnected = "disconnected"
		}
		r.log.Warn("channel disconnected", "reason", r.disconnected)
	}
	return nil
}

func (r *Registry) seatAdded(ev ei.Event) error {
	if r.seat != 0 {
		r.log.Debug("ignoring additional seat", "seat", ev.Name)
		return nil
	}
	caps := ev.Capabilities & wantedCaps
	if caps == 0 {
		r.log.Warn("seat offers no usable capabilities", "seat", ev.Name, "capabilities", ev.Capabilities)
		return nil
	}
	if err := r.binder.BindSeat(ev.Seat, caps); err != nil {
		return err
	}
	r.seat = ev.Seat
	r.log.Info("bound seat", "seat", ev.Name, "capabilities", caps)
	return nil
}

func (r *Registry) deviceAdded(ev ei.Event) {
	var kind Kind
	if ev.Capabilities&ei.CapKeyboard != 0 && r.keyboard == 0 {
		kind |= KindKeyboard
	}
	if ev.Capabilities&pointerCaps != 0 && r.pointer == 0 {
		kind |= KindPointer
	}
	if kind == 0 {
		r.log.Debug("ignoring device", "device", ev.Name, "capabilities", ev.Capabilities)
		return
	}
	d := &Device{
		ID:           ev.Device,
		Name:         ev.Name,
		Kind:         kind,
		Capabilities: ev.Capabilities,
	}
	if ev.Capabilities.Has(ei.CapPointerAbsolute) {
		d.Regions = append([]ei.Region(nil), ev.Regions...)
	}
	r.devices[d.ID] = d
	if kind&KindKeyboard != 0 {
		r.keyboard = d.ID
	}
	if kind&KindPointer != 0 {
		r.pointer = d.ID
	}
	r.log.Info("device added", "device", d.Name, "capabilities", d.Capabilities, "regions", len(d.Regions))
}

func (r *Registry) deviceRemoved(id uint64) {
	d, ok := r.devices[id]
	if !ok {
		return
	}
	delete(r.devices, id)
	if r.keyboard == id {
		r.keyboard = 0
	}
	if r.pointer == id {
		r.pointer = 0
	}
	r.log.Info("device removed", "device", d.Name)
}

// Keyboard returns the keyboard device or nil.
func (r *Registry) Keyboard() *Device {
	return r.devices[r.keyboard]
}

// Pointer returns the pointer device or nil.
func (r *Registry) Pointer() *Device {
	return r.devices[r.pointer]
}

// Complete reports whether both a keyboard and a pointer are resumed.
func (r *Registry) Complete() bool {
	return r.Keyboard().Usable() && r.Pointer().Usable()
}

// Usable reports whether at least one device is resumed.
func (r *Registry) Usable() bool {
	return r.Keyboard().Usable() || r.Pointer().Usable()
}

// HasDevices reports whether any device is known, resumed or not.
func (r *Registry) HasDevices() bool {
	return r.keyboard != 0 || r.pointer != 0
}

// Disconnected returns the disconnect reason, or "" while connected.
func (r *Registry) Disconnected() string {
	return r.disconnected
}
