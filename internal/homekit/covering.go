// Package homekit exposes shutters as HomeKit window coverings behind a
// single bridge accessory.
package homekit

import (
	"context"
	"time"

	"github.com/Supple-build/slidebridge/internal/shutter"
	"github.com/brutella/hc/accessory"
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	Manufacturer = "Innovation in Motion"
	Model        = "Slide"
)

// commandTimeout bounds a command triggered from a HomeKit write.
const commandTimeout = 30 * time.Second

type WindowCovering struct {
	*accessory.Accessory
	WindowCovering *service.WindowCovering
	HoldPosition   *characteristic.HoldPosition

	shutter shutter.Shutter
	ctx     context.Context
}

// NewWindowCovering builds the accessory for s. key is a stable device key
// (device code, cloud id, ...) from which the serial number and accessory id
// are derived, so pairings survive restarts and renames.
func NewWindowCovering(ctx context.Context, s shutter.Shutter, key string) *WindowCovering {
	serial := SerialNumber(key)

	acc := WindowCovering{shutter: s, ctx: ctx}
	acc.Accessory = accessory.New(accessory.Info{
		Name:         s.Name(),
		SerialNumber: serial.String(),
		Manufacturer: Manufacturer,
		Model:        Model,
		ID:           AccessoryID(serial),
	}, accessory.TypeWindowCovering)

	acc.WindowCovering = service.NewWindowCovering()
	acc.HoldPosition = characteristic.NewHoldPosition()
	acc.WindowCovering.AddCharacteristic(acc.HoldPosition.Characteristic)
	acc.AddService(acc.WindowCovering.Service)

	acc.WindowCovering.CurrentPosition.OnValueRemoteGet(acc.currentPosition)
	acc.WindowCovering.TargetPosition.OnValueRemoteGet(s.TargetPosition)
	acc.WindowCovering.PositionState.OnValueRemoteGet(func() int {
		return PositionState(s.PositionState())
	})
	acc.WindowCovering.TargetPosition.OnValueRemoteUpdate(func(position int) {
		go acc.setTargetPosition(position)
	})
	acc.HoldPosition.OnValueRemoteUpdate(func(hold bool) {
		if hold {
			go acc.stop()
		}
	})

	s.OnUpdate(acc.Update)

	return &acc
}

// Update pushes a reconciled snapshot into the characteristic values.
func (a *WindowCovering) Update(snapshot shutter.Snapshot) {
	a.WindowCovering.CurrentPosition.SetValue(snapshot.Current)
	a.WindowCovering.TargetPosition.SetValue(a.shutter.TargetPosition())
	a.WindowCovering.PositionState.SetValue(PositionState(snapshot.State))
}

func (a *WindowCovering) currentPosition() int {
	ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
	defer cancel()

	position, err := a.shutter.CurrentPosition(ctx)
	if err != nil {
		logrus.Errorf("%s: HomeKit current position: %s", a.shutter.Name(), err)
	}
	return position
}

func (a *WindowCovering) setTargetPosition(position int) {
	ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
	defer cancel()

	logrus.Debugf("%s: HomeKit target position %d", a.shutter.Name(), position)
	if err := a.shutter.SetTargetPosition(ctx, position); err != nil {
		logrus.Error(err)
		// The rejected value is already stored in the characteristic.
		a.WindowCovering.TargetPosition.SetValue(a.shutter.TargetPosition())
	}
}

func (a *WindowCovering) stop() {
	ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
	defer cancel()

	logrus.Debugf("%s: HomeKit hold position", a.shutter.Name())
	if err := a.shutter.Stop(ctx); err != nil {
		logrus.Error(err)
	}
	a.HoldPosition.SetValue(false)
}

// PositionState maps a movement state onto the HomeKit characteristic value.
func PositionState(s shutter.State) int {
	switch s {
	case shutter.Decreasing:
		return characteristic.PositionStateDecreasing
	case shutter.Increasing:
		return characteristic.PositionStateIncreasing
	}
	return characteristic.PositionStateStopped
}

func SerialNumber(key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("slidebridge/"+key))
}

// AccessoryID derives an accessory id from a serial number. Ids 0 and 1 are
// reserved for the bridge.
func AccessoryID(serial uuid.UUID) uint64 {
	var id uint64
	for _, b := range serial[:4] {
		id = id<<8 | uint64(b)
	}
	if id < 2 {
		id += 2
	}
	return id
}
