package slideapi

import (
	"time"

	"github.com/pkg/errors"
)

// Device identifies a Slide either by its local address or by its cloud id.
type Device struct {
	Name string
	// IP selects the local RPC API when set.
	IP string
	// Code is the device code printed on the Slide, used as local API password.
	Code string
	// ID is the cloud slide id.
	ID string
	// DeviceID is the cloud hardware id, e.g. "slide_300000000000".
	DeviceID string
}

func (d Device) Local() bool {
	return d.IP != ""
}

func (d Device) Validate() error {
	if d.Name == "" {
		return errors.New("device name is empty")
	}
	if d.IP == "" && d.ID == "" {
		return errors.Errorf("%s: neither ip nor id is set", d.Name)
	}
	return nil
}

// Key is a stable identity for the device, independent of its display name.
func (d Device) Key() string {
	switch {
	case d.Code != "":
		return d.Code
	case d.DeviceID != "":
		return d.DeviceID
	case d.ID != "":
		return "slide/" + d.ID
	}
	return "ip/" + d.IP
}

// Status is a single reading of the device.
type Status struct {
	// Position is the raw fraction, 0 fully open and 1 fully closed.
	Position float64
	// CalibrationTime is the estimated full travel duration, zero when the
	// device did not report one.
	CalibrationTime time.Duration
}

type infoPayload struct {
	Pos       *float64 `json:"pos"`
	CalibTime *int64   `json:"calib_time"`
}

type infoResponse struct {
	infoPayload
	Data *infoPayload `json:"data"`
}

func (r infoResponse) status() (Status, bool) {
	p := r.infoPayload
	if p.Pos == nil && r.Data != nil {
		p = *r.Data
	}
	if p.Pos == nil {
		return Status{}, false
	}

	s := Status{Position: *p.Pos}
	if p.CalibTime != nil && *p.CalibTime > 0 {
		s.CalibrationTime = time.Duration(*p.CalibTime) * time.Millisecond
	}
	return s, true
}

type positionRequest struct {
	Pos float64 `json:"pos"`
}
