package slide

import (
	"context"
	"time"

	"github.com/Supple-build/slidebridge/internal/shutter"
	"github.com/Supple-build/slidebridge/internal/slideapi"
	"github.com/sirupsen/logrus"
)

// Reconcile is one poll tick: read the device, then derive current, target
// and movement state. Read failures are logged and leave the session as is;
// the next tick is the retry.
func (s *Shutter) Reconcile(ctx context.Context) {
	s.reconcile(ctx, 0)
}

func (s *Shutter) reconcile(ctx context.Context, followUp uint64) {
	s.op.Lock()
	defer s.op.Unlock()

	if s.isClosed() || ctx.Err() != nil {
		return
	}

	status, err := s.gateway.FetchStatus(ctx)
	if err != nil {
		gatewayErrors.WithLabelValues(s.name, "status").Inc()
		logrus.Errorf("%s: status poll failed: %s", s.name, err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	before := s.snapshot()
	s.apply(status, followUp != 0 && followUp == s.moveID)
	after := s.snapshot()
	s.observe()
	s.mu.Unlock()

	if after != before {
		s.notify(after)
	}
}

// apply runs with mu held.
func (s *Shutter) apply(status slideapi.Status, deadline bool) {
	if !s.seeded && !s.commanded {
		s.seedFrom(status)
		return
	}
	s.seeded = true

	observed := shutter.ToHubPercent(status.Position)
	s.refreshCalibration(status.CalibrationTime)
	tolerance := s.cfg.Tolerance

	if !s.commanded {
		if shutter.Difference(s.target, observed) > tolerance {
			if !s.external {
				logrus.Warnf("%s: moved to %d without a command, following it", s.name, observed)
			}
			s.target = observed
			s.external = true
		} else if s.external {
			logrus.Infof("%s: external move settled at %d", s.name, observed)
			s.external = false
		}
	}

	difference := shutter.Difference(s.target, observed)
	logrus.Debugf("%s: observed %d, target %d, difference %d", s.name, observed, s.target, difference)

	s.current = shutter.Snap(observed, s.target, tolerance)

	if s.commanded {
		switch {
		case difference <= tolerance:
			logrus.Infof("%s: reached position %d", s.name, s.target)
			s.finishMove()
		case deadline:
			logrus.Warnf("%s: move to %d not finished in time, resting at %d", s.name, s.target, observed)
			s.target = observed
			s.current = observed
			s.finishMove()
		}
	}

	if s.commanded {
		s.state = shutter.StateBetween(s.current, s.target)
	} else {
		s.state = shutter.Stopped
	}
}

// finishMove runs with mu held.
func (s *Shutter) finishMove() {
	s.commanded = false
	s.stopFastPoll()
	s.cancelFollowUp()
}

// scheduleFollowUp replaces any pending follow-up with one firing after d.
// Runs with mu held.
func (s *Shutter) scheduleFollowUp(d time.Duration) {
	s.cancelFollowUp()
	s.moveID++
	id := s.moveID

	logrus.Debugf("%s: follow-up check in %s", s.name, d)
	s.followUpDelay = d
	s.followUp = time.AfterFunc(d, func() {
		s.reconcile(s.ctx, id)
	})
}

func (s *Shutter) cancelFollowUp() {
	if s.followUp != nil {
		s.followUp.Stop()
		s.followUp = nil
	}
}

// startFastPoll runs with mu held. An already running fast poll is kept.
func (s *Shutter) startFastPoll() {
	if s.cancelFast != nil {
		return
	}

	var ctx context.Context
	ctx, s.cancelFast = context.WithCancel(s.ctx)
	go s.poll(ctx, s.cfg.FastPollInterval, "fast")
}

func (s *Shutter) stopFastPoll() {
	if s.cancelFast != nil {
		s.cancelFast()
		s.cancelFast = nil
	}
}

func (s *Shutter) fastPollActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelFast != nil
}

func (s *Shutter) poll(ctx context.Context, interval time.Duration, cadence string) {
	logrus.Debugf("%s: %s poll started (every %s)", s.name, cadence, interval)
	defer logrus.Debugf("%s: %s poll stopped", s.name, cadence)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}
