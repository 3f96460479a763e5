// Package slide reconciles a Slide's raw, noisy position reading into the
// stable current/target/state triple a hub expects.
//
// Every operation on a session (status poll, follow-up check, position
// command, stop) runs to completion, gateway round trip included, before
// the next one starts. Sessions are independent of each other.
package slide

import (
	"context"
	"sync"
	"time"

	"github.com/Supple-build/slidebridge/internal/shutter"
	"github.com/Supple-build/slidebridge/internal/slideapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLocalTolerance     = 5
	DefaultRemoteTolerance    = 15
	DefaultLocalPollInterval  = 5 * time.Second
	DefaultRemotePollInterval = 10 * time.Second
	DefaultFastPollInterval   = 3 * time.Second
	DefaultCalibrationTime    = 20 * time.Second
	DefaultSettleMargin       = 2 * time.Second
)

var ErrClosed = errors.New("shutter closed")

type Config struct {
	// Tolerance is the snapping radius in percent.
	Tolerance int
	// PollInterval is the steady cadence, active for the whole session.
	PollInterval time.Duration
	// FastPollInterval is the cadence used while a commanded move is active.
	FastPollInterval time.Duration
	// CalibrationTime is the full travel duration used until the device
	// reports its own.
	CalibrationTime time.Duration
	// SettleMargin is added to the expected travel time before the
	// follow-up check.
	SettleMargin time.Duration
}

// DefaultConfig returns the defaults for a locally or cloud addressed device.
func DefaultConfig(local bool) Config {
	cfg := Config{
		Tolerance:        DefaultRemoteTolerance,
		PollInterval:     DefaultRemotePollInterval,
		FastPollInterval: DefaultFastPollInterval,
		CalibrationTime:  DefaultCalibrationTime,
		SettleMargin:     DefaultSettleMargin,
	}
	if local {
		cfg.Tolerance = DefaultLocalTolerance
		cfg.PollInterval = DefaultLocalPollInterval
	}
	return cfg
}

type Shutter struct {
	name    string
	gateway Gateway
	cfg     Config

	// op serializes reconciliation operations, gateway calls included.
	op sync.Mutex

	// mu guards everything below.
	mu              sync.RWMutex
	current         int
	target          int
	state           shutter.State
	calibrationTime time.Duration
	commanded       bool
	external        bool
	closed          bool
	// seeded is false until one status read succeeded. Until then current
	// and target are placeholders.
	seeded bool

	moveID        uint64
	followUp      *time.Timer
	followUpDelay time.Duration
	cancelFast    context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc

	handlersLock sync.RWMutex
	handlers     []shutter.ShutterUpdateHandler
}

var _ shutter.Shutter = &Shutter{}

func NewShutter(name string, gateway Gateway, cfg Config) (*Shutter, error) {
	if name == "" {
		return nil, shutter.InvalidConfigf("shutter name is empty")
	}
	if gateway == nil {
		return nil, shutter.InvalidConfigf("%s: no device gateway", name)
	}
	if cfg.Tolerance < 0 {
		return nil, shutter.InvalidConfigf("%s: tolerance %d is negative", name, cfg.Tolerance)
	}

	defaults := DefaultConfig(true)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.FastPollInterval <= 0 {
		cfg.FastPollInterval = defaults.FastPollInterval
	}
	if cfg.CalibrationTime <= 0 {
		cfg.CalibrationTime = defaults.CalibrationTime
	}
	if cfg.SettleMargin < 0 {
		cfg.SettleMargin = defaults.SettleMargin
	}

	s := &Shutter{
		name:            name,
		gateway:         gateway,
		cfg:             cfg,
		state:           shutter.Stopped,
		calibrationTime: cfg.CalibrationTime,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// Start seeds the session with one status read and starts the steady poll.
// The session is closed when ctx is done. A failed seed is returned but the
// session keeps running; the first successful read seeds it.
func (s *Shutter) Start(ctx context.Context) error {
	err := s.seed(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.ctx.Done():
		}
	}()

	go s.poll(s.ctx, s.cfg.PollInterval, "steady")

	logrus.Infof("%s: slide initialised (tolerance %d%%, poll every %s)", s.name, s.cfg.Tolerance, s.cfg.PollInterval)

	return err
}

// Close stops both cadences and any pending follow-up. No tick touches the
// session afterwards.
func (s *Shutter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	s.stopFastPoll()
	s.cancelFollowUp()
	s.forget()

	logrus.Infof("%s: closed", s.name)
}

func (s *Shutter) Name() string {
	return s.name
}

func (s *Shutter) OnUpdate(h shutter.ShutterUpdateHandler) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Shutter) Snapshot() shutter.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Shutter) snapshot() shutter.Snapshot {
	return shutter.Snapshot{Current: s.current, Target: s.target, State: s.state}
}

func (s *Shutter) notify(snapshot shutter.Snapshot) {
	s.handlersLock.RLock()
	defer s.handlersLock.RUnlock()
	for _, h := range s.handlers {
		h(snapshot)
	}
}

func (s *Shutter) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// CurrentPosition reads the device and returns the position snapped onto the
// current target. Target and movement state are left to the reconciliation
// tick. On failure the last known position is returned with the error.
func (s *Shutter) CurrentPosition(ctx context.Context) (int, error) {
	s.op.Lock()
	defer s.op.Unlock()

	if s.isClosed() {
		return s.Snapshot().Current, ErrClosed
	}

	logrus.Debugf("%s: get current position", s.name)

	status, err := s.gateway.FetchStatus(ctx)
	if err != nil {
		gatewayErrors.WithLabelValues(s.name, "status").Inc()
		return s.Snapshot().Current, errors.Wrapf(err, "%s: current position", s.name)
	}

	s.mu.Lock()
	if s.closed {
		current := s.current
		s.mu.Unlock()
		return current, ErrClosed
	}
	before := s.snapshot()
	if !s.seeded && !s.commanded {
		s.seedFrom(status)
	} else {
		s.seeded = true
		s.refreshCalibration(status.CalibrationTime)
		s.current = shutter.Snap(shutter.ToHubPercent(status.Position), s.target, s.cfg.Tolerance)
	}
	after := s.snapshot()
	s.observe()
	s.mu.Unlock()

	if after != before {
		s.notify(after)
	}

	return after.Current, nil
}

// TargetPosition returns the stored target, pulled onto fully open or fully
// closed when within tolerance of either end.
func (s *Shutter) TargetPosition() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return shutter.SnapToEnds(s.target, s.cfg.Tolerance)
}

func (s *Shutter) PositionState() shutter.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetTargetPosition commands the device. The call returns once the device
// acknowledged; completion of the move is tracked by the fast poll and a
// single follow-up check. A rejected command leaves the session untouched.
func (s *Shutter) SetTargetPosition(ctx context.Context, position int) error {
	position = shutter.Clamp(position)

	s.op.Lock()
	defer s.op.Unlock()

	if s.isClosed() {
		return shutter.NewCommandError(s.name, ErrClosed)
	}

	logrus.Infof("%s: set target position to %d", s.name, position)

	s.ensureSeeded(ctx)

	if err := s.gateway.CommandPosition(ctx, shutter.ToDeviceFraction(position)); err != nil {
		gatewayErrors.WithLabelValues(s.name, "position").Inc()
		logrus.Errorf("%s: set target position %d failed: %s", s.name, position, err)
		return shutter.NewCommandError(s.name, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	previous := s.current
	s.target = position
	s.external = false

	diff := shutter.Difference(position, previous)
	switch {
	case !s.seeded:
		logrus.Warnf("%s: position unknown, tracking a full travel towards %d", s.name, position)
		s.commanded = true
		s.state = shutter.StateBetween(previous, position)
		s.scheduleFollowUp(moveDuration(s.calibrationTime, FullTravel, s.cfg.SettleMargin))
		s.startFastPoll()
	case diff <= s.cfg.Tolerance:
		logrus.Debugf("%s: already on position %d", s.name, position)
		s.finishMove()
		s.state = shutter.Stopped
	default:
		logrus.Debugf("%s: move by %d", s.name, diff)

		s.commanded = true
		s.state = shutter.StateBetween(previous, position)
		s.scheduleFollowUp(moveDuration(s.calibrationTime, diff, s.cfg.SettleMargin))
		s.startFastPoll()
	}
	snapshot := s.snapshot()
	s.observe()
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// Stop halts the device where it is and ends any commanded move.
func (s *Shutter) Stop(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.isClosed() {
		return shutter.NewCommandError(s.name, ErrClosed)
	}

	logrus.Infof("%s: stop", s.name)

	if err := s.gateway.Stop(ctx); err != nil {
		gatewayErrors.WithLabelValues(s.name, "stop").Inc()
		logrus.Errorf("%s: stop failed: %s", s.name, err)
		return shutter.NewCommandError(s.name, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.target = s.current
	s.external = false
	s.finishMove()
	s.state = shutter.Stopped
	snapshot := s.snapshot()
	s.observe()
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

func (s *Shutter) refreshCalibration(t time.Duration) {
	if t > 0 && t != s.calibrationTime {
		logrus.Debugf("%s: calibration time %s", s.name, t)
		s.calibrationTime = t
	}
}

// FullTravel is the distance assumed for a move from an unknown position.
const FullTravel = shutter.FullOpenPosition - shutter.FullClosePosition

// moveDuration is the expected travel time for diff percent plus the settle
// margin.
func moveDuration(calibrationTime time.Duration, diff int, settle time.Duration) time.Duration {
	return (calibrationTime*time.Duration(diff))/100 + settle
}

func (s *Shutter) seed(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	status, err := s.gateway.FetchStatus(ctx)
	if err != nil {
		gatewayErrors.WithLabelValues(s.name, "status").Inc()
		return errors.Wrapf(err, "%s: initial status fetch failed", s.name)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.seedFrom(status)
	snapshot := s.snapshot()
	s.observe()
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// ensureSeeded retries the initial read before a command so that the command
// is compared against a real position. Runs with op held.
func (s *Shutter) ensureSeeded(ctx context.Context) {
	s.mu.RLock()
	seeded := s.seeded
	s.mu.RUnlock()
	if seeded {
		return
	}

	status, err := s.gateway.FetchStatus(ctx)
	if err != nil {
		gatewayErrors.WithLabelValues(s.name, "status").Inc()
		logrus.Warnf("%s: position still unknown: %s", s.name, err)
		return
	}

	s.mu.Lock()
	if !s.closed {
		s.seedFrom(status)
		s.observe()
	}
	s.mu.Unlock()
}

// seedFrom takes the reading as both current and target. Runs with mu held.
func (s *Shutter) seedFrom(status slideapi.Status) {
	position := shutter.ToHubPercent(status.Position)

	s.refreshCalibration(status.CalibrationTime)
	s.current = position
	s.target = position
	s.state = shutter.Stopped
	s.seeded = true

	logrus.Infof("%s: initial position %d", s.name, position)
}
