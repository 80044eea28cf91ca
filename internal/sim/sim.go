// Package sim is an in-process network stack backend. It keeps its "NVRAM"
// in the store, so a simulated node that joined once comes back joined after
// a restart.
package sim

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/stack"
	"zigbee-go-router/internal/store"
)

// ErrNoJoinableNetwork is the steering failure status.
var ErrNoJoinableNetwork = errors.New("no joinable network found")

// ErrUnsupportedMode is reported for commissioning modes a router does not run.
var ErrUnsupportedMode = errors.New("commissioning mode not supported")

// Config describes the simulated network and how the stack behaves.
type Config struct {
	// SteeringFailures is how many steering attempts fail before one
	// succeeds. Negative means steering never succeeds.
	SteeringFailures int           `yaml:"steering_failures"`
	Latency          time.Duration `yaml:"latency"`
	ExtendedPanID    string        `yaml:"extended_pan_id"`
	PanID            uint16        `yaml:"pan_id"`
	Channel          uint8         `yaml:"channel"`
	// ShortAddress 0 picks a random address on join.
	ShortAddress uint16 `yaml:"short_address"`
	// FailInit makes stack initialization report an error.
	FailInit bool `yaml:"fail_init"`
}

// DefaultConfig returns a network on channel 15 that accepts the first join.
func DefaultConfig() Config {
	return Config{
		Latency:       200 * time.Millisecond,
		ExtendedPanID: "dd:dd:dd:dd:dd:dd:dd:dd",
		PanID:         0x1A62,
		Channel:       15,
	}
}

// ParseExtendedPanID parses 16 hex digits, optionally colon separated, most
// significant byte first.
func ParseExtendedPanID(s string) ([8]byte, error) {
	var id [8]byte
	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return id, fmt.Errorf("extended pan id %q: %w", s, err)
	}
	if len(raw) != 8 {
		return id, fmt.Errorf("extended pan id %q: want 8 bytes, got %d", s, len(raw))
	}
	for i := range raw {
		id[7-i] = raw[i]
	}
	return id, nil
}

// Stack simulates a router stack.
type Stack struct {
	store  store.Store
	cfg    Config
	extPan [8]byte
	logger *slog.Logger

	mu         sync.Mutex
	desc       *profile.DeviceDescriptor
	sink       stack.SignalSink
	factoryNew bool
	identity   stack.NetworkIdentity
	attempts   int

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// New creates a simulated stack persisting to st.
func New(st store.Store, cfg Config, logger *slog.Logger) (*Stack, error) {
	if cfg.Channel < 11 || cfg.Channel > 26 {
		return nil, fmt.Errorf("sim: channel %d out of range 11-26", cfg.Channel)
	}
	extPan, err := ParseExtendedPanID(cfg.ExtendedPanID)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	return &Stack{
		store:      st,
		cfg:        cfg,
		extPan:     extPan,
		logger:     logger.With("component", "sim"),
		factoryNew: true,
		closed:     make(chan struct{}),
	}, nil
}

func (s *Stack) RegisterDevice(desc *profile.DeviceDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desc != nil {
		return errors.New("sim: device already registered")
	}
	s.desc = desc.Clone()
	for _, ep := range desc.Endpoints {
		s.logger.Debug("endpoint registered",
			"endpoint", ep.ID,
			"profile", fmt.Sprintf("0x%04X", ep.ProfileID),
			"device", fmt.Sprintf("0x%04X", ep.DeviceID),
			"clusters", len(ep.Clusters))
	}
	return nil
}

func (s *Stack) Start(sink stack.SignalSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.desc == nil {
		return errors.New("sim: start before device registration")
	}
	if s.sink != nil {
		return errors.New("sim: already started")
	}
	s.sink = sink
	s.logger.Info("simulated stack started",
		"pan_id", fmt.Sprintf("0x%04X", s.cfg.PanID),
		"channel", s.cfg.Channel,
		"steering_failures", s.cfg.SteeringFailures)
	s.after(func() stack.Signal { return stack.Signal{Type: stack.SignalSkipStartup} })
	return nil
}

func (s *Stack) StartCommissioning(mode stack.Mode) {
	switch mode {
	case stack.ModeInitialization:
		s.after(s.initialize)
	case stack.ModeNetworkSteering:
		s.after(s.steer)
	default:
		s.logger.Warn("unsupported commissioning mode", "mode", mode.String())
		s.after(func() stack.Signal {
			return stack.Signal{Type: stack.SignalError, Err: fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)}
		})
	}
}

func (s *Stack) IsFactoryNew() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factoryNew
}

func (s *Stack) NetworkIdentity() stack.NetworkIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *Stack) FactoryReset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.ClearProvisioning(); err != nil {
		return fmt.Errorf("sim: factory reset: %w", err)
	}
	s.mu.Lock()
	s.factoryNew = true
	s.identity = stack.NetworkIdentity{}
	s.mu.Unlock()
	s.logger.Info("factory reset")
	return nil
}

func (s *Stack) Close() error {
	s.once.Do(func() { close(s.closed) })
	s.wg.Wait()
	return nil
}

// after runs work on a worker goroutine once the configured latency has
// passed and delivers the signal it returns.
func (s *Stack) after(work func() stack.Signal) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.cfg.Latency > 0 {
			t := time.NewTimer(s.cfg.Latency)
			defer t.Stop()
			select {
			case <-t.C:
			case <-s.closed:
				return
			}
		}
		select {
		case <-s.closed:
			return
		default:
		}
		sig := work()
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		sink.Deliver(sig)
	}()
}

func (s *Stack) initialize() stack.Signal {
	if s.cfg.FailInit {
		return stack.Signal{Type: stack.SignalDeviceFirstStart, Err: errors.New("simulated radio failure")}
	}
	p, err := s.store.GetProvisioning()
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.mu.Lock()
		s.factoryNew = true
		s.mu.Unlock()
		return stack.Signal{Type: stack.SignalDeviceFirstStart}
	case err != nil:
		return stack.Signal{Type: stack.SignalDeviceFirstStart, Err: fmt.Errorf("read nvram: %w", err)}
	}

	s.mu.Lock()
	s.factoryNew = false
	s.identity = stack.NetworkIdentity{
		ExtendedPanID: p.ExtendedPanID,
		PanID:         p.PanID,
		Channel:       p.Channel,
		ShortAddress:  p.ShortAddress,
	}
	s.mu.Unlock()
	return stack.Signal{Type: stack.SignalDeviceReboot}
}

func (s *Stack) steer() stack.Signal {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	mask := s.desc.ChannelMask
	s.mu.Unlock()

	if s.cfg.SteeringFailures < 0 || attempt <= s.cfg.SteeringFailures {
		return stack.Signal{Type: stack.SignalSteering, Err: ErrNoJoinableNetwork}
	}
	if mask&(1<<uint(s.cfg.Channel)) == 0 {
		s.logger.Debug("network channel not in channel mask", "channel", s.cfg.Channel)
		return stack.Signal{Type: stack.SignalSteering, Err: ErrNoJoinableNetwork}
	}

	short := s.cfg.ShortAddress
	if short == 0 {
		// Stochastic addressing never hands out 0x0000 or the reserved range.
		short = uint16(1 + rand.IntN(0xFFF7))
	}
	id := stack.NetworkIdentity{
		ExtendedPanID: s.extPan,
		PanID:         s.cfg.PanID,
		Channel:       s.cfg.Channel,
		ShortAddress:  short,
	}
	err := s.store.SaveProvisioning(&store.Provisioning{
		ExtendedPanID: id.ExtendedPanID,
		PanID:         id.PanID,
		Channel:       id.Channel,
		ShortAddress:  id.ShortAddress,
		JoinedAt:      time.Now(),
	})
	if err != nil {
		return stack.Signal{Type: stack.SignalSteering, Err: fmt.Errorf("write nvram: %w", err)}
	}

	s.mu.Lock()
	s.factoryNew = false
	s.identity = id
	s.mu.Unlock()
	return stack.Signal{Type: stack.SignalSteering}
}
