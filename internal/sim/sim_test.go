package sim

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/stack"
	"zigbee-go-router/internal/store"
	"zigbee-go-router/internal/zcl"
	"zigbee-go-router/internal/zcl/clusters"
)

type chanSink chan stack.Signal

func (c chanSink) Deliver(s stack.Signal) { c <- s }

func (c chanSink) next(t *testing.T) stack.Signal {
	t.Helper()
	select {
	case s := <-c:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no signal")
		return stack.Signal{}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDescriptor(t *testing.T) *profile.DeviceDescriptor {
	t.Helper()
	reg := zcl.NewRegistry(testLogger())
	require.NoError(t, clusters.RegisterStandard(reg))
	desc, err := profile.Build(profile.DefaultConfig(), reg)
	require.NoError(t, err)
	return desc
}

func openStore(t *testing.T, path string) *store.BoltStore {
	t.Helper()
	st, err := store.NewBoltStore(path)
	require.NoError(t, err)
	return st
}

func startStack(t *testing.T, st store.Store, cfg Config) (*Stack, chanSink) {
	t.Helper()
	s, err := New(st, cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.RegisterDevice(testDescriptor(t)))
	sink := make(chanSink, 8)
	require.NoError(t, s.Start(sink))
	t.Cleanup(func() { s.Close() })
	return s, sink
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Latency = 0
	cfg.ShortAddress = 0x4F21
	return cfg
}

func TestSimFirstStartThenJoin(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "nvram.db"))
	defer st.Close()
	cfg := fastConfig()
	cfg.SteeringFailures = 2
	s, sink := startStack(t, st, cfg)

	assert.Equal(t, stack.SignalSkipStartup, sink.next(t).Type)

	s.StartCommissioning(stack.ModeInitialization)
	sig := sink.next(t)
	assert.Equal(t, stack.SignalDeviceFirstStart, sig.Type)
	assert.NoError(t, sig.Err)
	assert.True(t, s.IsFactoryNew())

	for i := 0; i < 2; i++ {
		s.StartCommissioning(stack.ModeNetworkSteering)
		sig = sink.next(t)
		assert.Equal(t, stack.SignalSteering, sig.Type)
		assert.ErrorIs(t, sig.Err, ErrNoJoinableNetwork)
	}

	s.StartCommissioning(stack.ModeNetworkSteering)
	sig = sink.next(t)
	require.NoError(t, sig.Err)
	assert.False(t, s.IsFactoryNew())

	id := s.NetworkIdentity()
	assert.Equal(t, uint16(0x1A62), id.PanID)
	assert.Equal(t, uint8(15), id.Channel)
	assert.Equal(t, uint16(0x4F21), id.ShortAddress)
	assert.Equal(t, "dd:dd:dd:dd:dd:dd:dd:dd", id.ExtendedPanIDString())

	p, err := st.GetProvisioning()
	require.NoError(t, err)
	assert.Equal(t, id.PanID, p.PanID)
}

func TestSimRebootAfterJoin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvram.db")
	st := openStore(t, path)
	s, sink := startStack(t, st, fastConfig())
	sink.next(t)
	s.StartCommissioning(stack.ModeInitialization)
	sink.next(t)
	s.StartCommissioning(stack.ModeNetworkSteering)
	require.NoError(t, sink.next(t).Err)
	require.NoError(t, s.Close())
	require.NoError(t, st.Close())

	st = openStore(t, path)
	defer st.Close()
	s, sink = startStack(t, st, fastConfig())
	sink.next(t)
	s.StartCommissioning(stack.ModeInitialization)
	sig := sink.next(t)

	assert.Equal(t, stack.SignalDeviceReboot, sig.Type)
	assert.False(t, s.IsFactoryNew())
	assert.Equal(t, uint16(0x4F21), s.NetworkIdentity().ShortAddress)
}

func TestSimFactoryReset(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "nvram.db"))
	defer st.Close()
	require.NoError(t, st.SaveProvisioning(&store.Provisioning{PanID: 1, Channel: 11}))

	s, sink := startStack(t, st, fastConfig())
	sink.next(t)
	require.NoError(t, s.FactoryReset(context.Background()))

	s.StartCommissioning(stack.ModeInitialization)
	assert.Equal(t, stack.SignalDeviceFirstStart, sink.next(t).Type)
	assert.True(t, s.IsFactoryNew())
}

func TestSimFailInit(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "nvram.db"))
	defer st.Close()
	cfg := fastConfig()
	cfg.FailInit = true
	s, sink := startStack(t, st, cfg)
	sink.next(t)

	s.StartCommissioning(stack.ModeInitialization)
	sig := sink.next(t)
	assert.Equal(t, stack.SignalDeviceFirstStart, sig.Type)
	assert.Error(t, sig.Err)
}

func TestSimChannelOutsideMask(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "nvram.db"))
	defer st.Close()
	s, err := New(st, fastConfig(), testLogger())
	require.NoError(t, err)
	desc := testDescriptor(t)
	desc.ChannelMask = 1 << 20
	require.NoError(t, s.RegisterDevice(desc))
	sink := make(chanSink, 4)
	require.NoError(t, s.Start(sink))
	defer s.Close()
	sink.next(t)

	s.StartCommissioning(stack.ModeNetworkSteering)
	assert.ErrorIs(t, sink.next(t).Err, ErrNoJoinableNetwork)
}

func TestSimUnsupportedMode(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "nvram.db"))
	defer st.Close()
	s, sink := startStack(t, st, fastConfig())
	sink.next(t)

	s.StartCommissioning(stack.ModeNetworkFormation)
	sig := sink.next(t)
	assert.Equal(t, stack.SignalError, sig.Type)
	assert.ErrorIs(t, sig.Err, ErrUnsupportedMode)
}

func TestSimRegistrationRules(t *testing.T) {
	st := openStore(t, filepath.Join(t.TempDir(), "nvram.db"))
	defer st.Close()
	s, err := New(st, fastConfig(), testLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Start(make(chanSink, 1)), "start before registration")

	bad := testDescriptor(t)
	bad.Endpoints = append(bad.Endpoints, bad.Endpoints[0])
	assert.ErrorIs(t, s.RegisterDevice(bad), profile.ErrInvalidDescriptor)

	require.NoError(t, s.RegisterDevice(testDescriptor(t)))
	assert.Error(t, s.RegisterDevice(testDescriptor(t)), "second registration")
}

func TestSimConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channel = 27
	_, err := New(nil, cfg, testLogger())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ExtendedPanID = "xyz"
	_, err = New(nil, cfg, testLogger())
	assert.Error(t, err)
}

func TestParseExtendedPanID(t *testing.T) {
	id, err := ParseExtendedPanID("00:12:4b:00:01:02:03:04")
	require.NoError(t, err)
	assert.Equal(t, [8]byte{0x04, 0x03, 0x02, 0x01, 0x00, 0x4b, 0x12, 0x00}, id)
	assert.Equal(t, "00:12:4b:00:01:02:03:04", stack.NetworkIdentity{ExtendedPanID: id}.ExtendedPanIDString())

	_, err = ParseExtendedPanID("0011")
	assert.Error(t, err)
}
