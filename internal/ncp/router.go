package ncp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"zigbee-go-router/internal/profile"
	"zigbee-go-router/internal/stack"
)

// Router runs the ZBOSS NCP as a Zigbee router. Commissioning requests run
// on worker goroutines and report back through the signal sink.
type Router struct {
	cfg    Config
	logger *slog.Logger
	t      *transport

	mu         sync.Mutex
	desc       *profile.DeviceDescriptor
	sink       stack.SignalSink
	factoryNew bool
	identity   stack.NetworkIdentity
	ieee       [8]byte
	info       Info

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Open returns a router on the serial port named in cfg. The port is
// opened by Start.
func Open(cfg Config, logger *slog.Logger) *Router {
	return New(SerialOpener(cfg.Port, cfg.BaudRate), cfg, logger)
}

// New returns a router talking to the NCP through open.
func New(open Opener, cfg Config, logger *slog.Logger) *Router {
	if cfg.ScanDuration == 0 {
		cfg.ScanDuration = DefaultConfig().ScanDuration
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultConfig().DiscoveryTimeout
	}
	logger = logger.With("component", "ncp")
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:        cfg,
		logger:     logger,
		factoryNew: true,
		ctx:        ctx,
		cancel:     cancel,
	}
	r.t = newTransport(open, r.handleIndication, logger)
	return r
}

func (r *Router) RegisterDevice(desc *profile.DeviceDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.desc != nil {
		return errors.New("ncp: device already registered")
	}
	r.desc = desc.Clone()
	return nil
}

// Start opens the port, checks the NCP answers and signals that the stack
// is ready for initialization.
func (r *Router) Start(sink stack.SignalSink) error {
	r.mu.Lock()
	if r.desc == nil {
		r.mu.Unlock()
		return errors.New("ncp: start before device registration")
	}
	if r.sink != nil {
		r.mu.Unlock()
		return errors.New("ncp: already started")
	}
	r.sink = sink
	r.mu.Unlock()

	if err := r.t.ensureConnected(); err != nil {
		return fmt.Errorf("ncp: %w", err)
	}
	ctx, cancel := context.WithTimeout(r.ctx, hlRespTimeout)
	defer cancel()
	if err := r.readInfo(ctx); err != nil {
		return fmt.Errorf("ncp: %w", err)
	}

	r.run(func(context.Context) stack.Signal { return stack.Signal{Type: stack.SignalSkipStartup} })
	return nil
}

func (r *Router) readInfo(ctx context.Context) error {
	resp, err := r.t.request(ctx, zbossCmdGetModuleVersion, nil)
	if err != nil {
		return err
	}
	var info Info
	if len(resp.Payload) >= 12 {
		info.FWVersion = binary.LittleEndian.Uint32(resp.Payload[0:4])
		sv := binary.LittleEndian.Uint32(resp.Payload[4:8])
		info.StackVersion = fmt.Sprintf("%d.%d.%d.%d", (sv>>24)&0xFF, (sv>>16)&0xFF, (sv>>8)&0xFF, sv&0xFF)
		info.ProtocolVersion = binary.LittleEndian.Uint32(resp.Payload[8:12])
	}

	var ieee [8]byte
	resp, err = r.t.request(ctx, zbossCmdGetLocalIEEE, []byte{0x00})
	if err != nil {
		return err
	}
	// mac_interface_num(1) + ieee(8)
	if len(resp.Payload) >= 9 {
		copy(ieee[:], resp.Payload[1:9])
	}

	r.mu.Lock()
	r.info = info
	r.ieee = ieee
	r.mu.Unlock()
	r.logger.Info("NCP module version",
		"fw", info.FWVersion,
		"stack", info.StackVersion,
		"protocol", info.ProtocolVersion,
		"ieee", fmt.Sprintf("%016X", reverse(ieee)))
	return nil
}

// Info returns the version information read at Start.
func (r *Router) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

func (r *Router) StartCommissioning(mode stack.Mode) {
	switch mode {
	case stack.ModeInitialization:
		r.run(r.initialize)
	case stack.ModeNetworkSteering:
		r.run(r.steer)
	default:
		r.logger.Warn("unsupported commissioning mode", "mode", mode.String())
		r.run(func(context.Context) stack.Signal {
			return stack.Signal{Type: stack.SignalError, Err: fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)}
		})
	}
}

func (r *Router) IsFactoryNew() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.factoryNew
}

func (r *Router) NetworkIdentity() stack.NetworkIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

// FactoryReset erases the NCP's NVRAM and waits for it to come back. It
// may be called before Start.
func (r *Router) FactoryReset(ctx context.Context) error {
	if err := r.t.ensureConnected(); err != nil {
		return fmt.Errorf("ncp: factory reset: %w", err)
	}
	if err := r.t.reset(ctx, zbossResetFactory); err != nil {
		return fmt.Errorf("ncp: factory reset: %w", err)
	}
	r.mu.Lock()
	r.factoryNew = true
	r.identity = stack.NetworkIdentity{}
	r.mu.Unlock()
	return nil
}

func (r *Router) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		err = r.t.Close()
		r.wg.Wait()
	})
	return err
}

// run executes work on a worker goroutine and delivers the signal it
// returns unless the router was closed meanwhile.
func (r *Router) run(work func(context.Context) stack.Signal) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		sig := work(r.ctx)
		if r.ctx.Err() != nil {
			return
		}
		r.deliver(sig)
	}()
}

func (r *Router) deliver(sig stack.Signal) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink.Deliver(sig)
	}
}

// initialize configures the NCP for the registered device and resumes a
// network stored in NVRAM if there is one.
func (r *Router) initialize(ctx context.Context) stack.Signal {
	r.mu.Lock()
	desc := r.desc
	r.mu.Unlock()

	fail := func(err error) stack.Signal {
		return stack.Signal{Type: stack.SignalDeviceFirstStart, Err: err}
	}

	tcPolicy := make([]byte, 3)
	binary.LittleEndian.PutUint16(tcPolicy[0:2], zbossTCPolicyICRequired)
	if desc.InstallCodePolicy {
		tcPolicy[2] = 1
	}

	steps := []struct {
		cmd     uint16
		payload []byte
	}{
		{zbossCmdSetZigbeeRole, []byte{zbossRoleRouter}},
		{zbossCmdSetChannelMask, buildChannelMaskPayload(desc.ChannelMask)},
		{zbossCmdSetMaxChildren, []byte{desc.MaxChildren}},
		{zbossCmdSetTCPolicy, tcPolicy},
	}
	for _, ep := range desc.Endpoints {
		steps = append(steps, struct {
			cmd     uint16
			payload []byte
		}{zbossCmdAFSetSimpleDesc, buildSimpleDescPayload(ep.ID, ep.ProfileID, ep.DeviceID, ep.DeviceVersion, ep.ServerClusterIDs(), ep.ClientClusterIDs())})
	}
	for _, s := range steps {
		if _, err := r.t.request(ctx, s.cmd, s.payload); err != nil {
			return fail(err)
		}
	}

	resp, err := r.t.request(ctx, zbossCmdGetJoined, nil)
	if err != nil {
		return fail(err)
	}
	joined := len(resp.Payload) > 0 && resp.Payload[0]&0x01 != 0
	if !joined {
		r.mu.Lock()
		r.factoryNew = true
		r.mu.Unlock()
		r.logger.Info("NCP has no network, factory new")
		return stack.Signal{Type: stack.SignalDeviceFirstStart}
	}

	if _, err := r.t.request(ctx, zbossCmdNwkStartWithoutForm, nil); err != nil {
		return stack.Signal{Type: stack.SignalDeviceReboot, Err: err}
	}
	id, err := r.readIdentity(ctx)
	if err != nil {
		return stack.Signal{Type: stack.SignalDeviceReboot, Err: err}
	}
	r.mu.Lock()
	r.factoryNew = false
	r.identity = id
	r.mu.Unlock()
	return stack.Signal{Type: stack.SignalDeviceReboot}
}

// steer scans for an open network and joins the best one as a router.
func (r *Router) steer(ctx context.Context) stack.Signal {
	r.mu.Lock()
	mask := r.desc.ChannelMask
	r.mu.Unlock()

	fail := func(err error) stack.Signal {
		return stack.Signal{Type: stack.SignalSteering, Err: err}
	}

	scanCtx, cancel := context.WithTimeout(ctx, r.cfg.DiscoveryTimeout)
	resp, err := r.t.request(scanCtx, zbossCmdNwkDiscovery, buildDiscoveryPayload(mask, r.cfg.ScanDuration))
	cancel()
	if err != nil {
		if resp != nil && resp.HL.StatusCat == zbossStatusMAC && resp.HL.StatusCode == zbossMACNoBeacon {
			return fail(ErrNoJoinableNetwork)
		}
		return fail(err)
	}
	networks := parseDiscoveryResponse(resp.Payload)
	nw, ok := pickNetwork(networks, mask)
	if !ok {
		r.logger.Debug("no network open for routers", "networks_found", len(networks))
		return fail(ErrNoJoinableNetwork)
	}
	r.logger.Info("joining network",
		"pan_id", fmt.Sprintf("0x%04X", nw.PanID),
		"channel", nw.Channel,
		"lqi", nw.LQI)

	joinCtx, cancel := context.WithTimeout(ctx, r.cfg.DiscoveryTimeout)
	resp, err = r.t.request(joinCtx, zbossCmdNwkNlmeJoin, buildJoinPayload(nw.ExtPanID, nw.Channel, r.cfg.ScanDuration))
	cancel()
	if err != nil {
		return fail(err)
	}
	jr, err := parseJoinResponse(resp.Payload)
	if err != nil {
		return fail(err)
	}

	id := stack.NetworkIdentity{
		ExtendedPanID: jr.ExtPanID,
		PanID:         nw.PanID,
		Channel:       jr.Channel,
		ShortAddress:  jr.ShortAddr,
	}
	r.mu.Lock()
	r.factoryNew = false
	r.identity = id
	r.mu.Unlock()
	return stack.Signal{Type: stack.SignalSteering}
}

// readIdentity queries the parameters of the network the NCP is on.
func (r *Router) readIdentity(ctx context.Context) (stack.NetworkIdentity, error) {
	var id stack.NetworkIdentity

	resp, err := r.t.request(ctx, zbossCmdGetPanID, nil)
	if err != nil {
		return id, err
	}
	if len(resp.Payload) >= 2 {
		id.PanID = binary.LittleEndian.Uint16(resp.Payload)
	}

	resp, err = r.t.request(ctx, zbossCmdGetExtPanID, nil)
	if err != nil {
		return id, err
	}
	if len(resp.Payload) >= 8 {
		copy(id.ExtendedPanID[:], resp.Payload[:8])
	}

	resp, err = r.t.request(ctx, zbossCmdGetChannel, nil)
	if err != nil {
		return id, err
	}
	// channel_page(1) + channel(1)
	if len(resp.Payload) >= 2 {
		id.Channel = resp.Payload[1]
	}

	resp, err = r.t.request(ctx, zbossCmdGetShortAddr, nil)
	if err != nil {
		return id, err
	}
	if len(resp.Payload) >= 2 {
		id.ShortAddress = binary.LittleEndian.Uint16(resp.Payload)
	}
	return id, nil
}

func (r *Router) handleIndication(f *zbossFrame) {
	switch f.HL.CallID {
	case zbossCmdZDODevAnnceInd:
		// nwk_addr(2) + ieee(8) + capability(1)
		if len(f.Payload) >= 11 {
			r.logger.Debug("device announce",
				"short", fmt.Sprintf("0x%04X", binary.LittleEndian.Uint16(f.Payload[0:2])))
			r.deliver(stack.Signal{Type: stack.SignalDeviceAnnce, Payload: f.Payload})
		}

	case zbossCmdNwkLeaveInd:
		// ieee(8) + rejoin(1)
		if len(f.Payload) < 8 {
			return
		}
		var ieee [8]byte
		copy(ieee[:], f.Payload[0:8])
		r.mu.Lock()
		own := ieee == r.ieee
		if own {
			r.factoryNew = true
			r.identity = stack.NetworkIdentity{}
		}
		r.mu.Unlock()
		if own {
			r.logger.Warn("left the network")
			r.deliver(stack.Signal{Type: stack.SignalLeave, Payload: f.Payload})
		}

	case zbossCmdNCPResetInd:
		r.logger.Warn("NCPResetInd received")

	case zbossCmdNwkAddrUpdateInd:
		if len(f.Payload) >= 2 {
			short := binary.LittleEndian.Uint16(f.Payload[0:2])
			r.mu.Lock()
			r.identity.ShortAddress = short
			r.mu.Unlock()
			r.logger.Warn("short address changed", "short", fmt.Sprintf("0x%04X", short))
		}

	default:
		r.logger.Debug("zboss indication",
			"cmd", zbossCmdName(f.HL.CallID),
			"payload", fmt.Sprintf("%X", f.Payload))
	}
}

// reverse flips little-endian wire order to the usual MSB-first display.
func reverse(b [8]byte) [8]byte {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

// compile-time check
var _ stack.Stack = (*Router)(nil)
