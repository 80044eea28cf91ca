package ncp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// ErrClosed is returned by requests issued after the transport was closed.
var ErrClosed = errors.New("ncp closed")

// Opener opens the byte stream to the NCP. Reset re-opens the port through
// it, since the nRF52840 re-enumerates on USB after a reset.
type Opener func() (io.ReadWriteCloser, error)

// SerialOpener opens portName at baudRate with DTR/RTS asserted.
func SerialOpener(portName string, baudRate int) Opener {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(portName, mode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", portName, err)
		}
		// USB CDC ACM: the NCP firmware waits for DTR/RTS.
		_ = port.SetDTR(true)
		_ = port.SetRTS(true)
		return port, nil
	}
}

const (
	llACKTimeout  = 500 * time.Millisecond
	llMaxRetries  = 3
	hlRespTimeout = 5 * time.Second
)

// transport speaks the ZBOSS LL/HL protocol over a byte stream: LL packet
// sequencing with ACKs, HL request/response matching by TSN, and indication
// dispatch.
type transport struct {
	open   Opener
	logger *slog.Logger

	onIndication func(*zbossFrame)

	hlTSN     atomic.Uint32
	hlPending map[uint8]chan *zbossFrame
	hlMu      sync.Mutex

	llPktSeq uint8
	llSeqMu  sync.Mutex
	writeMu  sync.Mutex

	// Reconnect pacing after a reset; tests shorten these.
	reconnectDelay    time.Duration
	reconnectAttempts int
	resetIndWait      time.Duration

	// lifecycleMu guards the per-connection fields below.
	lifecycleMu sync.Mutex
	port        io.ReadWriteCloser
	done        chan struct{}
	llAckCh     chan uint8
	resetIndCh  chan struct{}
	closed      bool
	wg          sync.WaitGroup
}

func newTransport(open Opener, onIndication func(*zbossFrame), logger *slog.Logger) *transport {
	return &transport{
		open:              open,
		logger:            logger,
		onIndication:      onIndication,
		hlPending:         make(map[uint8]chan *zbossFrame),
		reconnectDelay:    time.Second,
		reconnectAttempts: 30,
		resetIndWait:      3 * time.Second,
	}
}

// connect opens the port and starts the read loop.
func (t *transport) connect() error {
	port, err := t.open()
	if err != nil {
		return err
	}
	t.attach(port)
	return nil
}

// ensureConnected opens the port unless a connection is already attached.
func (t *transport) ensureConnected() error {
	if port, _, _ := t.conn(); port != nil {
		return nil
	}
	return t.connect()
}

// attach resets per-connection state for port and starts its read loop.
// The previous read loop must have exited.
func (t *transport) attach(port io.ReadWriteCloser) {
	done := make(chan struct{})
	ackCh := make(chan uint8, 4)

	t.lifecycleMu.Lock()
	t.port = port
	t.done = done
	t.llAckCh = ackCh
	t.resetIndCh = make(chan struct{}, 1)
	t.lifecycleMu.Unlock()

	t.failPending()

	t.llSeqMu.Lock()
	t.llPktSeq = 0
	t.llSeqMu.Unlock()
	t.hlTSN.Store(0)

	t.wg.Add(1)
	go t.readLoop(port, bufio.NewReader(port), done, ackCh)
}

func (t *transport) conn() (io.ReadWriteCloser, chan struct{}, chan uint8) {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	return t.port, t.done, t.llAckCh
}

// failPending unblocks every waiting request with a nil response.
func (t *transport) failPending() {
	t.hlMu.Lock()
	for tsn, ch := range t.hlPending {
		close(ch)
		delete(t.hlPending, tsn)
	}
	t.hlMu.Unlock()
}

func (t *transport) nextTSN() uint8 {
	return uint8(t.hlTSN.Add(1))
}

// nextPktSeq advances the LL packet sequence (cycles 1→2→3→1).
func (t *transport) nextPktSeq() uint8 {
	t.llSeqMu.Lock()
	t.llPktSeq = t.llPktSeq%3 + 1
	seq := t.llPktSeq
	t.llSeqMu.Unlock()
	return seq
}

// request sends an HL request and waits for the HL response. A response
// with a non-success status is returned together with an error.
func (t *transport) request(ctx context.Context, callID uint16, payload []byte) (*zbossFrame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hlRespTimeout)
		defer cancel()
	}

	tsn := t.nextTSN()
	ch := make(chan *zbossFrame, 1)
	t.hlMu.Lock()
	t.hlPending[tsn] = ch
	t.hlMu.Unlock()
	defer func() {
		t.hlMu.Lock()
		if t.hlPending[tsn] == ch {
			delete(t.hlPending, tsn)
		}
		t.hlMu.Unlock()
	}()

	pktSeq := t.nextPktSeq()
	raw := zbossEncodeRequest(callID, tsn, pktSeq, payload)

	cmdName := zbossCmdName(callID)
	if err := t.writeWithACK(ctx, raw, pktSeq); err != nil {
		return nil, fmt.Errorf("zboss %s: %w", cmdName, err)
	}
	t.logger.Debug("zboss TX", "cmd", cmdName, "tsn", tsn, "payload", fmt.Sprintf("%X", payload))

	_, done, _ := t.conn()
	select {
	case resp, ok := <-ch:
		if !ok || resp == nil {
			return nil, fmt.Errorf("zboss %s: request cancelled by ncp reset", cmdName)
		}
		status := zbossStatusName(resp.HL.StatusCat, resp.HL.StatusCode)
		if !resp.ok() {
			t.logger.Debug("zboss RX", "cmd", cmdName, "tsn", tsn, "status", status)
			return resp, fmt.Errorf("zboss %s: %s", cmdName, status)
		}
		t.logger.Debug("zboss RX", "cmd", cmdName, "tsn", tsn, "status", status, "payload", fmt.Sprintf("%X", resp.Payload))
		return resp, nil
	case <-ctx.Done():
		t.logger.Warn("zboss timeout", "cmd", cmdName, "tsn", tsn, "err", ctx.Err())
		return nil, ctx.Err()
	case <-done:
		return nil, ErrClosed
	}
}

// writeWithACK writes a raw ZBOSS frame and waits for the LL ACK, retrying
// up to llMaxRetries times.
func (t *transport) writeWithACK(ctx context.Context, frame []byte, pktSeq uint8) error {
	port, done, ackCh := t.conn()
	if port == nil {
		return ErrClosed
	}
	for attempt := 0; attempt <= llMaxRetries; attempt++ {
		if attempt > 0 {
			frame[5] |= zbossFlagRetrans
			frame[6] = zbossCRC8(frame[2:6])
		}
		t.writeMu.Lock()
		_, err := port.Write(frame)
		t.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}

		deadline := time.NewTimer(llACKTimeout)
	waitACK:
		for {
			select {
			case ackSeq := <-ackCh:
				if ackSeq == pktSeq {
					deadline.Stop()
					return nil
				}
				t.logger.Debug("zboss LL stale ACK drained", "got", ackSeq, "want", pktSeq)
			case <-deadline.C:
				t.logger.Warn("zboss LL ACK timeout", "attempt", attempt+1, "pkt_seq", pktSeq)
				break waitACK
			case <-ctx.Done():
				deadline.Stop()
				return ctx.Err()
			case <-done:
				deadline.Stop()
				return ErrClosed
			}
		}
	}
	return fmt.Errorf("LL ACK timeout after %d attempts", llMaxRetries+1)
}

func (t *transport) sendACK(port io.Writer, pktSeq uint8) {
	raw := zbossEncodeACK(pktSeq)
	t.writeMu.Lock()
	_, err := port.Write(raw)
	t.writeMu.Unlock()
	if err != nil {
		t.logger.Warn("zboss send ACK failed", "err", err)
	}
}

func (t *transport) readLoop(port io.Writer, r *bufio.Reader, done chan struct{}, ackCh chan uint8) {
	defer t.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-done:
			return
		default:
		}

		raw, err := readZBOSSFrame(r)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				t.logger.Error("ncp read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 10 * time.Millisecond

		frame, err := zbossDecodeFrame(raw)
		if err != nil {
			t.logger.Warn("zboss decode error", "err", err, "raw", fmt.Sprintf("%X", raw))
			continue
		}

		if zbossLLIsACK(frame.LL.Flags) {
			select {
			case ackCh <- zbossLLAckSeq(frame.LL.Flags):
			default:
			}
			continue
		}

		t.sendACK(port, zbossLLPktSeq(frame.LL.Flags))

		switch frame.HL.PacketType {
		case zbossHLResponse:
			t.hlMu.Lock()
			ch, ok := t.hlPending[frame.HL.TSN]
			t.hlMu.Unlock()
			if !ok {
				t.logger.Warn("zboss orphaned response",
					"cmd", zbossCmdName(frame.HL.CallID),
					"tsn", frame.HL.TSN,
					"status", zbossStatusName(frame.HL.StatusCat, frame.HL.StatusCode))
				continue
			}
			select {
			case ch <- frame:
			default:
			}

		case zbossHLIndication:
			if frame.HL.CallID == zbossCmdNCPResetInd {
				t.lifecycleMu.Lock()
				resetInd := t.resetIndCh
				t.lifecycleMu.Unlock()
				select {
				case resetInd <- struct{}{}:
				default:
				}
			}
			if t.onIndication != nil {
				t.onIndication(frame)
			}
		}
	}
}

// stop closes the current port and waits for its read loop to exit.
func (t *transport) stop() error {
	t.lifecycleMu.Lock()
	port, done := t.port, t.done
	t.port = nil
	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}
	t.lifecycleMu.Unlock()

	var err error
	if port != nil {
		err = port.Close()
	}
	t.wg.Wait()
	t.failPending()
	return err
}

// reset sends NCP_RESET with option and reconnects once the NCP answers
// again. The request is sent with all three LL sequence numbers since the
// NCP's expected sequence is unknown after a host restart.
func (t *transport) reset(ctx context.Context, option uint8) error {
	optName := "reset"
	if option == zbossResetFactory {
		optName = "factory reset"
	}

	port, _, _ := t.conn()
	if port == nil {
		return ErrClosed
	}
	tsn := t.nextTSN()
	for _, seq := range []uint8{1, 2, 3} {
		raw := zbossEncodeRequest(zbossCmdNCPReset, tsn, seq, []byte{option})
		t.writeMu.Lock()
		_, _ = port.Write(raw)
		t.writeMu.Unlock()
	}
	t.logger.Info("NCP " + optName + " sent, waiting for reconnect")

	_ = t.stop()

	for attempt := 1; attempt <= t.reconnectAttempts; attempt++ {
		select {
		case <-time.After(t.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		t.lifecycleMu.Lock()
		closed := t.closed
		t.lifecycleMu.Unlock()
		if closed {
			return ErrClosed
		}

		port, err := t.open()
		if err != nil {
			t.logger.Debug("waiting for NCP", "attempt", attempt, "err", err)
			continue
		}
		t.attach(port)

		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_, err = t.request(probeCtx, zbossCmdGetModuleVersion, nil)
		cancel()
		if err != nil {
			t.logger.Debug("NCP not answering yet", "attempt", attempt, "err", err)
			_ = t.stop()
			continue
		}

		t.lifecycleMu.Lock()
		resetInd := t.resetIndCh
		t.lifecycleMu.Unlock()
		select {
		case <-resetInd:
		case <-time.After(t.resetIndWait):
			t.logger.Warn("NCPResetInd not received, proceeding anyway")
		case <-ctx.Done():
			return ctx.Err()
		}
		t.logger.Info("NCP reconnected after "+optName, "attempts", attempt)
		return nil
	}
	return fmt.Errorf("ncp did not come back after %s", optName)
}

// Close shuts the transport down. Further requests fail with ErrClosed.
func (t *transport) Close() error {
	t.lifecycleMu.Lock()
	if t.closed {
		t.lifecycleMu.Unlock()
		return nil
	}
	t.closed = true
	t.lifecycleMu.Unlock()
	return t.stop()
}
