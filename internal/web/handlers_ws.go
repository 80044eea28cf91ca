package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"zigbee-go-router/internal/events"
)

const (
	streamQueueSize  = 256
	streamClientSize = 64
	streamPingEvery  = 30 * time.Second
	streamWriteLimit = 10 * time.Second
)

// wsMessage is one frame on the event stream. A client first receives a
// "status" frame, then one "event" frame per bus event.
type wsMessage struct {
	Kind   string        `json:"kind"`
	Status interface{}   `json:"status,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
}

// streamHub fans bus events out to the connected /api/ws clients. Frames are
// encoded once in Publish; the hub loop only copies bytes.
type streamHub struct {
	logger *slog.Logger
	status func() interface{}

	mu      sync.RWMutex
	clients map[*streamClient]struct{}

	join  chan *streamClient
	leave chan *streamClient
	queue chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

type streamClient struct {
	conn *websocket.Conn
	out  chan []byte
}

// newStreamHub creates a hub. status, if set, is sent as the first frame to
// every client that joins.
func newStreamHub(logger *slog.Logger, status func() interface{}) *streamHub {
	return &streamHub{
		logger:  logger,
		status:  status,
		clients: make(map[*streamClient]struct{}),
		join:    make(chan *streamClient),
		leave:   make(chan *streamClient),
		queue:   make(chan []byte, streamQueueSize),
		done:    make(chan struct{}),
	}
}

func (h *streamHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.sendStatus(c)
			h.logger.Debug("stream client joined", "clients", n)

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("stream client left", "clients", n)

		case frame := <-h.queue:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.out <- frame:
				default:
					h.drop(c)
					h.logger.Warn("stream client evicted (too slow)")
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes c and closes its queue. Caller holds h.mu.
func (h *streamHub) drop(c *streamClient) {
	delete(h.clients, c)
	close(c.out)
}

// sendStatus queues the status frame. A new client's queue is empty.
func (h *streamHub) sendStatus(c *streamClient) {
	if h.status == nil {
		return
	}
	frame, err := json.Marshal(wsMessage{Kind: "status", Status: h.status()})
	if err != nil {
		h.logger.Error("stream marshal status", "err", err)
		return
	}
	select {
	case c.out <- frame:
	default:
	}
}

// Publish queues ev for every client. It never blocks the bus; when the queue
// is full the event is dropped.
func (h *streamHub) Publish(ev events.Event) {
	frame, err := json.Marshal(wsMessage{Kind: "event", Event: &ev})
	if err != nil {
		h.logger.Error("stream marshal event", "type", ev.Type, "err", err)
		return
	}
	select {
	case h.queue <- frame:
	default:
		h.logger.Warn("stream queue full, dropping event", "type", ev.Type)
	}
}

// Clients returns the number of connected clients.
func (h *streamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *streamHub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	// The stream is one-way; clients only send control frames.
	conn.SetReadLimit(4096)

	c := &streamClient{conn: conn, out: make(chan []byte, streamClientSize)}
	select {
	case s.hub.join <- c:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.streamWriter(ctx, c)
	s.streamReader(ctx, cancel, c)
}

// streamWriter drains c.out and pings the client while idle.
func (s *Server) streamWriter(ctx context.Context, c *streamClient) {
	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-c.out:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, streamWriteLimit)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, streamWriteLimit)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil {
				s.logger.Debug("stream ping failed", "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// streamReader blocks until the client goes away or the hub stops. Reading is
// required for ping replies and close frames to be processed.
func (s *Server) streamReader(ctx context.Context, cancel context.CancelFunc, c *streamClient) {
	defer func() {
		select {
		case s.hub.leave <- c:
		case <-s.hub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
