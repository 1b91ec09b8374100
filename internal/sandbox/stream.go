package sandbox

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/SupportDesk/presence/internal/infrastructure/monitoring"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

type streamConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (sc *streamConn) send(data []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

// streamHub tracks open stream connections.
type streamHub struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu     sync.Mutex
	conns  map[*streamConn]struct{}
	reject bool
}

func newStreamHub(logger *zap.Logger, metrics *monitoring.Metrics) *streamHub {
	return &streamHub{
		logger:  logger,
		metrics: metrics,
		conns:   make(map[*streamConn]struct{}),
	}
}

// HandleConnection upgrades an authenticated request and serves it until
// the client goes away.
func (h *streamHub) HandleConnection(c *gin.Context) {
	if c.Query("token") == "" {
		abortWithError(c, http.StatusUnauthorized, codeUnauthorized, "missing token")
		return
	}
	h.mu.Lock()
	reject := h.reject
	h.mu.Unlock()
	if reject {
		abortWithError(c, http.StatusServiceUnavailable, codeUnavailable, "stream unavailable")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	sc := &streamConn{conn: conn}
	h.add(sc)
	defer h.remove(sc)

	h.write(sc, map[string]interface{}{
		"type":    "system",
		"event":   "connected",
		"message": "Connected to SupportDesk sandbox",
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.write(sc, map[string]interface{}{"type": "error", "message": "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.write(sc, map[string]interface{}{"type": "pong"})
		default:
			h.write(sc, map[string]interface{}{"type": "error", "message": "unknown message type"})
		}
	}
}

func (h *streamHub) write(sc *streamConn, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode stream frame", zap.Error(err))
		return
	}
	if err := sc.send(data); err != nil {
		h.logger.Debug("Stream write failed", zap.Error(err))
	}
}

func (h *streamHub) add(sc *streamConn) {
	h.mu.Lock()
	h.conns[sc] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.metrics.SetSandboxStreams(n)
}

func (h *streamHub) remove(sc *streamConn) {
	h.mu.Lock()
	delete(h.conns, sc)
	n := len(h.conns)
	h.mu.Unlock()
	sc.conn.Close()
	h.metrics.SetSandboxStreams(n)
}

func (h *streamHub) snapshot() []*streamConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*streamConn, 0, len(h.conns))
	for sc := range h.conns {
		out = append(out, sc)
	}
	return out
}

func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// push sends one frame to every connection and returns how many got it.
func (h *streamHub) push(data []byte) int {
	sent := 0
	for _, sc := range h.snapshot() {
		if err := sc.send(data); err == nil {
			sent++
		}
	}
	return sent
}

// closeAll closes every connection with code.
func (h *streamHub) closeAll(code int) int {
	conns := h.snapshot()
	msg := websocket.FormatCloseMessage(code, "")
	for _, sc := range conns {
		_ = sc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		sc.conn.Close()
	}
	return len(conns)
}

func (h *streamHub) setReject(reject bool) {
	h.mu.Lock()
	h.reject = reject
	h.mu.Unlock()
}
