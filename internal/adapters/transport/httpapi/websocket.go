package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

type wsReply struct {
	Result *resultDTO `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		originSet[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			// non-browser clients send no origin
			return origin == "" || originSet[origin]
		},
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeControl(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteControl(messageType, data, time.Now().Add(wsWriteWait))
}

// handleWebsocket carries runtime messages for one paired session. Each
// inbound frame is one message; each reply is one frame. Frames beyond
// the connection's rate are answered with a rate_limited error and not
// processed.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, err := s.runtime.Session(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws := &wsConn{conn: conn}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(s.opts.MaxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	var pinger sync.WaitGroup
	pinger.Add(1)
	go func() {
		defer pinger.Done()
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ws.writeControl(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	defer func() {
		close(done)
		pinger.Wait()
	}()

	limiter := rate.NewLimiter(rate.Limit(s.opts.WSRate), s.opts.WSBurst)
	logger := s.logger.With(zap.String("session", string(id)))
	logger.Debug("websocket connected")

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if !limiter.Allow() {
			if err := ws.writeJSON(wsReply{Error: domain.ErrRateLimited.Error(), Reason: string(domain.ReasonRateLimited)}); err != nil {
				return
			}
			continue
		}

		var req messageRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			if err := ws.writeJSON(wsReply{Error: "decode message: " + err.Error(), Reason: string(domain.ReasonInvalidRequest)}); err != nil {
				return
			}
			continue
		}

		result, err := s.runtime.Handle(r.Context(), id, req.message())
		if err != nil {
			reply := wsReply{Error: err.Error(), Reason: string(domain.ReasonFor(err))}
			if statusForError(err) == http.StatusInternalServerError {
				logger.Error("websocket message failed", zap.Error(err))
				reply = wsReply{Error: "internal error"}
			}
			if err := ws.writeJSON(reply); err != nil {
				return
			}
			if errors.Is(err, domain.ErrSessionNotFound) {
				_ = ws.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session not found"))
				return
			}
			continue
		}

		dto := toResultDTO(result)
		if err := ws.writeJSON(wsReply{Result: &dto}); err != nil {
			return
		}
		if result.Outcome == domain.OutcomeEnded {
			_ = ws.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		}
	}
}
