package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/GoFM/internal/logging"
)

const wsWriteTimeout = 5 * time.Second

// WSMessage is the envelope for every websocket frame sent to clients.
type WSMessage struct {
	Type    string         `json:"type"`
	Sample  *Sample        `json:"sample,omitempty"`
	Status  *Status        `json:"status,omitempty"`
	Control *ControlResult `json:"control,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// WebServer exposes status, telemetry history, live updates and receiver
// control over HTTP.
type WebServer struct {
	srv      *http.Server
	hub      *Hub
	ctrl     Controller
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewWebServer builds the HTTP server. ctrl may be nil, in which case the
// status and control endpoints are not registered.
func NewWebServer(addr string, hub *Hub, ctrl Controller, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	ws := &WebServer{
		hub:  hub,
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With(logging.Subsystem("web")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/history", hub.handleHistory)
	mux.HandleFunc("/api/live", hub.handleLive)
	mux.HandleFunc("/api/config", hub.handleGetConfig)
	mux.HandleFunc("/api/config/update", hub.handleSetConfig)
	mux.HandleFunc("/api/diagnostics", hub.handleDiagnostics)
	mux.HandleFunc("/api/diagnostics/spectrum", hub.handleSpectrumSnapshot)
	mux.HandleFunc("/api/diagnostics/health", hub.handleHealth)
	mux.HandleFunc("/api/ws", ws.handleWS)
	if ctrl != nil {
		mux.HandleFunc("/api/status", handleStatus(ctrl))
		mux.HandleFunc("/api/control", handleControl(ctrl))
	}

	ws.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return ws
}

// Handler returns the router, for embedding or tests.
func (w *WebServer) Handler() http.Handler { return w.srv.Handler }

// Start listens and serves until ctx is cancelled, then shuts down.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve runs on an existing listener until ctx is cancelled.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web telemetry shutdown", logging.F("err", err))
		}
	}()

	w.logger.Info("web telemetry listening", logging.F("addr", ln.Addr().String()))
	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.logger.Error("web telemetry server error", logging.F("err", err))
		return err
	}
	return nil
}

// handleWS streams samples to the client and accepts ControlRequest frames
// from it. All writes happen on this goroutine.
func (w *WebServer) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn("websocket upgrade failed", logging.F("err", err))
		return
	}
	defer conn.Close()

	samples, cancel := w.hub.Subscribe()
	defer cancel()

	replies := make(chan WSMessage, 4)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	defer close(writerDone)
	go func() {
		defer close(readerDone)
		w.readControl(conn, replies, writerDone)
	}()

	send := func(msg WSMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(msg) == nil
	}

	if w.ctrl != nil {
		status := w.ctrl.Status()
		if !send(WSMessage{Type: "status", Status: &status}) {
			return
		}
	}
	for {
		select {
		case s, ok := <-samples:
			if !ok || !send(WSMessage{Type: "sample", Sample: &s}) {
				return
			}
		case msg := <-replies:
			if !send(msg) {
				return
			}
		case <-readerDone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (w *WebServer) readControl(conn *websocket.Conn, replies chan<- WSMessage, done <-chan struct{}) {
	for {
		var req ControlRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("websocket closed", logging.F("err", err))
			}
			return
		}
		var msg WSMessage
		switch {
		case w.ctrl == nil:
			msg = WSMessage{Type: "error", Error: "control not available"}
		default:
			if err := req.Validate(); err != nil {
				msg = WSMessage{Type: "error", Error: err.Error()}
			} else {
				result := req.Apply(w.ctrl)
				msg = WSMessage{Type: "control", Control: &result}
			}
		}
		select {
		case replies <- msg:
		case <-done:
			return
		}
	}
}
