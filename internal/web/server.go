// Package web provides the HTTP status server: an HTML page, a JSON view,
// a health check and a WebSocket stream of cycle snapshots.
package web

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sweeney/irrigation-controller/internal/status"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// Server serves the status page over HTTP.
type Server struct {
	addr     string
	tracker  *status.Tracker
	hub      *Hub
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// New creates a Server that reads state from tracker and streams frames
// from hub.
func New(addr string, tracker *status.Tracker, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		tracker: tracker,
		hub:     hub,
		engine:  engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/index.html", s.handleIndex)
	s.engine.GET("/index.json", s.handleJSON)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/ws", s.handleWS)
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Requests, including hijacked WebSocket connections, end with ctx.
	srv := &http.Server{
		Handler:     s.engine,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Printf("http status server listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	renderHTML(c.Writer, s.tracker.Status())
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Status()))
}

// handleHealth reports 200 while cycles keep coming, 503 before the first
// cycle or when the latest snapshot is older than ten intervals.
func (s *Server) handleHealth(c *gin.Context) {
	st := s.tracker.Status()
	if st.Latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	age := st.Now.Sub(st.Latest.Timestamp)
	if limit := 10 * time.Duration(st.Config.IntervalMs) * time.Millisecond; limit > 0 && age > limit {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stale", "age_seconds": int64(age.Seconds())})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "seq": st.Latest.Seq, "pump_on": st.Latest.PumpOn})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return // Upgrade already wrote the HTTP error
	}
	s.serveWS(c.Request.Context(), conn)
}

// serveWS sends the latest snapshot, then every new one, until the client
// goes away.
func (s *Server) serveWS(ctx context.Context, conn *websocket.Conn) {
	sub := s.hub.subscribe()
	defer func() {
		s.hub.unsubscribe(sub)
		conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap := s.tracker.Latest(); snap != nil {
		if err := write(conn, websocket.TextMessage, status.FormatSnapshot(snap)); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame := <-sub.send:
			if err := write(conn, websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func write(conn *websocket.Conn, messageType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}
