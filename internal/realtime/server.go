package realtime

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/whiteboard/pkg/logger"
)

const (
	defaultSendBuffer     = 64
	defaultMaxMessageSize = 1 << 20 // 1 MiB
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
)

// ServerOptions tunes the WebSocket transport. Zero values take defaults.
type ServerOptions struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	AllowedOrigins []string
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	return o
}

func (o ServerOptions) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Server upgrades HTTP requests into engine-driven WebSocket connections.
type Server struct {
	engine   *Engine
	opts     ServerOptions
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewServer constructs a transport server for engine.
func NewServer(engine *Engine, opts ServerOptions) *Server {
	opts = opts.withDefaults()
	s := &Server{
		engine: engine,
		opts:   opts,
		log:    logger.WithModule("realtime"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// ServeHTTP upgrades the request and blocks until the connection ends.
// Authentication happens in-band with the authenticate event.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.engine.Draining() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(uuid.NewString(), socket, s.opts, s.log)
	session := s.engine.Connect(conn)
	go conn.writeLoop()
	if session == nil {
		// Shutdown began after the draining check; the close frame is flushed by writeLoop.
		return
	}
	defer s.engine.Disconnect(session)

	conn.readLoop(func(payload []byte) {
		s.engine.Handle(r.Context(), session, payload)
	})
}

// checkOrigin accepts same-host and loopback origins plus any configured origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}

	originHost := hostWithoutPort(origin)
	requestHost := hostWithoutPort(r.Host)
	return strings.EqualFold(originHost, requestHost) || isLoopback(originHost)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if parsed, err := url.Parse(host); err == nil {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
