package websocket

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/maheshalyana/letterflow/pkg/auth"
	"github.com/maheshalyana/letterflow/pkg/common/config"
	ws "github.com/maheshalyana/letterflow/pkg/models/websocket"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

// Server accepts websocket connections and attaches them to document
// sessions.
type Server struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	registry *Registry
	auth     Authorizer
	config   config.WebSocketConfig

	logger    observability.Logger
	metrics   observability.MetricsClient
	collector *MetricsCollector

	startTime time.Time
}

// NewServer wires the gateway together. The registry must share the
// collector so session metrics land in the same place.
func NewServer(registry *Registry, authorizer Authorizer, cfg config.WebSocketConfig, logger observability.Logger, metrics observability.MetricsClient) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1048576
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RateLimit.Rate <= 0 {
		cfg.RateLimit = config.RateLimit{Rate: 50, Burst: 100}
	}

	s := &Server{
		connections: make(map[string]*Connection),
		registry:    registry,
		auth:        authorizer,
		config:      cfg,
		logger:      logger,
		metrics:     metrics,
		collector:   registry.collector,
		startTime:   time.Now(),
	}
	return s
}

// ConnectionCount returns the number of open connections on this instance.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) addConnection(c *Connection) {
	s.mu.Lock()
	s.connections[c.ID] = c
	s.mu.Unlock()
}

func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	delete(s.connections, c.ID)
	s.mu.Unlock()
}

// Shutdown closes every open connection.
func (s *Server) Shutdown() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server shutting down")
	}
}

// HandleWebSocket upgrades the request and runs the connection lifecycle.
// Authorization happens before the upgrade so rejected clients get a plain
// HTTP status instead of a websocket close frame.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	documentID := query.Get("documentId")
	token := query.Get("token")

	if documentID == "" || token == "" {
		s.collector.RecordConnectionFailure("missing_params")
		http.Error(w, "documentId and token are required", http.StatusUnauthorized)
		return
	}

	decision, err := s.auth.Authorize(r.Context(), documentID, token)
	if err != nil {
		s.logger.Warn("WebSocket authorization failed", map[string]interface{}{
			"document_id": documentID,
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		if errors.Is(err, auth.ErrAccessDenied) {
			s.collector.RecordConnectionFailure("access_denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		s.collector.RecordConnectionFailure("auth_failed")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if s.config.MaxConnections > 0 && s.ConnectionCount() >= s.config.MaxConnections {
		s.collector.RecordConnectionFailure("max_connections")
		http.Error(w, "Too Many Connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"letterflow.v1"},
	})
	if err != nil {
		s.logger.Error("WebSocket accept failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	conn.SetReadLimit(s.config.MaxMessageSize)

	c := s.newConnection(conn, query, decision)

	session, err := s.openSession(r.Context(), documentID, c)
	if err != nil {
		s.logger.Error("Failed to open session", map[string]interface{}{
			"document_id": documentID,
			"error":       err.Error(),
		})
		s.collector.RecordConnectionFailure("session_unavailable")
		_ = conn.Close(websocket.StatusInternalError, "document unavailable, retry")
		return
	}
	c.session = session

	s.addConnection(c)
	s.collector.RecordConnection()

	c.SetState(ws.ConnectionStateSyncing)

	// Detach the pumps from the request context; the connection outlives
	// the upgrade request.
	ctx := context.Background()
	go c.writePump(ctx)

	// Open the sync handshake: the client answers with its own state
	// vector and the missing updates flow both ways.
	if err := c.SendMessage(&ws.Message{
		Type:        ws.MessageTypeSync,
		StateVector: toWireVector(session.buffer.StateVector()),
	}); err != nil {
		c.closeSlow()
		return
	}

	go c.readPump(ctx)
}

// openSession looks up the document session and attaches the connection.
// A session can drain out between lookup and attach, in which case the next
// lookup creates a fresh one; the window can repeat under churn, so the
// lookup-attach pair retries a few times before giving up.
func (s *Server) openSession(ctx context.Context, documentID string, c *Connection) (*Session, error) {
	const attempts = 3

	var err error
	for i := 0; i < attempts; i++ {
		var session *Session
		session, err = s.registry.GetOrCreate(ctx, documentID)
		if err != nil {
			return nil, err
		}
		err = session.attach(c)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrSessionDestroyed) {
			return nil, err
		}
	}
	return nil, err
}

// newConnection builds the connection from the upgrade request. Identity
// comes from the verified token; display info falls back from query
// parameters to token claims to defaults.
func (s *Server) newConnection(conn *websocket.Conn, query url.Values, decision *auth.Decision) *Connection {
	participantID := decision.Claims.UID()

	displayName := query.Get("displayName")
	if displayName == "" {
		displayName = decision.Claims.DisplayName()
	}
	avatarURL := query.Get("avatarUrl")
	if avatarURL == "" {
		avatarURL = decision.Claims.Picture
	}
	color := query.Get("color")
	if color == "" {
		color = paletteColor(participantID)
	}

	return &Connection{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Role:          decision.Role,
		DisplayName:   displayName,
		Color:         color,
		AvatarURL:     avatarURL,
		hub:           s,
		conn:          conn,
		send:          make(chan []byte, s.config.SendBuffer),
		openedAt:      time.Now(),
		limiter:       NewRateLimiter(s.config.RateLimit.Rate, s.config.RateLimit.Burst),
		closed:        make(chan struct{}),
	}
}
