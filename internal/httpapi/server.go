package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/streamchat/internal/archive"
	"github.com/antoniostano/streamchat/internal/assembly"
	"github.com/antoniostano/streamchat/internal/config"
	"github.com/antoniostano/streamchat/internal/observability"
	"github.com/antoniostano/streamchat/internal/protocol"
	"github.com/antoniostano/streamchat/internal/session"
)

const (
	defaultTurnListLimit = 20
	maxTurnListLimit     = 200
	wsWriteTimeout       = 10 * time.Second
	wsReadIdleTimeout    = 120 * time.Second
	wsPingInterval       = wsReadIdleTimeout / 2
)

type Orchestrator interface {
	RunConnection(ctx context.Context, conv *session.Conversation, inbound <-chan any, outbound chan<- any) error
	Snapshot(conversationID string) (assembly.Turn, error)
	Forget(conversationID string)
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	archive      archive.Store
	metrics      *observability.Metrics
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	// A client that answers no ping within readIdleTimeout is disconnected.
	pingInterval    time.Duration
	readIdleTimeout time.Duration
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, store archive.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:             cfg,
		sessions:        sessions,
		orchestrator:    orchestrator,
		archive:         store,
		metrics:         metrics,
		logger:          logger,
		pingInterval:    wsPingInterval,
		readIdleTimeout: wsReadIdleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/v1/conversations", s.handleCreateConversation)
	r.Get("/v1/conversations/ws", s.handleConversationWS)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Post("/v1/conversations/{id}/end", s.handleEndConversation)
	r.Get("/v1/conversations/{id}/turns", s.handleListTurns)
	r.Post("/v1/preflight", s.handlePreflight)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfLatencyReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"active_conversations": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"generation_backend": s.cfg.GenBackend,
		"archive_mode":       s.archiveMode(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	conv := s.sessions.Create(req.UserID)
	s.metrics.ActiveConversations.Set(float64(s.sessions.ActiveCount()))
	s.metrics.ConversationEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		ConversationID:  conv.ID,
		UserID:          conv.UserID,
		Status:          conv.Status,
		StartedAt:       conv.StartedAt,
		LastActivityAt:  conv.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	resp := map[string]any{"conversation": conv}
	if s.orchestrator != nil {
		if turn, err := s.orchestrator.Snapshot(conv.ID); err == nil {
			resp["latest_turn"] = turn
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_conversation_id", "missing conversation id")
		return
	}

	conv, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	if s.orchestrator != nil {
		s.orchestrator.Forget(id)
	}
	s.metrics.ActiveConversations.Set(float64(s.sessions.ActiveCount()))
	s.metrics.ConversationEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	if s.archive == nil {
		respondJSON(w, http.StatusOK, map[string]any{"turns": []archive.TurnRecord{}})
		return
	}

	limit := defaultTurnListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTurnListLimit)
	}

	records, err := s.archive.List(r.Context(), id, limit)
	if err != nil {
		s.logger.Warn("list turns failed", "conversation_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "archive_unavailable", err.Error())
		return
	}
	if records == nil {
		records = []archive.TurnRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": records})
}

func (s *Server) handleConversationWS(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	if conversationID == "" {
		respondError(w, http.StatusBadRequest, "missing_conversation_id", "query parameter conversation_id is required")
		return
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return
	}

	conv, err := s.sessions.Get(conversationID)
	if err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	if conv.Status != session.StatusActive {
		respondError(w, http.StatusConflict, "conversation_ended", "conversation has ended")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.ConversationEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Unblocks ReadMessage when the server shuts down or the writer fails.
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.orchestrator.RunConnection(ctx, conv, inbound, outbound); err != nil {
			s.logger.Warn("connection loop ended", "conversation_id", conv.ID, "error", err)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(s.pingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					s.metrics.ConversationEvents.WithLabelValues("ws_write_error").Inc()
					cancel()
					return
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ConversationEvents.WithLabelValues("ws_write_error").Inc()
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.metrics.ObserveInboundMessage("invalid")
			errEvent := protocol.ErrorEvent{
				Type:           protocol.TypeErrorEvent,
				ConversationID: conversationID,
				Code:           "invalid_client_message",
				Source:         "gateway",
				Retryable:      false,
				Detail:         err.Error(),
			}
			select {
			case outbound <- errEvent:
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "delivered")
			default:
				// Keep websocket writes single-threaded; drop if outbound queue is saturated.
				s.metrics.ObserveOutboundMessage(string(protocol.TypeErrorEvent), "dropped")
			}
			continue
		}

		s.metrics.ObserveInboundMessage(string(clientMessageType(parsed)))
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ConversationEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) archiveMode() string {
	switch s.archive.(type) {
	case nil:
		return "disabled"
	case *archive.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

func clientMessageType(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.StartTurn:
		return m.Type
	case protocol.CancelTurn:
		return m.Type
	case protocol.StopGeneration:
		return m.Type
	default:
		return "unknown"
	}
}
