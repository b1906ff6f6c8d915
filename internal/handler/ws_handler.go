package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/runtime"
	"github.com/stemsi/exstem-runtime/internal/session"
	ws "github.com/stemsi/exstem-runtime/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt. An open stream is the candidate's
// connectivity signal: the first connection marks the session online, losing
// the last one (close or missed pong) marks it offline.
type WSHandler struct {
	manager    *runtime.Manager
	rdb        *redis.Client
	submitWait time.Duration
	log        zerolog.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[uuid.UUID]int
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(manager *runtime.Manager, rdb *redis.Client, submitWait time.Duration, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		manager:    manager,
		rdb:        rdb,
		submitWait: submitWait,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
		conns:      make(map[uuid.UUID]int),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:session_id/stream?token=
// Upgrades to WebSocket for live actions, notifications and presence.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	candidateID := claims.CandidateID()

	// Ownership check before upgrading, so strangers get a plain 404.
	st, err := h.manager.Status(c.Request.Context(), sessionID, candidateID)
	if err != nil {
		response.FailFromError(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("candidate_id", candidateID).
		Str("session_id", sessionID.String()).
		Logger()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.CandidateEventsChannel(sessionID))
	defer pubsub.Close()

	if !st.Phase.Finalizing() {
		h.connected(ctx, sessionID, candidateID, wsLog)
		defer h.disconnected(sessionID, candidateID, wsLog)
		if st, err = h.manager.Status(ctx, sessionID, candidateID); err != nil {
			wsLog.Warn().Err(err).Msg("Status after connect failed")
		}
	}
	_ = conn.WriteTyped(ws.StatusResponse{Event: ws.EventStatus, Status: st})

	wsLog.Info().Msg("Candidate connected")

	go h.forward(ctx, conn, pubsub, wsLog)
	go h.keepAlive(ctx, conn, wsLog)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(ctx, conn, sessionID, candidateID, data, wsLog)
	}
}

// dispatch runs one client action against the session.
func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, sessionID uuid.UUID, candidateID string, data []byte, wsLog zerolog.Logger) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = conn.WriteError("", string(response.ErrInvalidPayload), "malformed message")
		return
	}

	var (
		st  session.Status
		err error
	)
	switch env.Action {
	case ws.ActionPing:
		_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		return

	case ws.ActionStatus:
		st, err = h.manager.Status(ctx, sessionID, candidateID)

	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = conn.WriteError(env.Action, string(response.ErrInvalidPayload), "malformed answer")
			return
		}
		// Validate question_id as a UUID before it reaches any key or query.
		questionID, perr := uuid.Parse(req.QuestionID)
		if perr != nil || req.OptionID == "" {
			_ = conn.WriteError(env.Action, string(response.ErrValidation), "question_id and option_id are required")
			return
		}
		st, err = h.manager.Answer(ctx, sessionID, candidateID, questionID, req.OptionID, req.Toggle)

	case ws.ActionNavigate, ws.ActionFlag:
		var req ws.IndexRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Index == nil {
			_ = conn.WriteError(env.Action, string(response.ErrValidation), "index is required")
			return
		}
		if env.Action == ws.ActionNavigate {
			st, err = h.manager.Navigate(ctx, sessionID, candidateID, *req.Index)
		} else {
			st, err = h.manager.Flag(ctx, sessionID, candidateID, *req.Index)
		}

	case ws.ActionSubmit, ws.ActionRetrySubmit:
		sctx, cancel := context.WithTimeout(ctx, h.submitWait)
		if env.Action == ws.ActionSubmit {
			st, err = h.manager.ManualSubmit(sctx, sessionID, candidateID)
		} else {
			st, err = h.manager.RetrySubmission(sctx, sessionID, candidateID)
		}
		cancel()

	default:
		wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = conn.WriteError(env.Action, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		return
	}

	if err != nil {
		_, code := response.FromError(err)
		if code == response.ErrInternal {
			wsLog.Error().Err(err).Str("action", string(env.Action)).Msg("Action failed")
		}
		_ = conn.WriteError(env.Action, string(code), response.GetMessage(code))
		return
	}
	_ = conn.WriteTyped(ws.StatusResponse{Event: ws.EventStatus, Action: env.Action, Status: st})
}

// forward relays the session's published notifications to the socket.
func (h *WSHandler) forward(ctx context.Context, conn *ws.Conn, pubsub *redis.PubSub, wsLog zerolog.Logger) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			err := conn.WriteTyped(ws.NotificationResponse{
				Event:        ws.EventNotification,
				Notification: json.RawMessage(msg.Payload),
			})
			if err != nil {
				wsLog.Debug().Err(err).Msg("Notification write failed")
				return
			}
		}
	}
}

// keepAlive pings the client. A missed pong expires the read deadline,
// which ends the read loop.
func (h *WSHandler) keepAlive(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger) {
	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				wsLog.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (h *WSHandler) connected(ctx context.Context, sessionID uuid.UUID, candidateID string, wsLog zerolog.Logger) {
	h.mu.Lock()
	h.conns[sessionID]++
	first := h.conns[sessionID] == 1
	h.mu.Unlock()

	if first {
		if _, err := h.manager.SetConnectivity(ctx, sessionID, candidateID, true); err != nil {
			wsLog.Warn().Err(err).Msg("Failed to mark session online")
		}
	}
}

func (h *WSHandler) disconnected(sessionID uuid.UUID, candidateID string, wsLog zerolog.Logger) {
	h.mu.Lock()
	h.conns[sessionID]--
	last := h.conns[sessionID] <= 0
	if last {
		delete(h.conns, sessionID)
	}
	h.mu.Unlock()

	if !last {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.manager.SetConnectivity(ctx, sessionID, candidateID, false)
	if err != nil && !errors.Is(err, model.ErrSessionClosed) && !errors.Is(err, model.ErrSessionNotFound) {
		wsLog.Warn().Err(err).Msg("Failed to mark session offline")
	}
	wsLog.Info().Msg("Candidate disconnected")
}
