package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/edlive/livehub/internal/config"
	"github.com/edlive/livehub/internal/domain"
	"github.com/edlive/livehub/internal/hub"
	"github.com/edlive/livehub/internal/store"
)

// SessionController is the session lifecycle REST surface. Enrollment lives
// on the persisted record; live presence lives in the hub. The two are
// bridged by broadcasting enrollment changes to the session's realtime
// channel.
type SessionController struct {
	hub        *hub.Hub
	store      store.SessionStore
	defaultMax int
	adminToken string
}

func NewSessionController(cfg *config.Config, h *hub.Hub, st store.SessionStore) *SessionController {
	return &SessionController{
		hub:        h,
		store:      st,
		defaultMax: cfg.MaxParticipants,
		adminToken: cfg.AdminToken,
	}
}

func callerID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(userKey))
}

type createSessionRequest struct {
	Title           string    `json:"title" binding:"required"`
	Description     string    `json:"description"`
	Type            string    `json:"type"`
	ScheduledFor    time.Time `json:"scheduledFor"`
	MaxParticipants int       `json:"maxParticipants" binding:"omitempty,min=1"`
}

func (sc *SessionController) Create(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	maxParticipants := req.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = sc.defaultMax
	}
	scheduledFor := req.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = time.Now()
	}

	s := domain.NewLiveSession(callerID(c), req.Title, req.Description, req.Type, scheduledFor, maxParticipants)
	if err := sc.store.Create(c.Request.Context(), s); err != nil {
		log.Error().Err(err).Str("module", "api").Str("op", "create").Msg("store create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (sc *SessionController) List(c *gin.Context) {
	sessions, err := sc.store.ListForUser(c.Request.Context(), callerID(c))
	if err != nil {
		log.Error().Err(err).Str("module", "api").Str("op", "list").Msg("store list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

type joinSessionRequest struct {
	DeviceID string `json:"deviceId"`
}

func (sc *SessionController) Join(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, ok := sc.loadSession(c, "join", sessionID)
	if !ok {
		return
	}
	caller := callerID(c)
	if err := s.AddParticipant(caller, domain.DeviceID(req.DeviceID), time.Now()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is full"})
		return
	}
	if !sc.persist(c, "join", s) {
		return
	}

	for _, p := range s.Participants {
		if p.UserID == caller {
			sc.broadcast(sessionID, struct {
				Type        string             `json:"type"`
				Participant domain.Participant `json:"participant"`
			}{"participant_joined", p})
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": s})
}

func (sc *SessionController) Leave(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	s, ok := sc.loadSession(c, "leave", sessionID)
	if !ok {
		return
	}
	caller := callerID(c)
	if s.RemoveParticipant(caller) {
		if !sc.persist(c, "leave", s) {
			return
		}
		sc.broadcast(sessionID, struct {
			Type   string        `json:"type"`
			UserID domain.UserID `json:"userId"`
		}{"participant_left", caller})
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (sc *SessionController) UpdateStatus(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, ok := sc.loadSession(c, "status", sessionID)
	if !ok {
		return
	}
	if s.HostID != callerID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the host can update session status"})
		return
	}
	now := time.Now()
	if err := s.SetStatus(domain.SessionStatus(req.Status), now); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if !sc.persist(c, "status", s) {
		return
	}

	sc.broadcast(sessionID, struct {
		Type      string               `json:"type"`
		Status    domain.SessionStatus `json:"status"`
		Timestamp time.Time            `json:"timestamp"`
	}{"session_status_changed", s.Status, now})
	c.JSON(http.StatusOK, s)
}

func (sc *SessionController) Stats(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	s, ok := sc.loadSession(c, "stats", sessionID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"participantCount": len(s.Participants),
		"connectedDevices": sc.hub.ConnectedCount(sessionID),
		"duration":         s.Duration(time.Now()),
		"status":           s.Status,
	})
}

// ListDevices dumps the connection registry. Operational endpoint, gated by
// the admin token; disabled entirely when no token is configured.
func (sc *SessionController) ListDevices(c *gin.Context) {
	if sc.adminToken == "" || c.GetHeader("X-Admin-Token") != sc.adminToken {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, sc.hub.Devices())
}

func (sc *SessionController) loadSession(c *gin.Context, op string, id domain.SessionID) (*domain.LiveSession, bool) {
	s, err := sc.store.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("module", "api").Str("op", op).Str("session", string(id)).Msg("store get failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return nil, false
	}
	return s, true
}

func (sc *SessionController) persist(c *gin.Context, op string, s *domain.LiveSession) bool {
	if err := sc.store.Update(c.Request.Context(), s); err != nil {
		log.Error().Err(err).Str("module", "api").Str("op", op).Str("session", string(s.ID)).Msg("store update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update session"})
		return false
	}
	return true
}

func (sc *SessionController) broadcast(sessionID domain.SessionID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "api").Msg("broadcast marshal")
		return
	}
	sc.hub.BroadcastToSession(sessionID, b, "")
}
