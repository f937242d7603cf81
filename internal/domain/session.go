package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusActive    SessionStatus = "active"
	StatusEnded     SessionStatus = "ended"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusEnded:
		return true
	}
	return false
}

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleParticipant ParticipantRole = "participant"
)

const DefaultMaxParticipants = 50

var (
	ErrSessionFull   = errors.New("session is full")
	ErrNotHost       = errors.New("only the host may update the session")
	ErrInvalidStatus = errors.New("invalid session status")
)

// Participant is an enrollment entry on the persisted session record. It is
// distinct from the hub's ephemeral device membership: enrollment survives a
// dropped connection.
type Participant struct {
	UserID   UserID          `json:"userId"`
	JoinedAt time.Time       `json:"joinedAt"`
	Role     ParticipantRole `json:"role"`
	DeviceID DeviceID        `json:"deviceId,omitempty"`
}

type SessionSettings struct {
	AllowScreenShare bool `json:"allowScreenShare"`
	AllowChat        bool `json:"allowChat"`
	RecordSession    bool `json:"recordSession"`
	RequireApproval  bool `json:"requireApproval"`
}

func DefaultSessionSettings() SessionSettings {
	return SessionSettings{AllowScreenShare: true, AllowChat: true}
}

// LiveSession is the persisted session record, owned by the store.
type LiveSession struct {
	ID              SessionID       `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Type            string          `json:"type"`
	HostID          UserID          `json:"hostId"`
	Status          SessionStatus   `json:"status"`
	ScheduledFor    time.Time       `json:"scheduledFor"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	EndedAt         *time.Time      `json:"endedAt,omitempty"`
	MaxParticipants int             `json:"maxParticipants"`
	Participants    []Participant   `json:"participants"`
	Settings        SessionSettings `json:"settings"`
}

func NewLiveSession(hostID UserID, title, description, typ string, scheduledFor time.Time, maxParticipants int) *LiveSession {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &LiveSession{
		ID:              SessionID(uuid.NewString()),
		Title:           title,
		Description:     description,
		Type:            typ,
		HostID:          hostID,
		Status:          StatusScheduled,
		ScheduledFor:    scheduledFor,
		MaxParticipants: maxParticipants,
		Participants:    []Participant{},
		Settings:        DefaultSessionSettings(),
	}
}

func (s *LiveSession) HasParticipant(userID UserID) bool {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// AddParticipant enrolls a user. Re-joining is a no-op; a full session returns
// ErrSessionFull without mutating the list. The host enrolls with RoleHost.
func (s *LiveSession) AddParticipant(userID UserID, deviceID DeviceID, now time.Time) error {
	if s.HasParticipant(userID) {
		return nil
	}
	if len(s.Participants) >= s.MaxParticipants {
		return ErrSessionFull
	}
	role := RoleParticipant
	if userID == s.HostID {
		role = RoleHost
	}
	s.Participants = append(s.Participants, Participant{
		UserID:   userID,
		JoinedAt: now,
		Role:     role,
		DeviceID: deviceID,
	})
	return nil
}

func (s *LiveSession) RemoveParticipant(userID UserID) bool {
	for i, p := range s.Participants {
		if p.UserID == userID {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// SetStatus transitions the session. StartedAt and EndedAt are set on the
// first transition to active/ended and never overwritten afterwards.
func (s *LiveSession) SetStatus(status SessionStatus, now time.Time) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	s.Status = status
	switch status {
	case StatusActive:
		if s.StartedAt == nil {
			t := now
			s.StartedAt = &t
		}
	case StatusEnded:
		if s.EndedAt == nil {
			t := now
			s.EndedAt = &t
		}
	}
	return nil
}

// Duration reports whole seconds from start until end, or until now for a
// session that is still running. Zero if the session never started.
func (s *LiveSession) Duration(now time.Time) int64 {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	d := int64(end.Sub(*s.StartedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
