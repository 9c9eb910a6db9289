package honeypot

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	StatusOngoing       = "ONGOING"
	StatusScamConfirmed = "SCAM_CONFIRMED"
)

// ErrSessionNotFound is returned for reads/deletes on an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Turn is one message of the conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is the append-only transcript. It is persisted whole on every save
// as a JSON column; no positional updates ever happen.
type History []Turn

func (h History) Value() (driver.Value, error) {
	if h == nil {
		h = History{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *History) Scan(value any) error {
	if value == nil {
		*h = History{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("history: unsupported column type %T", value)
	}
	if len(b) == 0 {
		*h = History{}
		return nil
	}
	return json.Unmarshal(b, h)
}

// Session is one conversation thread with a suspected scammer.
type Session struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	History    History   `gorm:"type:text" json:"history"`
	IsScam     bool      `gorm:"index" json:"is_scam"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Status maps the scam flag to the public status label.
func (s *Session) Status() string {
	if s.IsScam {
		return StatusScamConfirmed
	}
	return StatusOngoing
}

// Title derives the sidebar title: first user message truncated to 30 runes.
func (s *Session) Title() string {
	for _, t := range s.History {
		if t.Role != RoleUser {
			continue
		}
		r := []rune(t.Content)
		if len(r) > 30 {
			return string(r[:30]) + "..."
		}
		return t.Content
	}
	return "New Chat"
}

// Extracted holds the entities pulled out of a scam-positive turn.
type Extracted struct {
	UPI             []string `json:"upi"`
	Phones          []string `json:"phones"`
	Emails          []string `json:"emails"`
	Links           []string `json:"links"`
	PaymentRequests []string `json:"payment_requests"`
	ScamType        string   `json:"scam_type"`
}

// EmptyExtracted returns the all-empty shape (lists present, not null).
func EmptyExtracted() Extracted {
	return Extracted{
		UPI:             []string{},
		Phones:          []string{},
		Emails:          []string{},
		Links:           []string{},
		PaymentRequests: []string{},
	}
}

func (e Extracted) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *Extracted) Scan(value any) error {
	if value == nil {
		*e = EmptyExtracted()
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("extracted: unsupported column type %T", value)
	}
	if len(b) == 0 {
		*e = EmptyExtracted()
		return nil
	}
	return json.Unmarshal(b, e)
}

// IntelRecord is one turn's extraction snapshot. Records are append-only; a
// session accumulates one per scam-positive turn.
type IntelRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"index;size:36" json:"session_id"`
	Extracted Extracted `gorm:"type:text" json:"extracted"`
	ScamType  string    `gorm:"size:64;index" json:"scam_type"`
	CreatedAt time.Time `json:"created_at"`
}

func (IntelRecord) TableName() string { return "scam_intel" }

// TurnResult is the normalized generator output for a single turn. It is
// never persisted directly.
type TurnResult struct {
	Reply      string
	IsScam     bool
	Confidence float64
	Extracted  Extracted
}
