package honeypot

import "time"

type TurnJobStatus string

const (
	TurnJobQueued    TurnJobStatus = "queued"
	TurnJobRunning   TurnJobStatus = "running"
	TurnJobSucceeded TurnJobStatus = "succeeded"
	TurnJobFailed    TurnJobStatus = "failed"
)

// TurnJob is an asynchronously processed inbound turn. SessionID may be empty
// on enqueue; the worker then creates the session, and ResultSessionID tells
// the caller which one.
type TurnJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	SessionID string `gorm:"size:36;index"`
	Message   string `gorm:"type:text;not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_turn_job_idempo,unique" json:"idempotency_key"`

	Status TurnJobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	ResultSessionID *string  `gorm:"size:36"`
	Reply           *string  `gorm:"type:text"`
	ScamStatus      *string  `gorm:"size:16"`
	Confidence      *float64

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TurnJob) TableName() string { return "turn_jobs" }
