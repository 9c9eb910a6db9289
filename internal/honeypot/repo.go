package honeypot

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// CreateSession inserts a fresh session: generated id, empty history, not
// scam, zero confidence.
func (r *Repo) CreateSession(ctx context.Context) (*Session, error) {
	s := &Session{
		ID:      uuid.NewString(),
		History: History{},
	}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repo) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// CommitTurn persists the turn outcome atomically: the session row (whole
// history replaced) and, when non-nil, the intelligence record. Either both
// land or the turn is not durably recorded.
func (r *Repo) CommitTurn(ctx context.Context, s *Session, intel *IntelRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(s).Error; err != nil {
			return err
		}
		if intel != nil {
			if err := tx.Create(intel).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteSessionWithIntel removes a session and every intelligence record that
// references it, together.
func (r *Repo) DeleteSessionWithIntel(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Session{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		return tx.Delete(&IntelRecord{}, "session_id = ?", id).Error
	})
}

// LatestIntel returns the most recently created record for the session, or
// nil when none exists.
func (r *Repo) LatestIntel(ctx context.Context, sessionID string) (*IntelRecord, error) {
	var rec IntelRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *Repo) ListIntel(ctx context.Context, sessionID string) ([]IntelRecord, error) {
	var recs []IntelRecord
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Turn job CRUD

func (r *Repo) CreateTurnJob(ctx context.Context, job *TurnJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetTurnJob(ctx context.Context, id string) (*TurnJob, error) {
	var j TurnJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkTurnJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ? AND status = ?", id, TurnJobQueued).
		Update("status", TurnJobRunning).Error
}

func (r *Repo) MarkTurnJobSucceeded(ctx context.Context, id string, resp *TurnResponse) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            TurnJobSucceeded,
			"result_session_id": resp.SessionID,
			"reply":             resp.Reply,
			"scam_status":       resp.ScamStatus,
			"confidence":        resp.Confidence,
			"error":             nil,
		}).Error
}

func (r *Repo) MarkTurnJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&TurnJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": TurnJobFailed,
			"error":  errMsg,
		}).Error
}

func (r *Repo) GetTurnJobByIdempotencyKey(ctx context.Context, key string) (*TurnJob, error) {
	var j TurnJob
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateTurnJobOrGetExisting tries to create a job; when the idempotency key
// already exists it returns the existing job instead.
func (r *Repo) CreateTurnJobOrGetExisting(ctx context.Context, job *TurnJob) (*TurnJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetTurnJobByIdempotencyKey(ctx, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
