package honeypot

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/deceptly/honeypot/internal/ai"
)

// SessionLocker serializes turn processing for one session across processes
// (API server and worker). Acquire blocks until the lease is held or ctx
// ends; the returned func releases it.
type SessionLocker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// TurnResponse is the public result of one processed turn.
type TurnResponse struct {
	SessionID  string    `json:"session_id"`
	Reply      string    `json:"reply"`
	ScamStatus string    `json:"scam_status"`
	Confidence float64   `json:"confidence"`
	Extracted  Extracted `json:"extracted"`
}

// SessionSummary is the sidebar view of a session.
type SessionSummary struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	IsScam     bool    `json:"is_scam"`
	Confidence float64 `json:"confidence"`
}

// SessionDetail is the full view: transcript plus the current extraction
// derived from the latest intelligence record.
type SessionDetail struct {
	ID         string    `json:"id"`
	History    History   `json:"history"`
	IsScam     bool      `json:"is_scam"`
	Confidence float64   `json:"confidence"`
	Extracted  Extracted `json:"extracted"`
}

type Options struct {
	Provider       string
	Model          string
	GenTimeout     time.Duration
	BlockedPhrases []string

	// MonotonicConfirmation keeps is_scam latched once a turn confirms it.
	// False preserves the original latest-turn-wins behavior.
	MonotonicConfirmation bool

	// Locker is optional; without it only in-process serialization applies.
	Locker SessionLocker
}

// Service orchestrates one inbound turn end to end. It is the only component
// with write access to session and intelligence storage.
type Service struct {
	repo       *Repo
	registry   *ai.Registry
	normalizer *Normalizer
	filter     *SafetyFilter
	agg        Aggregator
	opts       Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(repo *Repo, registry *ai.Registry, opts Options) *Service {
	if opts.Provider == "" {
		opts.Provider = "ollama"
	}
	if opts.GenTimeout <= 0 {
		opts.GenTimeout = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		registry:   registry,
		normalizer: NewNormalizer(),
		filter:     NewSafetyFilter(opts.BlockedPhrases),
		opts:       opts,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *Service) sessionMutex(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	return m
}

// lockSession serializes the session in-process and, when a locker is
// configured, across processes. It must be held before the session row is
// read so concurrent turns never work from the same snapshot.
func (s *Service) lockSession(ctx context.Context, id string) func() {
	m := s.sessionMutex(id)
	m.Lock()

	release := func() {}
	if s.opts.Locker != nil {
		r, err := s.opts.Locker.Acquire(ctx, id)
		if err != nil {
			log.Printf("[SubmitTurn] session lock unavailable session=%s err=%v", id, err)
		} else {
			release = r
		}
	}
	return func() {
		release()
		m.Unlock()
	}
}

// SubmitTurn processes one inbound message: resolve session, append the user
// turn, generate, normalize, sanitize, append the assistant turn, update the
// assessment, and commit everything atomically. The scammer-facing reply
// never carries an error; only storage failures surface to the caller.
func (s *Service) SubmitTurn(ctx context.Context, sessionID, message string) (*TurnResponse, error) {
	var sess *Session

	if sessionID != "" {
		unlock := s.lockSession(ctx, sessionID)
		defer unlock()

		loaded, err := s.repo.GetSession(ctx, sessionID)
		if err != nil && err != ErrSessionNotFound {
			return nil, err
		}
		sess = loaded
	}

	// An absent or unknown id is not an error on the turn path: start fresh.
	if sess == nil {
		created, err := s.repo.CreateSession(ctx)
		if err != nil {
			return nil, err
		}
		unlock := s.lockSession(ctx, created.ID)
		defer unlock()
		sess = created
	}

	sess.History = append(sess.History, Turn{Role: RoleUser, Content: message})

	res, genFailed := s.generate(ctx, sess.History)

	// The filter runs on every reply, fallback defaults included.
	res.Reply = s.filter.Sanitize(res.Reply)

	sess.History = append(sess.History, Turn{Role: RoleAssistant, Content: res.Reply})

	// A failed generation must not disturb the session's prior assessment.
	if !genFailed {
		if s.opts.MonotonicConfirmation {
			sess.IsScam = sess.IsScam || res.IsScam
		} else {
			sess.IsScam = res.IsScam
		}
		sess.Confidence = res.Confidence
	}

	intel := s.agg.RecordFor(sess.ID, res)

	if err := s.repo.CommitTurn(ctx, sess, intel); err != nil {
		return nil, err
	}

	return &TurnResponse{
		SessionID:  sess.ID,
		Reply:      res.Reply,
		ScamStatus: sess.Status(),
		Confidence: sess.Confidence,
		Extracted:  res.Extracted,
	}, nil
}

// generate invokes the provider under the configured timeout and normalizes
// its output. genFailed reports a hard failure (tier 3).
func (s *Service) generate(ctx context.Context, history History) (TurnResult, bool) {
	provider, err := s.registry.Get(ctx, s.opts.Provider, s.opts.Model)
	if err != nil {
		log.Printf("[SubmitTurn] provider unavailable provider=%s err=%v", s.opts.Provider, err)
		return FallbackResult(), true
	}

	genCtx, cancel := context.WithTimeout(ctx, s.opts.GenTimeout)
	defer cancel()

	raw, err := provider.Chat(genCtx, BuildPrompt(history))
	if err != nil {
		log.Printf("[SubmitTurn] generation failed provider=%s err=%v", s.opts.Provider, err)
		return FallbackResult(), true
	}
	return s.normalizer.Normalize(raw), false
}

func (s *Service) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	sessions, err := s.repo.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		out = append(out, SessionSummary{
			ID:         sess.ID,
			Title:      sess.Title(),
			IsScam:     sess.IsScam,
			Confidence: sess.Confidence,
		})
	}
	return out, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.LatestIntel(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{
		ID:         sess.ID,
		History:    sess.History,
		IsScam:     sess.IsScam,
		Confidence: sess.Confidence,
		Extracted:  s.agg.CurrentExtraction(rec),
	}, nil
}

// DeleteSession removes the session and its intelligence records together.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.repo.DeleteSessionWithIntel(ctx, id)
}

// Async turn jobs

func (s *Service) CreateTurnJobOrGetExisting(ctx context.Context, job *TurnJob) (*TurnJob, bool, error) {
	return s.repo.CreateTurnJobOrGetExisting(ctx, job)
}

func (s *Service) GetTurnJob(ctx context.Context, id string) (*TurnJob, error) {
	return s.repo.GetTurnJob(ctx, id)
}

// ProcessTurnJob runs one queued job through the same turn pipeline and
// records its outcome.
func (s *Service) ProcessTurnJob(ctx context.Context, jobID string) error {
	_ = s.repo.MarkTurnJobRunning(ctx, jobID)

	job, err := s.repo.GetTurnJob(ctx, jobID)
	if err != nil {
		return err
	}

	resp, err := s.SubmitTurn(ctx, job.SessionID, job.Message)
	if err != nil {
		_ = s.repo.MarkTurnJobFailed(ctx, jobID, err.Error())
		return err
	}
	return s.repo.MarkTurnJobSucceeded(ctx, jobID, resp)
}
