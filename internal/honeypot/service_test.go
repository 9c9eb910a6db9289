package honeypot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/deceptly/honeypot/internal/ai"
)

// scriptedProvider returns queued outputs (or errors) in order and records
// the message sequences it was given.
type scriptedProvider struct {
	outputs []string
	errs    []error
	calls   int
	last    []ai.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	p.last = append([]ai.Message(nil), messages...)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.outputs) {
		return p.outputs[i], nil
	}
	return `{"reply":"ok","is_scam":false,"confidence":0.1,"extracted":{}}`, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// named per-test so pooled connections share one database and tests
	// stay isolated from each other
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &IntelRecord{}, &TurnJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, prov ai.Provider, opts Options) *Service {
	t.Helper()
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	opts.Provider = "fake"
	return NewService(NewRepo(db), reg, opts)
}

func TestSubmitTurn_CreatesSessionWhenNoID(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{outputs: []string{
		`{"reply":"hello ji","is_scam":false,"confidence":0.1,"extracted":{}}`,
	}}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected a fresh session id")
	}
	if resp.ScamStatus != StatusOngoing {
		t.Fatalf("expected ONGOING, got %q", resp.ScamStatus)
	}
	if resp.Reply != "hello ji" {
		t.Fatalf("unexpected reply: %q", resp.Reply)
	}

	var sess Session
	if err := db.First(&sess, "id = ?", resp.SessionID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(sess.History) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(sess.History))
	}
	if sess.History[0].Role != RoleUser || sess.History[0].Content != "hello" {
		t.Fatalf("unexpected user turn: %+v", sess.History[0])
	}
	if sess.History[1].Role != RoleAssistant || sess.History[1].Content != "hello ji" {
		t.Fatalf("unexpected assistant turn: %+v", sess.History[1])
	}
}

func TestSubmitTurn_UnknownIDCreatesSession(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "no-such-session", "hi")
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if resp.SessionID == "no-such-session" {
		t.Fatalf("expected a generated id, got the unknown one back")
	}
}

func TestSubmitTurn_PromptContainsSystemAndHistory(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "first")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := svc.SubmitTurn(context.Background(), resp.SessionID, "second"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	// system + (user, assistant, user) from the second call
	if len(prov.last) != 4 {
		t.Fatalf("expected 4 prompt messages, got %d", len(prov.last))
	}
	if prov.last[0].Role != "system" {
		t.Fatalf("expected system message first, got %q", prov.last[0].Role)
	}
	if prov.last[3].Role != RoleUser || prov.last[3].Content != "second" {
		t.Fatalf("expected newest user message last, got %+v", prov.last[3])
	}
}

func TestSubmitTurn_BlockedReplyIsReplaced(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{outputs: []string{
		`{"reply":"i sent the money already","is_scam":true,"confidence":0.9,"extracted":{}}`,
	}}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "pay me now")
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if resp.Reply == "i sent the money already" {
		t.Fatalf("blocked phrase leaked through")
	}
	if resp.Reply != stallReply {
		t.Fatalf("expected stall reply, got %q", resp.Reply)
	}
	if resp.ScamStatus != StatusScamConfirmed {
		t.Fatalf("expected SCAM_CONFIRMED, got %q", resp.ScamStatus)
	}
	if resp.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", resp.Confidence)
	}

	// the persisted assistant turn is the sanitized one
	var sess Session
	if err := db.First(&sess, "id = ?", resp.SessionID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.History[1].Content != stallReply {
		t.Fatalf("persisted unsanitized reply: %q", sess.History[1].Content)
	}
}

func TestSubmitTurn_GeneratorFailure(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{errs: []error{errors.New("transport down")}}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}
	if resp.Reply != failureReply {
		t.Fatalf("expected technical-difficulty reply, got %q", resp.Reply)
	}
	if resp.ScamStatus != StatusOngoing {
		t.Fatalf("expected ONGOING, got %q", resp.ScamStatus)
	}
	if resp.Confidence != 0.0 {
		t.Fatalf("expected confidence 0, got %v", resp.Confidence)
	}

	var count int64
	if err := db.Model(&IntelRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count intel: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no intel records, got %d", count)
	}
}

func TestSubmitTurn_GeneratorFailureKeepsPriorAssessment(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{
		outputs: []string{`{"reply":"send to my upi","is_scam":true,"confidence":0.8,"extracted":{"scam_type":"upi_fraud"}}`},
		errs:    []error{nil, errors.New("timeout")},
	}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "pay to x@upi")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if resp.ScamStatus != StatusScamConfirmed {
		t.Fatalf("turn 1 should confirm, got %q", resp.ScamStatus)
	}

	resp2, err := svc.SubmitTurn(context.Background(), resp.SessionID, "hello?")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if resp2.ScamStatus != StatusScamConfirmed {
		t.Fatalf("failed generation reset the confirmed state")
	}
	if resp2.Confidence != 0.8 {
		t.Fatalf("failed generation changed confidence: %v", resp2.Confidence)
	}
	// the transcript still grows by a user/assistant pair
	var sess Session
	if err := db.First(&sess, "id = ?", resp.SessionID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(sess.History) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(sess.History))
	}
}

func TestSubmitTurn_LatestTurnWinsByDefault(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{outputs: []string{
		`{"reply":"ok","is_scam":true,"confidence":0.9,"extracted":{"scam_type":"upi_fraud"}}`,
		`{"reply":"ok","is_scam":false,"confidence":0.2,"extracted":{}}`,
	}}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "one")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	resp2, err := svc.SubmitTurn(context.Background(), resp.SessionID, "two")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if resp2.ScamStatus != StatusOngoing {
		t.Fatalf("expected latest-turn-wins revert to ONGOING, got %q", resp2.ScamStatus)
	}
}

func TestSubmitTurn_MonotonicConfirmation(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{outputs: []string{
		`{"reply":"ok","is_scam":true,"confidence":0.9,"extracted":{}}`,
		`{"reply":"ok","is_scam":false,"confidence":0.2,"extracted":{}}`,
	}}
	svc := newTestService(t, db, prov, Options{MonotonicConfirmation: true})

	resp, err := svc.SubmitTurn(context.Background(), "", "one")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	resp2, err := svc.SubmitTurn(context.Background(), resp.SessionID, "two")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if resp2.ScamStatus != StatusScamConfirmed {
		t.Fatalf("monotonic mode lost the confirmed state")
	}
	if resp2.Confidence != 0.2 {
		t.Fatalf("confidence should still track the latest turn, got %v", resp2.Confidence)
	}
}

func TestSubmitTurn_HistoryLengthIsTwoPerTurn(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{}
	svc := newTestService(t, db, prov, Options{})

	var sessionID string
	for i := 0; i < 3; i++ {
		resp, err := svc.SubmitTurn(context.Background(), sessionID, "msg")
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		sessionID = resp.SessionID
	}

	var sess Session
	if err := db.First(&sess, "id = ?", sessionID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(sess.History) != 6 {
		t.Fatalf("expected 6 turns after 3 submits, got %d", len(sess.History))
	}
	for i, turn := range sess.History {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if turn.Role != want {
			t.Fatalf("turn %d: expected role %q, got %q", i, want, turn.Role)
		}
	}
}

func TestGetSession_MostRecentIntelOverlay(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{outputs: []string{
		`{"reply":"ok","is_scam":true,"confidence":0.9,"extracted":{"upi":["fraud@upi"],"phones":[],"emails":[],"links":[],"payment_requests":[],"scam_type":"upi_fraud"}}`,
		`{"reply":"ok","is_scam":false,"confidence":0.1,"extracted":{}}`,
	}}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "one")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := svc.SubmitTurn(context.Background(), resp.SessionID, "two"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	detail, err := svc.GetSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	// the negative second turn created no record; the view still shows the
	// first turn's extraction
	if detail.Extracted.ScamType != "upi_fraud" {
		t.Fatalf("expected scam_type upi_fraud, got %q", detail.Extracted.ScamType)
	}
	if len(detail.Extracted.UPI) != 1 || detail.Extracted.UPI[0] != "fraud@upi" {
		t.Fatalf("expected upi extraction to survive, got %v", detail.Extracted.UPI)
	}
	if detail.IsScam {
		t.Fatalf("session flag should reflect the latest turn")
	}
}

func TestGetSession_Idempotent(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}

	a, err := svc.GetSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("get 1: %v", err)
	}
	b, err := svc.GetSession(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if a.ID != b.ID || len(a.History) != len(b.History) || a.IsScam != b.IsScam || a.Confidence != b.Confidence {
		t.Fatalf("consecutive reads differ: %+v vs %+v", a, b)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &scriptedProvider{}, Options{})

	if _, err := svc.GetSession(context.Background(), "nope"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDeleteSession_RemovesIntelRecords(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{outputs: []string{
		`{"reply":"ok","is_scam":true,"confidence":0.9,"extracted":{"scam_type":"upi_fraud"}}`,
		`{"reply":"ok","is_scam":true,"confidence":0.95,"extracted":{"scam_type":"upi_fraud"}}`,
	}}
	svc := newTestService(t, db, prov, Options{})

	resp, err := svc.SubmitTurn(context.Background(), "", "one")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := svc.SubmitTurn(context.Background(), resp.SessionID, "two"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	var count int64
	if err := db.Model(&IntelRecord{}).Where("session_id = ?", resp.SessionID).Count(&count).Error; err != nil {
		t.Fatalf("count intel: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 intel records, got %d", count)
	}

	if err := svc.DeleteSession(context.Background(), resp.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.GetSession(context.Background(), resp.SessionID); err != ErrSessionNotFound {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
	if err := db.Model(&IntelRecord{}).Where("session_id = ?", resp.SessionID).Count(&count).Error; err != nil {
		t.Fatalf("count intel: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected intel records removed, got %d", count)
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &scriptedProvider{}, Options{})

	if err := svc.DeleteSession(context.Background(), "nope"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListSessions_Titles(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{}
	svc := newTestService(t, db, prov, Options{})

	long := "this message is well over thirty characters long"
	resp, err := svc.SubmitTurn(context.Background(), "", long)
	if err != nil {
		t.Fatalf("submit turn: %v", err)
	}

	list, err := svc.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	if list[0].ID != resp.SessionID {
		t.Fatalf("unexpected id %q", list[0].ID)
	}
	want := string([]rune(long)[:30]) + "..."
	if list[0].Title != want {
		t.Fatalf("expected title %q, got %q", want, list[0].Title)
	}
}

func TestProcessTurnJob(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{outputs: []string{
		`{"reply":"why sir","is_scam":true,"confidence":0.7,"extracted":{"scam_type":"lottery"}}`,
	}}
	svc := newTestService(t, db, prov, Options{})

	job := &TurnJob{ID: "01HTESTJOB0000000000000000", Message: "you won a lottery", Status: TurnJobQueued}
	if _, _, err := svc.CreateTurnJobOrGetExisting(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := svc.ProcessTurnJob(context.Background(), job.ID); err != nil {
		t.Fatalf("process job: %v", err)
	}

	got, err := svc.GetTurnJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != TurnJobSucceeded {
		t.Fatalf("expected succeeded, got %q", got.Status)
	}
	if got.ResultSessionID == nil || *got.ResultSessionID == "" {
		t.Fatalf("expected a result session id")
	}
	if got.Reply == nil || *got.Reply != "why sir" {
		t.Fatalf("unexpected reply: %v", got.Reply)
	}
	if got.ScamStatus == nil || *got.ScamStatus != StatusScamConfirmed {
		t.Fatalf("unexpected scam status: %v", got.ScamStatus)
	}
}

// slowEchoProvider stalls long enough for racing turns to overlap and
// replies with the last user message it was shown.
type slowEchoProvider struct {
	delay time.Duration
}

func (p *slowEchoProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	time.Sleep(p.delay)
	last := messages[len(messages)-1]
	return fmt.Sprintf(`{"reply":"echo: %s","is_scam":false,"confidence":0.1,"extracted":{}}`, last.Content), nil
}

func TestSubmitTurn_ConcurrentTurnsKeepPairsIntact(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &slowEchoProvider{delay: 30 * time.Millisecond}, Options{})

	sess, err := NewRepo(db).CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var wg sync.WaitGroup
	for _, msg := range []string{"first message", "second message"} {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			if _, err := svc.SubmitTurn(context.Background(), sess.ID, m); err != nil {
				t.Errorf("submit %q: %v", m, err)
			}
		}(msg)
	}
	wg.Wait()

	got, err := NewRepo(db).GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(got.History) != 4 {
		t.Fatalf("expected 4 turns, got %d: %+v", len(got.History), got.History)
	}
	seen := map[string]bool{}
	for i := 0; i < len(got.History); i += 2 {
		user, assistant := got.History[i], got.History[i+1]
		if user.Role != RoleUser || assistant.Role != RoleAssistant {
			t.Fatalf("turn %d not a user/assistant pair: %+v %+v", i, user, assistant)
		}
		if assistant.Content != "echo: "+user.Content {
			t.Fatalf("pair %d split across requests: user=%q assistant=%q", i, user.Content, assistant.Content)
		}
		seen[user.Content] = true
	}
	if !seen["first message"] || !seen["second message"] {
		t.Fatalf("a message was lost: %+v", got.History)
	}
}

// countingLocker tracks lease nesting so the test can prove turns never
// overlap while a lease is held.
type countingLocker struct {
	mu       sync.Mutex
	held     int
	acquired int
	released int
}

func (l *countingLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	_ = ctx
	_ = sessionID
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held != 0 {
		return nil, fmt.Errorf("lease already held")
	}
	l.held++
	l.acquired++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held--
		l.released++
	}, nil
}

func TestSubmitTurn_LockerBracketsEveryTurn(t *testing.T) {
	db := openTestDB(t)
	locker := &countingLocker{}
	svc := newTestService(t, db, &slowEchoProvider{delay: 10 * time.Millisecond}, Options{Locker: locker})

	sess, err := NewRepo(db).CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := svc.SubmitTurn(context.Background(), sess.ID, fmt.Sprintf("msg %d", n)); err != nil {
				t.Errorf("submit %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if locker.acquired != 3 || locker.released != 3 {
		t.Fatalf("expected 3 acquire/release pairs, got %d/%d", locker.acquired, locker.released)
	}
	if locker.held != 0 {
		t.Fatalf("lease still held after all turns: %d", locker.held)
	}
}
