package honeypot

import "github.com/google/uuid"

// Aggregator decides whether a turn yields an intelligence record and derives
// the "current extraction" view of a session.
type Aggregator struct{}

// RecordFor returns a new snapshot record for a scam-positive turn, nil
// otherwise. Snapshots are never merged across turns.
func (Aggregator) RecordFor(sessionID string, res TurnResult) *IntelRecord {
	if !res.IsScam {
		return nil
	}
	return &IntelRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Extracted: res.Extracted,
		ScamType:  res.Extracted.ScamType,
	}
}

// CurrentExtraction overlays the denormalized scam_type onto the most recent
// record's extraction. The overlay is idempotent. A nil record yields the
// empty shape.
func (Aggregator) CurrentExtraction(rec *IntelRecord) Extracted {
	if rec == nil {
		return EmptyExtracted()
	}
	e := ensureLists(rec.Extracted)
	if rec.ScamType != "" {
		e.ScamType = rec.ScamType
	}
	return e
}
