package billflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/medvault/internal/domain/bills"
	"github.com/medvault/medvault/internal/platform/extract"
)

// StagedDocument is one uploaded page held by a session until the bill is
// saved. The blob already exists in storage; the ledger only learns about
// it at save time.
type StagedDocument struct {
	StorageKey  string `json:"storage_key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	PreviewURL  string `json:"preview_url,omitempty"`
}

// Session holds the transient state of one bill-capture workflow: the
// staged pages, the editable draft, the workflow state and any surfaced
// errors. Sessions are in-memory only; losing one never loses ledger data.
type Session struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	mu       sync.Mutex
	state    State
	gen      uint64
	staged   []StagedDocument
	draft    Draft
	analysis *extract.AnalysisReport
	billID   *uuid.UUID
	errs     map[string]string
	created  time.Time
}

// Region names for surfaced errors. Each error is scoped to the part of
// the workflow it came from so one failure never masks the others.
const (
	RegionDocuments = "documents"
	RegionDraft     = "draft"
	RegionAnalysis  = "analysis"
	RegionSave      = "save"
	RegionPayment   = "payment"
)

func newSession(owner uuid.UUID) *Session {
	return &Session{
		ID:      uuid.New(),
		OwnerID: owner,
		state:   StateIdle,
		gen:     1,
		errs:    map[string]string{},
		created: time.Now().UTC(),
	}
}

// generation returns the current generation counter. Any async work keyed
// to an older generation must discard its result on completion.
func (s *Session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Reset clears staged documents, draft and errors, bumps the generation so
// in-flight responses are discarded, and returns the blobs that were
// staged so the caller can release them.
func (s *Session) Reset() []StagedDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	orphaned := s.staged
	s.staged = nil
	s.draft = Draft{}
	s.analysis = nil
	s.billID = nil
	s.errs = map[string]string{}
	s.gen++
	s.state = StateIdle
	return orphaned
}

// appendStaged records an uploaded page. Pages land in completion order;
// concurrent uploads serialize here, not at upload time.
func (s *Session) appendStaged(doc StagedDocument) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := Transition(s.state, EventStage)
	if err != nil {
		return s.state, err
	}
	s.staged = append(s.staged, doc)
	s.state = next
	delete(s.errs, RegionDocuments)
	return next, nil
}

// removeStaged drops the page at idx and returns it for blob cleanup. A
// stale or repeated index is a no-op so retried deletes stay idempotent.
func (s *Session) removeStaged(idx int) (StagedDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.staged) {
		return StagedDocument{}, false
	}
	doc := s.staged[idx]
	s.staged = append(s.staged[:idx], s.staged[idx+1:]...)
	return doc, true
}

func (s *Session) setDraft(d Draft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Totals.Coerce()
	s.draft = d
	delete(s.errs, RegionDraft)
}

// SessionView is the wire representation of a session.
type SessionView struct {
	ID        uuid.UUID         `json:"id"`
	State     State             `json:"state"`
	Documents []StagedDocument  `json:"documents"`
	Draft     Draft             `json:"draft"`
	Analysis  *AnalysisView     `json:"analysis,omitempty"`
	BillID    *uuid.UUID        `json:"bill_id,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AnalysisView mirrors the pending analysis report for clients.
type AnalysisView struct {
	Summary       string               `json:"summary"`
	Findings      []bills.ErrorFinding `json:"findings"`
	Totals        bills.AnalysisTotals `json:"totals"`
	DisputeLetter *string              `json:"dispute_letter,omitempty"`
	AnalyzedAt    time.Time            `json:"analyzed_at"`
}

// View snapshots the session under its lock.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SessionView{
		ID:        s.ID,
		State:     s.state,
		Documents: append([]StagedDocument(nil), s.staged...),
		Draft:     s.draft,
		BillID:    s.billID,
		CreatedAt: s.created,
	}
	if s.analysis != nil {
		snap := snapshotFromReport(s.analysis)
		v.Analysis = &AnalysisView{
			Summary:       snap.Summary,
			Findings:      snap.Findings,
			Totals:        snap.Totals,
			DisputeLetter: snap.DisputeLetter,
			AnalyzedAt:    snap.AnalyzedAt,
		}
	}
	if len(s.errs) > 0 {
		v.Errors = map[string]string{}
		for k, val := range s.errs {
			v.Errors[k] = val
		}
	}
	return v
}

// SessionManager tracks live capture sessions by ID.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: map[uuid.UUID]*Session{}}
}

func (m *SessionManager) Create(owner uuid.UUID) *Session {
	s := newSession(owner)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *SessionManager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes a session. The returned documents are the staged blobs
// that were never committed to a bill.
func (m *SessionManager) Remove(id uuid.UUID) []StagedDocument {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Reset()
}
