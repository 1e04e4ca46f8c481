// Package billflow drives the bill-capture workflow: staging scanned
// pages, requesting extraction, merging the draft, committing the bill to
// the ledger in one write, and brokering payment intents. All session
// state here is transient; the ledger in the bills package is the only
// durable record.
package billflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/domain/bills"
	"github.com/medvault/medvault/internal/platform/blobstore"
	"github.com/medvault/medvault/internal/platform/extract"
	"github.com/medvault/medvault/internal/platform/payments"
)

// ErrStaleSession marks a response that arrived after the session it was
// started for had been reset or closed. Its result is discarded.
var ErrStaleSession = errors.New("session was reset while request was in flight")

// Extractor is the document-intelligence surface the orchestrator needs.
type Extractor interface {
	Extract(ctx context.Context, docs []extract.DocumentRef) (*extract.DraftBillFields, error)
	Analyze(ctx context.Context, doc extract.DocumentRef) (*extract.AnalysisReport, error)
}

// Orchestrator wires sessions to blob storage, the extraction service, the
// bill ledger and the payment broker.
type Orchestrator struct {
	sessions *SessionManager
	docai    Extractor
	broker   payments.Broker
	ledger   *bills.Service
	blobs    blobstore.Store
	logger   zerolog.Logger
}

func NewOrchestrator(sessions *SessionManager, docai Extractor, broker payments.Broker, ledger *bills.Service, blobs blobstore.Store, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		docai:    docai,
		broker:   broker,
		ledger:   ledger,
		blobs:    blobs,
		logger:   logger.With().Str("component", "billflow").Logger(),
	}
}

func (o *Orchestrator) StartSession(owner uuid.UUID) *Session {
	return o.sessions.Create(owner)
}

func (o *Orchestrator) Session(id uuid.UUID) (*Session, bool) {
	return o.sessions.Get(id)
}

// CloseSession discards the session and releases any staged blobs that
// were never committed to a bill. Blob deletion is best effort.
func (o *Orchestrator) CloseSession(ctx context.Context, id uuid.UUID) {
	for _, doc := range o.sessions.Remove(id) {
		o.releaseBlob(ctx, doc.StorageKey)
	}
}

// Stage validates and uploads one page, then appends it to the session.
// Validation happens before any byte reaches storage so a rejected file
// leaves nothing behind. Concurrent stage calls append in completion
// order, which may differ from the order the uploads began.
func (o *Orchestrator) Stage(ctx context.Context, s *Session, fileName, contentType string, size int64, content io.Reader) (*StagedDocument, error) {
	if fileName == "" {
		return nil, &bills.ValidationError{Field: "file_name", Reason: "is required"}
	}
	if !blobstore.AllowedDocumentTypes[contentType] {
		return nil, &bills.ValidationError{Field: "content_type", Reason: fmt.Sprintf("%s is not a supported document type", contentType)}
	}
	if size > blobstore.MaxFileSize {
		return nil, &bills.ValidationError{Field: "size", Reason: "file exceeds the 50 MiB limit"}
	}

	meta, err := o.blobs.Upload(ctx, blobstore.Metadata{
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
		OwnerID:     s.OwnerID.String(),
		Category:    "bill-page",
	}, content)
	if err != nil {
		return nil, fmt.Errorf("upload staged document: %w", err)
	}

	doc := StagedDocument{
		StorageKey:  meta.Key,
		FileName:    meta.FileName,
		ContentType: meta.ContentType,
		Size:        meta.Size,
	}
	if url, err := o.blobs.DownloadURL(ctx, meta.Key); err == nil {
		doc.PreviewURL = url
	}

	if _, err := s.appendStaged(doc); err != nil {
		// session moved somewhere staging is illegal; drop the orphan blob
		o.releaseBlob(ctx, meta.Key)
		return nil, err
	}
	return &doc, nil
}

// Unstage removes the page at idx and releases its blob. Unknown indexes
// are a no-op so a retried delete cannot fail.
func (o *Orchestrator) Unstage(ctx context.Context, s *Session, idx int) {
	if doc, ok := s.removeStaged(idx); ok {
		o.releaseBlob(ctx, doc.StorageKey)
	}
}

// UpdateDraft replaces the session draft with the user's edits.
func (o *Orchestrator) UpdateDraft(s *Session, d Draft) {
	s.setDraft(d)
}

// ExtractResult carries the merged draft plus the outcome of the follow-up
// analysis. AnalysisErr is informational; extraction succeeded regardless.
type ExtractResult struct {
	Draft       Draft         `json:"draft"`
	Analysis    *AnalysisView `json:"analysis,omitempty"`
	AnalysisErr string        `json:"analysis_error,omitempty"`
}

// Extract sends the staged pages to the extraction service and merges the
// returned fields into the draft. Fields the service did not return keep
// their current draft values. After a successful extraction the first
// staged page is analyzed; an analysis failure is reported but does not
// undo the extraction. A session reset while the call was in flight
// discards the result entirely.
func (o *Orchestrator) Extract(ctx context.Context, s *Session) (*ExtractResult, error) {
	s.mu.Lock()
	if len(s.staged) == 0 {
		s.mu.Unlock()
		return nil, &bills.ValidationError{Field: "documents", Reason: "at least one staged document is required"}
	}
	next, err := Transition(s.state, EventExtract)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = next
	gen := s.gen
	refs := make([]extract.DocumentRef, len(s.staged))
	for i, d := range s.staged {
		refs[i] = extract.DocumentRef{StorageKey: d.StorageKey, FileName: d.FileName, ContentType: d.ContentType}
	}
	s.mu.Unlock()

	fields, exErr := o.docai.Extract(ctx, refs)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil, ErrStaleSession
	}
	if exErr != nil {
		s.state, _ = Transition(s.state, EventExtractFailed)
		s.errs[RegionDraft] = exErr.Error()
		s.mu.Unlock()
		return nil, exErr
	}
	s.draft.Merge(fields)
	s.state, _ = Transition(s.state, EventExtractSucceeded)
	delete(s.errs, RegionDraft)
	first := refs[0]
	s.mu.Unlock()

	res := &ExtractResult{Draft: s.View().Draft}

	report, anErr := o.docai.Analyze(ctx, first)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrStaleSession
	}
	if anErr != nil {
		o.logger.Warn().Err(anErr).Stringer("session_id", s.ID).Msg("analysis after extraction failed")
		s.errs[RegionAnalysis] = anErr.Error()
		res.AnalysisErr = anErr.Error()
		return res, nil
	}
	s.analysis = report
	delete(s.errs, RegionAnalysis)
	snap := snapshotFromReport(report)
	res.Analysis = &AnalysisView{
		Summary:       snap.Summary,
		Findings:      snap.Findings,
		Totals:        snap.Totals,
		DisputeLetter: snap.DisputeLetter,
		AnalyzedAt:    snap.AnalyzedAt,
	}
	return res, nil
}

// Save commits the session to the ledger: the bill, its staged documents
// and any pending analysis land in a single write. On failure the draft
// and staged documents survive untouched for another attempt.
func (o *Orchestrator) Save(ctx context.Context, s *Session) (*bills.Bill, error) {
	s.mu.Lock()
	if s.billID != nil {
		s.mu.Unlock()
		return nil, &bills.ValidationError{Field: "session", Reason: "bill already saved"}
	}
	next, err := Transition(s.state, EventSave)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = next
	gen := s.gen
	draft := s.draft
	staged := append([]StagedDocument(nil), s.staged...)
	report := s.analysis
	s.mu.Unlock()

	bill := &bills.Bill{
		OwnerID:       s.OwnerID,
		Biller:        draft.Biller,
		Account:       draft.Account,
		ServiceDate:   draft.ServiceDate,
		ReceivedDate:  draft.ReceivedDate,
		StatementDate: draft.StatementDate,
		DueDate:       draft.DueDate,
		Totals:        draft.Totals,
		Status:        draft.Status,
		Notes:         draft.Notes,
	}
	for _, d := range staged {
		bill.Documents = append(bill.Documents, &bills.BillDocument{
			FileName:    d.FileName,
			ContentType: d.ContentType,
			Size:        d.Size,
			StorageKey:  d.StorageKey,
		})
	}
	if report != nil {
		bill.Analysis = snapshotFromReport(report)
	}

	createErr := o.ledger.Create(ctx, bill)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// session was reset mid-save; the bill, if created, stands on its own
		return nil, ErrStaleSession
	}
	if createErr != nil {
		s.state, _ = Transition(s.state, EventSaveFailed)
		s.errs[RegionSave] = createErr.Error()
		return nil, createErr
	}
	id := bill.ID
	s.billID = &id
	s.staged = nil // committed to the bill, no longer session-owned
	s.state, _ = Transition(s.state, EventSaveSucceeded)
	delete(s.errs, RegionSave)
	return bill, nil
}

// CreateIntent asks the broker for a payment authorization against a saved
// bill. A zero amount means "the remaining balance". The broker rejects
// non-positive amounts before any network call; amounts above the
// remaining balance are deliberately allowed (overpayment is the user's
// call).
func (o *Orchestrator) CreateIntent(ctx context.Context, owner, billID uuid.UUID, amount float64) (*payments.Intent, error) {
	bill, err := o.ledger.Get(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.OwnerID != owner {
		return nil, bills.ErrNotFound
	}
	if amount == 0 {
		amount = bill.Remaining()
	}
	return o.broker.CreateIntent(ctx, billID, amount)
}

// SessionCreateIntent runs CreateIntent inside a session, driving the
// payment states so the client can render the external-payment handoff.
func (o *Orchestrator) SessionCreateIntent(ctx context.Context, s *Session, amount float64) (*payments.Intent, error) {
	s.mu.Lock()
	if s.billID == nil {
		s.mu.Unlock()
		return nil, &bills.ValidationError{Field: "session", Reason: "bill must be saved before payment"}
	}
	billID := *s.billID
	next, err := Transition(s.state, EventCreateIntent)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = next
	gen := s.gen
	s.mu.Unlock()

	intent, brokerErr := o.CreateIntent(ctx, s.OwnerID, billID, amount)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrStaleSession
	}
	if brokerErr != nil {
		s.state, _ = Transition(s.state, EventIntentFailed)
		s.errs[RegionPayment] = brokerErr.Error()
		return nil, brokerErr
	}
	s.state, _ = Transition(s.state, EventIntentCreated)
	delete(s.errs, RegionPayment)
	return intent, nil
}

// HandleCapture records a processor-confirmed capture as a payment on the
// bill. If a live session is paying that bill, its state advances too.
func (o *Orchestrator) HandleCapture(ctx context.Context, evt *payments.CaptureEvent) error {
	billID, err := uuid.Parse(evt.BillID)
	if err != nil {
		return payments.ErrBadPayload
	}
	txn := evt.TransactionID
	p := &bills.Payment{
		BillID:      billID,
		Amount:      evt.Amount,
		Date:        evt.CapturedAt,
		Method:      bills.MethodStripe,
		IntentTxnID: &txn,
	}
	if p.Date.IsZero() {
		p.Date = time.Now().UTC()
	}
	if err := o.ledger.AddPayment(ctx, p); err != nil {
		return err
	}
	o.advanceCaptured(billID)
	return nil
}

// ReAnalyze runs analysis against one already-saved document and replaces
// the bill's analysis snapshot. The document must have a durable storage
// key; the analyze client enforces that before any network call.
func (o *Orchestrator) ReAnalyze(ctx context.Context, owner, billID, docID uuid.UUID) (*bills.AiAnalysisSnapshot, error) {
	bill, err := o.ledger.Get(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.OwnerID != owner {
		return nil, bills.ErrNotFound
	}
	doc, err := o.ledger.GetDocument(ctx, billID, docID)
	if err != nil {
		return nil, err
	}
	report, err := o.docai.Analyze(ctx, extract.DocumentRef{
		StorageKey:  doc.StorageKey,
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
	})
	if err != nil {
		return nil, err
	}
	snap := snapshotFromReport(report)
	snap.BillID = billID
	if err := o.ledger.SetAnalysis(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (o *Orchestrator) advanceCaptured(billID uuid.UUID) {
	o.sessions.mu.RLock()
	defer o.sessions.mu.RUnlock()
	for _, s := range o.sessions.sessions {
		s.mu.Lock()
		if s.billID != nil && *s.billID == billID {
			if next, err := Transition(s.state, EventCaptured); err == nil {
				s.state = next
			}
		}
		s.mu.Unlock()
	}
}

func (o *Orchestrator) releaseBlob(ctx context.Context, key string) {
	if err := o.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		o.logger.Warn().Err(err).Str("storage_key", key).Msg("failed to delete staged blob")
	}
}

func snapshotFromReport(r *extract.AnalysisReport) *bills.AiAnalysisSnapshot {
	snap := &bills.AiAnalysisSnapshot{
		Summary:       r.Summary,
		DisputeLetter: r.DisputeLetterText,
		AnalyzedAt:    r.AnalyzedAt,
		Totals: bills.AnalysisTotals{
			AmountBilled:            r.Totals.AmountBilled,
			InsurancePaid:           r.Totals.InsurancePaid,
			Adjustments:             r.Totals.Adjustments,
			FairPriceTotal:          r.Totals.FairPriceTotal,
			PatientBalance:          r.Totals.PatientBalance,
			EstimatedSavings:        r.Totals.EstimatedSavings,
			RecommendedPatientOffer: r.Totals.RecommendedPatientOffer,
		},
	}
	for _, f := range r.ErrorsFound {
		snap.Findings = append(snap.Findings, bills.ErrorFinding{
			Type:                f.Type,
			Description:         f.Description,
			EstimatedOvercharge: f.EstimatedOvercharge,
		})
	}
	return snap
}
