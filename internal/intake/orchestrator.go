package intake

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

var intakeTracer = otel.Tracer("clinic.internal.intake")

// Mode selects between registering a new patient and editing an existing one.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
)

// Outcome classifies how a submit attempt ended.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeBusy      Outcome = "busy"
)

// GenericFailureMessage is shown when the backend fails for reasons unrelated
// to field content.
const GenericFailureMessage = "Unable to save the patient record. Please try again."

// Result is what a submit attempt produced.
type Result struct {
	Outcome Outcome
	Record  *Record
	Errors  FieldErrors
	// Message is the user-facing notification for OutcomeFailed.
	Message string
	Err     error
}

// SubmissionEvent describes one finished backend call for metrics and audit.
// It never carries field values.
type SubmissionEvent struct {
	SessionID    string
	Mode         Mode
	Outcome      Outcome
	RecordID     string
	RejectedKeys []string
	Duration     time.Duration
}

// SubmissionRecorder receives metrics for finished submissions.
type SubmissionRecorder interface {
	ObserveSubmission(mode, outcome string, seconds float64)
}

// SubmissionAuditor persists an audit trail of submissions.
type SubmissionAuditor interface {
	RecordSubmission(ctx context.Context, evt SubmissionEvent) error
}

// SubmitRequest is the input to Orchestrator.Submit.
type SubmitRequest struct {
	SessionID string
	Mode      Mode
	RecordID  string
	Payload   Payload
}

// Orchestrator performs the create/update call and classifies its outcome.
// One orchestrator belongs to one wizard instance; its busy flag enforces at
// most one outstanding submission for that instance.
type Orchestrator struct {
	backend Backend
	locker  Locker
	lockTTL time.Duration
	metrics SubmissionRecorder
	auditor SubmissionAuditor
	logger  *logging.Logger
	busy    atomic.Bool
	timeNow func() time.Time
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLocker adds a cross-process submit lock.
func WithLocker(l Locker, ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.locker = l
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithRecorder attaches submission metrics.
func WithRecorder(r SubmissionRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithAuditor attaches an audit trail.
func WithAuditor(a SubmissionAuditor) OrchestratorOption {
	return func(o *Orchestrator) { o.auditor = a }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator around backend.
func NewOrchestrator(backend Backend, opts ...OrchestratorOption) *Orchestrator {
	if backend == nil {
		panic("intake: backend required")
	}
	o := &Orchestrator{
		backend: backend,
		lockTTL: time.Minute,
		logger:  logging.Default(),
		timeNow: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Busy reports whether a submission is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Submit calls the backend once. A call made while another is outstanding
// returns OutcomeBusy without touching the network.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) Result {
	if !o.busy.CompareAndSwap(false, true) {
		return Result{Outcome: OutcomeBusy}
	}
	defer o.busy.Store(false)

	ctx, span := intakeTracer.Start(ctx, "intake.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("intake.session_id", req.SessionID),
		attribute.String("intake.mode", string(req.Mode)),
	)

	if o.locker != nil && req.SessionID != "" {
		unlock, acquired, err := o.locker.TryLock(ctx, req.SessionID, o.lockTTL)
		switch {
		case err != nil:
			// The in-process busy flag still guards this instance.
			o.logger.Warn("submit lock unavailable", "session_id", req.SessionID, "error", err)
		case !acquired:
			span.SetAttributes(attribute.Bool("intake.lock_held_elsewhere", true))
			return Result{Outcome: OutcomeBusy}
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					o.logger.Warn("submit lock release failed", "session_id", req.SessionID, "error", err)
				}
			}()
		}
	}

	start := o.timeNow()
	var (
		rec *Record
		err error
	)
	if req.Mode == ModeUpdate {
		rec, err = o.backend.UpdateRecord(ctx, req.RecordID, req.Payload)
	} else {
		rec, err = o.backend.CreateRecord(ctx, req.Payload)
	}
	elapsed := o.timeNow().Sub(start)

	res := classify(rec, err)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
	}
	span.SetAttributes(attribute.String("intake.outcome", string(res.Outcome)))

	evt := SubmissionEvent{
		SessionID: req.SessionID,
		Mode:      req.Mode,
		Outcome:   res.Outcome,
		RecordID:  req.RecordID,
		Duration:  elapsed,
	}
	if res.Record != nil && res.Record.ID != "" {
		evt.RecordID = res.Record.ID
	}
	if res.Outcome == OutcomeRejected {
		evt.RejectedKeys = res.Errors.Keys()
	}
	o.report(ctx, evt, res.Err)
	return res
}

func classify(rec *Record, err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeSubmitted, Record: rec}
	}
	var verr *ValidationError
	if errors.As(err, &verr) && verr != nil && len(verr.Fields) > 0 {
		return Result{Outcome: OutcomeRejected, Errors: verr.Fields.Clone(), Err: err}
	}
	return Result{Outcome: OutcomeFailed, Message: GenericFailureMessage, Err: err}
}

func (o *Orchestrator) report(ctx context.Context, evt SubmissionEvent, err error) {
	if o.metrics != nil {
		o.metrics.ObserveSubmission(string(evt.Mode), string(evt.Outcome), evt.Duration.Seconds())
	}
	switch evt.Outcome {
	case OutcomeSubmitted:
		o.logger.Info("intake submitted", "session_id", evt.SessionID, "mode", evt.Mode, "record_id", evt.RecordID, "duration_ms", evt.Duration.Milliseconds())
	case OutcomeRejected:
		o.logger.Info("intake rejected by backend", "session_id", evt.SessionID, "mode", evt.Mode, "fields", evt.RejectedKeys)
	default:
		o.logger.Error("intake submission failed", "session_id", evt.SessionID, "mode", evt.Mode, "error", err)
	}
	if o.auditor != nil {
		if aerr := o.auditor.RecordSubmission(context.WithoutCancel(ctx), evt); aerr != nil {
			o.logger.Warn("intake audit write failed", "session_id", evt.SessionID, "error", aerr)
		}
	}
}
