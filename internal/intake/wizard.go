package intake

import (
	"context"
	"sync"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// DiscardPrompt is asked before closing a mostly-complete registration.
const DiscardPrompt = "You have unsaved patient information. Are you sure you want to close?"

// StepRecorder receives metrics for step transitions.
type StepRecorder interface {
	ObserveStep(step int, result string)
}

// Config wires a Wizard to its collaborators.
type Config struct {
	// ID identifies the wizard instance; it keys the submit lock.
	ID             string
	DefaultCountry string
	Orchestrator   *Orchestrator
	Notifier       Notifier
	// OnComplete runs with the backend's record after a successful submit.
	OnComplete func(*Record)
	Steps      StepRecorder
	Logger     *logging.Logger
}

// Wizard sequences the registration steps over a single Draft.
// All methods are safe for concurrent use; the lock is never held across
// the backend call.
type Wizard struct {
	mu         sync.Mutex
	id         string
	steps      []Step
	draft      *Draft
	current    int
	errors     FieldErrors
	mode       Mode
	recordID   string
	closed     bool
	generation uint64

	country    string
	orch       *Orchestrator
	notifier   Notifier
	onComplete func(*Record)
	stepRec    StepRecorder
	logger     *logging.Logger
}

// State is a point-in-time view of a wizard for hosts.
type State struct {
	ID          string      `json:"id"`
	Mode        Mode        `json:"mode"`
	RecordID    string      `json:"record_id,omitempty"`
	CurrentStep int         `json:"current_step"`
	TotalSteps  int         `json:"total_steps"`
	Step        Step        `json:"step"`
	Draft       *Draft      `json:"draft"`
	Errors      FieldErrors `json:"errors"`
	Submitting  bool        `json:"submitting"`
	Closed      bool        `json:"closed"`
}

// New creates a wizard in create mode at step 1.
func New(cfg Config) *Wizard {
	if cfg.Orchestrator == nil {
		panic("intake: orchestrator required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	w := &Wizard{
		id:         cfg.ID,
		steps:      DefaultSteps(),
		country:    cfg.DefaultCountry,
		orch:       cfg.Orchestrator,
		notifier:   cfg.Notifier,
		onComplete: cfg.OnComplete,
		stepRec:    cfg.Steps,
		logger:     cfg.Logger,
	}
	w.Initialize(nil)
	return w
}

// ID returns the instance id.
func (w *Wizard) ID() string {
	return w.id
}

// Initialize replaces all wizard state. A nil record opens a blank draft in
// create mode; otherwise the record's fields are copied and the wizard edits it.
func (w *Wizard) Initialize(rec *Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rec != nil {
		w.draft = DraftFromRecord(rec)
		w.mode = ModeUpdate
		w.recordID = rec.ID
	} else {
		w.draft = NewDraft(w.country)
		w.mode = ModeCreate
		w.recordID = ""
	}
	w.current = 1
	w.errors = FieldErrors{}
	w.closed = false
	w.generation++
}

// Reset discards the draft and returns to a blank create-mode registration.
func (w *Wizard) Reset() {
	w.Initialize(nil)
}

// SetField overwrites one scalar field and drops any error recorded for it.
func (w *Wizard) SetField(key, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.draft.Set(key, value); err != nil {
		return err
	}
	delete(w.errors, key)
	return nil
}

// AddMedication appends an entry when name and dosage are filled in.
func (w *Wizard) AddMedication(m Medication) (Medication, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Medication{}, false
	}
	return w.draft.AddMedication(m)
}

// RemoveMedication drops the entry with id.
func (w *Wizard) RemoveMedication(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	return w.draft.RemoveMedication(id)
}

// Next validates the current step and advances when it passes. It returns
// the step's errors and whether the wizard moved.
func (w *Wizard) Next() (FieldErrors, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, false, ErrClosed
	}
	errs := Validate(w.current, w.draft)
	if !errs.Empty() {
		w.errors = errs
		w.observeStep(w.current, "blocked")
		return errs.Clone(), false, nil
	}
	w.observeStep(w.current, "advanced")
	w.errors = FieldErrors{}
	if w.current < w.last() {
		w.current++
	}
	return FieldErrors{}, true, nil
}

// Previous moves back one step without validating.
func (w *Wizard) Previous() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	if w.current > 1 {
		w.current--
	}
	return w.current, nil
}

// GoTo jumps to step without validating, clamped to the valid range. Hosts
// use it for history navigation; Submit re-checks every step regardless.
func (w *Wizard) GoTo(step int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrClosed
	}
	switch {
	case step < 1:
		step = 1
	case step > w.last():
		step = w.last()
	}
	w.current = step
	return w.current, nil
}

// Submit re-validates every step from the first, then hands the payload to
// the orchestrator. The first failing step becomes current.
func (w *Wizard) Submit(ctx context.Context) (Result, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Result{}, ErrClosed
	}
	if w.orch.Busy() {
		w.mu.Unlock()
		return Result{Outcome: OutcomeBusy}, nil
	}
	if w.current != w.last() {
		w.mu.Unlock()
		return Result{}, ErrNotOnFinalStep
	}
	for _, step := range w.steps {
		if errs := Validate(step.Number, w.draft); !errs.Empty() {
			w.current = step.Number
			w.errors = errs
			w.mu.Unlock()
			return Result{Outcome: OutcomeInvalid, Errors: errs.Clone()}, nil
		}
	}
	req := SubmitRequest{
		SessionID: w.id,
		Mode:      w.mode,
		RecordID:  w.recordID,
		Payload:   ToPayload(w.draft),
	}
	gen := w.generation
	w.mu.Unlock()

	res := w.orch.Submit(ctx, req)

	w.mu.Lock()
	if w.closed || w.generation != gen {
		w.mu.Unlock()
		w.logger.Debug("dropping submit result for closed wizard", "session_id", w.id, "outcome", res.Outcome)
		return res, nil
	}
	switch res.Outcome {
	case OutcomeSubmitted:
		w.mu.Unlock()
		if w.onComplete != nil {
			w.onComplete(res.Record)
		}
		w.mu.Lock()
		if w.generation == gen {
			w.closeLocked()
		}
		w.mu.Unlock()
		return res, nil
	case OutcomeRejected:
		for k, v := range res.Errors {
			w.errors[k] = v
		}
		res.Errors = w.errors.Clone()
	}
	notifier := w.notifier
	w.mu.Unlock()

	if res.Outcome == OutcomeFailed && notifier != nil {
		notifier.Notify(res.Message)
	}
	return res, nil
}

// Close discards the wizard. Leaving the final step with a name entered
// needs confirmation from p; a declined or missing confirmation keeps the
// wizard open and returns false.
func (w *Wizard) Close(p Prompter) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return true
	}
	needConfirm := w.current == w.last() && w.draft.HasName()
	gen := w.generation
	w.mu.Unlock()

	if needConfirm && (p == nil || !p.Confirm(DiscardPrompt)) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.generation == gen {
		w.closeLocked()
	}
	return true
}

func (w *Wizard) closeLocked() {
	w.closed = true
	w.generation++
	w.draft = NewDraft(w.country)
	w.errors = FieldErrors{}
}

// Closed reports whether the wizard was closed.
func (w *Wizard) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Current returns the active step number.
func (w *Wizard) Current() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Errors returns a copy of the displayed errors.
func (w *Wizard) Errors() FieldErrors {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errors.Clone()
}

// Draft returns a copy of the draft.
func (w *Wizard) Draft() *Draft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.draft.Clone()
}

// Busy reports whether a submission is outstanding.
func (w *Wizard) Busy() bool {
	return w.orch.Busy()
}

// Steps returns the step definitions.
func (w *Wizard) Steps() []Step {
	return append([]Step(nil), w.steps...)
}

// Snapshot returns the current state.
func (w *Wizard) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		ID:          w.id,
		Mode:        w.mode,
		RecordID:    w.recordID,
		CurrentStep: w.current,
		TotalSteps:  len(w.steps),
		Step:        w.steps[w.current-1],
		Draft:       w.draft.Clone(),
		Errors:      w.errors.Clone(),
		Submitting:  w.orch.Busy(),
		Closed:      w.closed,
	}
}

func (w *Wizard) last() int {
	return len(w.steps)
}

func (w *Wizard) observeStep(step int, result string) {
	if w.stepRec != nil {
		w.stepRec.ObserveStep(step, result)
	}
}
