package intake

import (
	"bytes"
	"context"
	"sync"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

type backendCall struct {
	mode     Mode
	recordID string
	payload  Payload
}

// stubBackend records calls. When gate is set, calls block until it is
// closed; started receives one value per call that reached the backend.
type stubBackend struct {
	mu      sync.Mutex
	calls   []backendCall
	rec     *Record
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (b *stubBackend) do(ctx context.Context, call backendCall) (*Record, error) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	gate, started := b.gate, b.started
	b.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	if b.rec != nil {
		return b.rec, nil
	}
	id := call.recordID
	if id == "" {
		id = "p-1"
	}
	return &Record{ID: id}, nil
}

func (b *stubBackend) CreateRecord(ctx context.Context, p Payload) (*Record, error) {
	return b.do(ctx, backendCall{mode: ModeCreate, payload: p})
}

func (b *stubBackend) UpdateRecord(ctx context.Context, id string, p Payload) (*Record, error) {
	return b.do(ctx, backendCall{mode: ModeUpdate, recordID: id, payload: p})
}

func (b *stubBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *stubBackend) lastCall() backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[len(b.calls)-1]
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", &bytes.Buffer{})
}

type wizardFixture struct {
	wizard    *Wizard
	backend   *stubBackend
	notifier  *recordingNotifier
	completed []*Record
}

func newFixture(opts ...OrchestratorOption) *wizardFixture {
	f := &wizardFixture{backend: &stubBackend{}, notifier: &recordingNotifier{}}
	opts = append([]OrchestratorOption{WithLogger(quietLogger())}, opts...)
	f.wizard = New(Config{
		ID:           "w-1",
		Orchestrator: NewOrchestrator(f.backend, opts...),
		Notifier:     f.notifier,
		OnComplete:   func(rec *Record) { f.completed = append(f.completed, rec) },
		Logger:       quietLogger(),
	})
	return f
}

// janeDoe is the create-flow scenario draft: steps 1-3 complete, 4-5 empty.
var janeDoe = map[string]string{
	FieldFirstName:             "Jane",
	FieldLastName:              "Doe",
	FieldDateOfBirth:           "1990-01-01",
	FieldGender:                "female",
	FieldEmail:                 "jane@x.com",
	FieldPhone:                 "555-0100",
	FieldAddress:               "1 Main St",
	FieldEmergencyContactName:  "John Doe",
	FieldEmergencyContactPhone: "555-0101",
}

func (f *wizardFixture) fill(fields map[string]string) {
	for k, v := range fields {
		if err := f.wizard.SetField(k, v); err != nil {
			panic(err)
		}
	}
}

func (f *wizardFixture) advanceToFinal() {
	for f.wizard.Current() < len(f.wizard.Steps()) {
		if _, ok, err := f.wizard.Next(); err != nil || !ok {
			panic("fixture could not advance")
		}
	}
}
