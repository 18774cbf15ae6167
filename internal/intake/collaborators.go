package intake

import (
	"context"
	"sync"

	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// Backend is the remote REST collaborator that persists patient records.
// Field-level rejections are reported as *ValidationError; any other error
// is treated as a generic failure.
type Backend interface {
	CreateRecord(ctx context.Context, p Payload) (*Record, error)
	UpdateRecord(ctx context.Context, id string, p Payload) (*Record, error)
}

// RecordFetcher loads an existing record for edit mode.
type RecordFetcher interface {
	GetRecord(ctx context.Context, id string) (*Record, error)
}

// Notifier surfaces one-shot, non-field messages to the user.
type Notifier interface {
	Notify(message string)
}

// Prompter asks the user a yes/no question.
type Prompter interface {
	Confirm(message string) bool
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(message string) bool

func (f PrompterFunc) Confirm(message string) bool { return f(message) }

// AlwaysConfirm accepts every prompt.
var AlwaysConfirm Prompter = PrompterFunc(func(string) bool { return true })

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(message string) {
	n.logger.Warn("intake notification", "message", message)
}

// Inbox buffers notifications until a host drains them, for hosts that
// deliver messages with their next response.
type Inbox struct {
	mu       sync.Mutex
	messages []string
}

func (b *Inbox) Notify(message string) {
	b.mu.Lock()
	b.messages = append(b.messages, message)
	b.mu.Unlock()
}

// Drain returns and clears the pending messages.
func (b *Inbox) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.messages
	b.messages = nil
	return out
}
