// Package notify delivers best-effort notifications to end users and to
// the operational channel. Delivery failures are logged, never
// propagated.
package notify

import (
	"context"
	"strings"
	"sync"

	"github.com/supplywise/supplybot/internal/logging"
)

// Notifier is the outbound notification surface.
type Notifier interface {
	// NotifyUser sends text to one chat's end user.
	NotifyUser(ctx context.Context, chatID int64, text string)

	// NotifyWizard publishes lines to the operational/admin channel
	// under an event tag.
	NotifyWizard(ctx context.Context, eventTag string, lines []string)
}

// LogNotifier writes notifications to the structured log. Used when no
// chat transport is attached (tests, dry runs) and as the fallback sink.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyUser(ctx context.Context, chatID int64, text string) {
	logger := logging.Component("notify")
	logger.Info().
		Int64("chat_id", chatID).
		Str("text", logging.Redact(text)).
		Msg("user notification")
}

func (n *LogNotifier) NotifyWizard(ctx context.Context, eventTag string, lines []string) {
	logger := logging.Component("notify")
	logger.Info().
		Str("event", eventTag).
		Str("body", logging.Redact(strings.Join(lines, "\n"))).
		Msg("wizard notification")
}

// UserMessage is one recorded user notification.
type UserMessage struct {
	ChatID int64
	Text   string
}

// WizardMessage is one recorded operational notification.
type WizardMessage struct {
	EventTag string
	Lines    []string
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	User   []UserMessage
	Wizard []WizardMessage
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) NotifyUser(ctx context.Context, chatID int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.User = append(r.User, UserMessage{ChatID: chatID, Text: text})
}

func (r *Recorder) NotifyWizard(ctx context.Context, eventTag string, lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Wizard = append(r.Wizard, WizardMessage{EventTag: eventTag, Lines: lines})
}

// UserMessages returns a copy of the recorded user notifications.
func (r *Recorder) UserMessages() []UserMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UserMessage(nil), r.User...)
}

// WizardMessages returns a copy of the recorded operational notifications.
func (r *Recorder) WizardMessages() []WizardMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WizardMessage(nil), r.Wizard...)
}
