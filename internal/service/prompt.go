package service

import (
	"context"
	"log"
	"sync"
)

// Prompter asks the user for confirmation or a line of input.
type Prompter interface {
	Confirm(ctx context.Context, message string) (bool, error)
	// InputText returns ok=false when the user dismissed the prompt.
	InputText(ctx context.Context, placeholder string) (text string, ok bool, err error)
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Info(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}

// LogNotifier writes notifications to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Info(_ context.Context, message string)  { log.Printf("[INFO] %s", message) }
func (LogNotifier) Error(_ context.Context, message string) { log.Printf("[ERROR] %s", message) }

// Notice is one recorded notification.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// RecordingNotifier keeps every notification; used by the MCP server to hand
// messages back to the client, and by tests.
type RecordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *RecordingNotifier) Info(_ context.Context, message string) {
	n.add("info", message)
}

func (n *RecordingNotifier) Error(_ context.Context, message string) {
	n.add("error", message)
}

func (n *RecordingNotifier) add(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Level: level, Message: message})
}

// Drain returns and forgets the recorded notifications.
func (n *RecordingNotifier) Drain() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.notices
	n.notices = nil
	return out
}
