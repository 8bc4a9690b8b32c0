package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// lineReader is the part of *readline.Instance the prompter uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// LinePrompter answers confirmations and text prompts on the terminal.
// Ctrl-C and Ctrl-D dismiss the question.
type LinePrompter struct {
	mu sync.Mutex
	r  lineReader

	// Restore is the prompt put back after each question.
	Restore string
}

func NewLinePrompter(r lineReader, restore string) *LinePrompter {
	return &LinePrompter{r: r, Restore: restore}
}

func (p *LinePrompter) Confirm(_ context.Context, message string) (bool, error) {
	answer, ok, err := p.ask(message + " [y/N] ")
	if err != nil || !ok {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (p *LinePrompter) InputText(_ context.Context, placeholder string) (string, bool, error) {
	answer, ok, err := p.ask(placeholder + ": ")
	if err != nil || !ok || answer == "" {
		return "", false, err
	}
	return answer, true, nil
}

func (p *LinePrompter) ask(prompt string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.r.SetPrompt(prompt)
	defer p.r.SetPrompt(p.Restore)

	line, err := p.r.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(line), true, nil
}

// StreamNotifier writes notices to a stream as "level: message" lines.
type StreamNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStreamNotifier(w io.Writer) *StreamNotifier {
	return &StreamNotifier{w: w}
}

func (n *StreamNotifier) Info(_ context.Context, message string)  { n.write("info", message) }
func (n *StreamNotifier) Error(_ context.Context, message string) { n.write("error", message) }

func (n *StreamNotifier) write(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "%s: %s\n", level, message)
}
