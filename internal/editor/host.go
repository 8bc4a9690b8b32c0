package editor

import (
	"context"
	"errors"
	"strings"

	"mongorunner/internal/domain"
)

// Language tags used when opening buffers.
const (
	LanguageRunner = "mongodbRunner"
	LanguageJSON   = "json"
	LanguageJSONC  = "jsonc"
)

// ViewColumn is a 1-based editor column; 0 means "not shown".
type ViewColumn int

// ErrUnknownBuffer is returned for references the host does not own.
var ErrUnknownBuffer = errors.New("unknown buffer")

// Host is the editor/document surface consumed by the core.
type Host interface {
	OpenBuffer(ctx context.Context, content, languageTag string) (domain.BufferRef, error)
	// Show makes ref visible in column and returns the column actually used.
	Show(ctx context.Context, ref domain.BufferRef, column ViewColumn) (ViewColumn, error)
	// Column reports where ref is shown; false when hidden.
	Column(ref domain.BufferRef) (ViewColumn, bool)
	IsVisible(ref domain.BufferRef) bool
	InsertAt(ctx context.Context, ref domain.BufferRef, pos domain.Position, text string) error
	RevealTop(ctx context.Context, ref domain.BufferRef, rng domain.Range) error
	Text(ref domain.BufferRef) (string, error)
	End(ref domain.BufferRef) (domain.Position, error)
	// Version increases on every content change, ours or external.
	Version(ref domain.BufferRef) (int, error)
	Clear(ctx context.Context, ref domain.BufferRef) error
	Hide(ref domain.BufferRef) error
	Close(ref domain.BufferRef) error
	OnClose(fn func(ref domain.BufferRef)) (unsubscribe func())
}

// EndOf returns the position just after the last character of text.
func EndOf(text string) domain.Position {
	line := strings.Count(text, "\n")
	last := text
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		last = text[i+1:]
	}
	return domain.Position{Line: line, Character: len([]rune(last))}
}

// Advance returns the position reached after inserting text at pos.
func Advance(pos domain.Position, text string) domain.Position {
	lines := strings.Count(text, "\n")
	if lines == 0 {
		return domain.Position{Line: pos.Line, Character: pos.Character + len([]rune(text))}
	}
	tail := text[strings.LastIndexByte(text, '\n')+1:]
	return domain.Position{Line: pos.Line + lines, Character: len([]rune(tail))}
}

// OffsetOf converts pos to a byte offset in text, clamping to the document.
func OffsetOf(text string, pos domain.Position) int {
	offset := 0
	for line := 0; line < pos.Line; line++ {
		i := strings.IndexByte(text[offset:], '\n')
		if i < 0 {
			return len(text)
		}
		offset += i + 1
	}
	rest := text[offset:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	chars := 0
	for i := range rest {
		if chars == pos.Character {
			return offset + i
		}
		chars++
	}
	return offset + len(rest)
}

// Less reports whether a comes before b.
func Less(a, b domain.Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// closeHandlers is shared bookkeeping for OnClose subscribers.
type closeHandlers struct {
	nextID int
	fns    map[int]func(domain.BufferRef)
}

func (c *closeHandlers) add(fn func(domain.BufferRef)) int {
	if c.fns == nil {
		c.fns = make(map[int]func(domain.BufferRef))
	}
	c.nextID++
	c.fns[c.nextID] = fn
	return c.nextID
}

func (c *closeHandlers) snapshot() []func(domain.BufferRef) {
	out := make([]func(domain.BufferRef), 0, len(c.fns))
	for id := 1; id <= c.nextID; id++ {
		if fn, ok := c.fns[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
