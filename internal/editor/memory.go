package editor

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"mongorunner/internal/domain"
)

type memoryDoc struct {
	text     string
	language string
	version  int
	column   ViewColumn
	revealed domain.Range
}

// MemoryHost keeps every buffer in memory. It backs the MCP server, where the
// agent reads buffers through tools, and the tests.
type MemoryHost struct {
	mu       sync.Mutex
	docs     map[domain.BufferRef]*memoryDoc
	handlers closeHandlers
}

// NewMemoryHost creates an empty host.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{docs: make(map[domain.BufferRef]*memoryDoc)}
}

func (h *MemoryHost) OpenBuffer(_ context.Context, content, languageTag string) (domain.BufferRef, error) {
	ref := domain.BufferRef(uuid.New().String())
	h.mu.Lock()
	h.docs[ref] = &memoryDoc{text: content, language: languageTag, version: 1}
	h.mu.Unlock()
	return ref, nil
}

func (h *MemoryHost) Show(_ context.Context, ref domain.BufferRef, column ViewColumn) (ViewColumn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return 0, ErrUnknownBuffer
	}
	if column < 1 {
		column = 1
	}
	doc.column = column
	return column, nil
}

func (h *MemoryHost) Column(ref domain.BufferRef) (ViewColumn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok || doc.column == 0 {
		return 0, false
	}
	return doc.column, true
}

func (h *MemoryHost) IsVisible(ref domain.BufferRef) bool {
	_, ok := h.Column(ref)
	return ok
}

func (h *MemoryHost) InsertAt(_ context.Context, ref domain.BufferRef, pos domain.Position, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return ErrUnknownBuffer
	}
	off := OffsetOf(doc.text, pos)
	doc.text = doc.text[:off] + text + doc.text[off:]
	doc.version++
	return nil
}

func (h *MemoryHost) RevealTop(_ context.Context, ref domain.BufferRef, rng domain.Range) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return ErrUnknownBuffer
	}
	doc.revealed = rng
	return nil
}

// Revealed returns the range last scrolled to the top of ref's viewport.
func (h *MemoryHost) Revealed(ref domain.BufferRef) domain.Range {
	h.mu.Lock()
	defer h.mu.Unlock()
	if doc, ok := h.docs[ref]; ok {
		return doc.revealed
	}
	return domain.Range{}
}

// Language returns the language tag ref was opened with.
func (h *MemoryHost) Language(ref domain.BufferRef) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if doc, ok := h.docs[ref]; ok {
		return doc.language
	}
	return ""
}

func (h *MemoryHost) Text(ref domain.BufferRef) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return "", ErrUnknownBuffer
	}
	return doc.text, nil
}

func (h *MemoryHost) End(ref domain.BufferRef) (domain.Position, error) {
	text, err := h.Text(ref)
	if err != nil {
		return domain.Position{}, err
	}
	return EndOf(text), nil
}

func (h *MemoryHost) Version(ref domain.BufferRef) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return 0, ErrUnknownBuffer
	}
	return doc.version, nil
}

// SetText replaces the content of ref as if the user edited it.
func (h *MemoryHost) SetText(ref domain.BufferRef, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return ErrUnknownBuffer
	}
	doc.text = text
	doc.version++
	return nil
}

func (h *MemoryHost) Clear(ctx context.Context, ref domain.BufferRef) error {
	return h.SetText(ref, "")
}

func (h *MemoryHost) Hide(ref domain.BufferRef) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return ErrUnknownBuffer
	}
	doc.column = 0
	return nil
}

func (h *MemoryHost) Close(ref domain.BufferRef) error {
	h.mu.Lock()
	if _, ok := h.docs[ref]; !ok {
		h.mu.Unlock()
		return ErrUnknownBuffer
	}
	delete(h.docs, ref)
	fns := h.handlers.snapshot()
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ref)
	}
	return nil
}

func (h *MemoryHost) OnClose(fn func(ref domain.BufferRef)) func() {
	h.mu.Lock()
	id := h.handlers.add(fn)
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.handlers.fns, id)
		h.mu.Unlock()
	}
}

// Buffers lists the refs currently open.
func (h *MemoryHost) Buffers() []domain.BufferRef {
	h.mu.Lock()
	defer h.mu.Unlock()
	refs := make([]domain.BufferRef, 0, len(h.docs))
	for ref := range h.docs {
		refs = append(refs, ref)
	}
	return refs
}
