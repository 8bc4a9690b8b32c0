package editor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"mongorunner/internal/domain"
)

type fileDoc struct {
	path     string
	language string
	version  int
	column   ViewColumn
	// known is the content we last wrote or observed; a watcher event whose
	// content differs is counted as an external edit.
	known string
}

// FileHost backs every buffer with a file in a workspace directory so that an
// external editor (Neovim, VS Code) can open it. Writes from that editor are
// picked up by an fsnotify watcher and bump the buffer version; deleting the
// file closes the buffer.
type FileHost struct {
	dir      string
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	docs     map[domain.BufferRef]*fileDoc
	byPath   map[string]domain.BufferRef
	handlers closeHandlers
}

// NewFileHost creates the workspace directory if needed and starts watching it.
func NewFileHost(dir string) (*FileHost, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(absDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch workspace dir: %w", err)
	}

	h := &FileHost{
		dir:     absDir,
		watcher: watcher,
		docs:    make(map[domain.BufferRef]*fileDoc),
		byPath:  make(map[string]domain.BufferRef),
	}
	go h.watchLoop()
	return h, nil
}

// Dir returns the workspace directory.
func (h *FileHost) Dir() string { return h.dir }

// Path returns the file backing ref.
func (h *FileHost) Path(ref domain.BufferRef) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return "", false
	}
	return doc.path, true
}

func extensionFor(language string) string {
	switch language {
	case LanguageRunner:
		return ".mongodb.js"
	case LanguageJSON:
		return ".json"
	case LanguageJSONC:
		return ".jsonc"
	default:
		return ".txt"
	}
}

func (h *FileHost) OpenBuffer(_ context.Context, content, languageTag string) (domain.BufferRef, error) {
	id := uuid.New().String()
	path := filepath.Join(h.dir, id+extensionFor(languageTag))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write buffer file: %w", err)
	}

	ref := domain.BufferRef(id)
	h.mu.Lock()
	h.docs[ref] = &fileDoc{path: path, language: languageTag, version: 1, known: content}
	h.byPath[path] = ref
	h.mu.Unlock()

	log.Printf("[EDITOR] opened %s", path)
	return ref, nil
}

func (h *FileHost) Show(_ context.Context, ref domain.BufferRef, column ViewColumn) (ViewColumn, error) {
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

func (h *FileHost) Column(ref domain.BufferRef) (ViewColumn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok || doc.column == 0 {
		return 0, false
	}
	return doc.column, true
}

func (h *FileHost) IsVisible(ref domain.BufferRef) bool {
	_, ok := h.Column(ref)
	return ok
}

// syncLocked reads the file behind doc and records an external edit if it changed.
// Callers hold h.mu.
func (h *FileHost) syncLocked(doc *fileDoc) (string, error) {
	data, err := os.ReadFile(doc.path)
	if err != nil {
		return "", err
	}
	content := string(data)
	if content != doc.known {
		doc.known = content
		doc.version++
	}
	return content, nil
}

func (h *FileHost) InsertAt(_ context.Context, ref domain.BufferRef, pos domain.Position, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return ErrUnknownBuffer
	}
	current, err := h.syncLocked(doc)
	if err != nil {
		return fmt.Errorf("read buffer file: %w", err)
	}
	off := OffsetOf(current, pos)
	updated := current[:off] + text + current[off:]
	if err := os.WriteFile(doc.path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write buffer file: %w", err)
	}
	doc.known = updated
	doc.version++
	return nil
}

// RevealTop has no viewport to scroll for plain files; it only validates ref.
func (h *FileHost) RevealTop(_ context.Context, ref domain.BufferRef, _ domain.Range) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.docs[ref]; !ok {
		return ErrUnknownBuffer
	}
	return nil
}

func (h *FileHost) Text(ref domain.BufferRef) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return "", ErrUnknownBuffer
	}
	return h.syncLocked(doc)
}

func (h *FileHost) End(ref domain.BufferRef) (domain.Position, error) {
	text, err := h.Text(ref)
	if err != nil {
		return domain.Position{}, err
	}
	return EndOf(text), nil
}

func (h *FileHost) Version(ref domain.BufferRef) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return 0, ErrUnknownBuffer
	}
	if _, err := h.syncLocked(doc); err != nil {
		return 0, err
	}
	return doc.version, nil
}

func (h *FileHost) Clear(_ context.Context, ref domain.BufferRef) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return ErrUnknownBuffer
	}
	if err := os.WriteFile(doc.path, nil, 0o644); err != nil {
		return fmt.Errorf("clear buffer file: %w", err)
	}
	doc.known = ""
	doc.version++
	return nil
}

func (h *FileHost) Hide(ref domain.BufferRef) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[ref]
	if !ok {
		return ErrUnknownBuffer
	}
	doc.column = 0
	return nil
}

// Close forgets ref and fires close handlers. The backing file is kept.
func (h *FileHost) Close(ref domain.BufferRef) error {
	h.mu.Lock()
	doc, ok := h.docs[ref]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownBuffer
	}
	delete(h.docs, ref)
	delete(h.byPath, doc.path)
	fns := h.handlers.snapshot()
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ref)
	}
	return nil
}

func (h *FileHost) OnClose(fn func(ref domain.BufferRef)) func() {
	h.mu.Lock()
	id := h.handlers.add(fn)
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.handlers.fns, id)
		h.mu.Unlock()
	}
}

// Shutdown stops the watcher.
func (h *FileHost) Shutdown() error {
	return h.watcher.Close()
}

func (h *FileHost) watchLoop() {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			h.handleEvent(event)
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[EDITOR] watcher error: %v", err)
		}
	}
}

func (h *FileHost) handleEvent(event fsnotify.Event) {
	absPath, _ := filepath.Abs(event.Name)

	h.mu.Lock()
	ref, watched := h.byPath[absPath]
	if !watched {
		h.mu.Unlock()
		return
	}
	doc := h.docs[ref]

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		h.mu.Unlock()
		log.Printf("[EDITOR] %s removed, closing buffer", absPath)
		_ = h.Close(ref)
		return
	case event.Has(fsnotify.Write):
		if _, err := h.syncLocked(doc); err != nil {
			log.Printf("[EDITOR] read file %s: %v", absPath, err)
		}
	}
	h.mu.Unlock()
}
