package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
	"mongorunner/internal/events"
)

// DefaultPromptPrefix starts the echo line of every rendered result.
const DefaultPromptPrefix = "// MongoRunner> "

const unserializable = "<unserializable value>"

// ─────────────────────────────────────────────────────────────
// Output Renderer: appends command/result pairs to output buffers
// ─────────────────────────────────────────────────────────────

// Renderer writes outcomes into the output buffer of a session. It is the
// only writer of output buffers.
type Renderer struct {
	host  editor.Host
	table *SessionTable
	bus   *events.Bus

	Prefix   string
	Language string
}

// NewRenderer creates a Renderer with the default prefix and jsonc buffers.
func NewRenderer(host editor.Host, table *SessionTable, bus *events.Bus) *Renderer {
	return &Renderer{
		host:     host,
		table:    table,
		bus:      bus,
		Prefix:   DefaultPromptPrefix,
		Language: editor.LanguageJSONC,
	}
}

// Format returns the echo line for command followed by the rendered outcome.
func (r *Renderer) Format(command string, out domain.Outcome) string {
	return r.Prefix + command + "\n" + FormatOutcome(out)
}

// FormatOutcome renders an outcome without ever failing. Values that cannot be
// marshalled degrade to their raw text.
func FormatOutcome(out domain.Outcome) string {
	if !out.OK {
		return out.Error
	}
	if s, ok := out.Value.(string); ok {
		return s
	}
	if out.JSON != "" {
		return out.JSON
	}
	if out.Value == nil {
		if out.Raw == "undefined" {
			return out.Raw
		}
		return "null"
	}

	b, err := json.MarshalIndent(out.Value, "", "    ")
	if err == nil {
		return string(b)
	}
	log.Printf("[RENDER] serialization degraded to raw text: %v", err)
	if out.Raw != "" {
		return out.Raw
	}
	return unserializable
}

// Render appends the formatted outcome to the session's output buffer,
// opening a fresh buffer when none is bound or the bound one is hidden.
func (r *Renderer) Render(ctx context.Context, s *domain.Session, command string, out domain.Outcome) error {
	text := r.Format(command, out)

	ref, cursor, version := r.table.outputState(s)
	if ref == "" {
		return r.openFresh(ctx, s, text)
	}
	if !r.host.IsVisible(ref) {
		log.Printf("[RENDER] output %s of %s is hidden, opening a new buffer", ref, s.ID)
		return r.openFresh(ctx, s, text)
	}

	current, err := r.host.Version(ref)
	if err != nil {
		return r.openFresh(ctx, s, text)
	}
	if current != version {
		// Edited outside our render path; the recorded cursor may be stale.
		if cursor, err = r.host.End(ref); err != nil {
			return r.openFresh(ctx, s, text)
		}
	}

	insert := text
	start := cursor
	if cursor.Character != 0 {
		insert = "\n" + text
		start = domain.Position{Line: cursor.Line + 1}
	}
	if err := r.host.InsertAt(ctx, ref, cursor, insert); err != nil {
		log.Printf("[RENDER] insert into %s failed: %v", ref, err)
		return r.openFresh(ctx, s, text)
	}

	next := editor.Advance(cursor, insert)
	written, _ := r.host.Version(ref)
	r.table.advance(s, ref, next, written)

	if err := r.host.RevealTop(ctx, ref, domain.Range{Start: start, End: next}); err != nil {
		log.Printf("[RENDER] reveal %s: %v", ref, err)
	}
	r.published(ctx, s, ref)
	return nil
}

// openFresh opens a new output buffer holding text, shows it beside the
// source editor and binds it to the session.
func (r *Renderer) openFresh(ctx context.Context, s *domain.Session, text string) error {
	ref, err := r.host.OpenBuffer(ctx, text, r.Language)
	if err != nil {
		return fmt.Errorf("open output buffer: %w", err)
	}

	beside := editor.ViewColumn(2)
	if col, ok := r.host.Column(s.ID); ok {
		beside = col + 1
	}
	if _, err := r.host.Show(ctx, ref, beside); err != nil {
		return fmt.Errorf("show output buffer: %w", err)
	}
	if err := r.table.AttachOutputBuffer(s, ref); err != nil {
		return err
	}

	end := editor.EndOf(text)
	if err := r.host.RevealTop(ctx, ref, domain.Range{End: end}); err != nil {
		log.Printf("[RENDER] reveal %s: %v", ref, err)
	}
	r.published(ctx, s, ref)
	return nil
}

// Clear empties the session's output buffer and rewinds its cursor.
func (r *Renderer) Clear(ctx context.Context, s *domain.Session) error {
	ref, _, _ := r.table.outputState(s)
	if ref == "" {
		return nil
	}
	if err := r.host.Clear(ctx, ref); err != nil {
		return fmt.Errorf("clear output: %w", err)
	}
	version, _ := r.host.Version(ref)
	r.table.advance(s, ref, domain.Position{}, version)
	return nil
}

func (r *Renderer) published(ctx context.Context, s *domain.Session, ref domain.BufferRef) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, events.OutputRendered, events.OutputEvent{BufferID: string(s.ID), OutputRef: string(ref)})
}
