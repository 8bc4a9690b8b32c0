package domain

import (
	"errors"
	"fmt"
)

// Position is a zero-based line/character location inside a buffer.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans two positions inside a buffer.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// BufferRef identifies a document owned by the editor host.
type BufferRef string

// Session binds one editor buffer to one connection and one target database,
// plus the bookkeeping for its companion output buffer.
type Session struct {
	ID           BufferRef `json:"id"`
	ConnectionID string    `json:"connectionId"`
	DatabaseName string    `json:"databaseName"`

	// OutputBuffer is empty until the first result is rendered.
	OutputBuffer BufferRef `json:"outputBuffer,omitempty"`
	AppendCursor Position  `json:"appendCursor"`

	// OutputVersion is the host version of OutputBuffer after our last write.
	OutputVersion int `json:"-"`
}

// HasOutput reports whether an output buffer is bound.
func (s *Session) HasOutput() bool {
	return s.OutputBuffer != ""
}

// Outcome is the tagged result of one executed command.
type Outcome struct {
	OK    bool `json:"ok"`
	Value any  `json:"value,omitempty"`
	// JSON is an indented rendering produced where document key order is still
	// known (inside the script runtime, or from BSON). Empty when unavailable.
	JSON  string `json:"json,omitempty"`
	Raw   string `json:"raw,omitempty"` // textual rendering used when Value cannot be serialized
	Error string `json:"error,omitempty"`
}

// Success builds a successful outcome.
func Success(value any, raw string) Outcome {
	return Outcome{OK: true, Value: value, Raw: raw}
}

// Failure builds a failed outcome carrying a diagnostic message.
func Failure(message string) Outcome {
	return Outcome{Error: message}
}

var (
	ErrDuplicateSession   = errors.New("session already bound to buffer")
	ErrSessionNotFound    = errors.New("no session bound to buffer")
	ErrConnectionInactive = errors.New("connection is closed")
	ErrConnectionNotFound = errors.New("database connection not found")
)

// MalformedInputError reports user-supplied structured text that failed to parse.
type MalformedInputError struct {
	Input string
	Err   error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input %q: %v", e.Input, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// SandboxError is a script failure raised inside the execution sandbox.
type SandboxError struct {
	Message string
}

func (e *SandboxError) Error() string { return e.Message }
