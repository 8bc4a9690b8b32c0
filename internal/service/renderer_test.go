package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
	"mongorunner/internal/events"
	"mongorunner/internal/service"
)

func TestFormatOutcome(t *testing.T) {
	tests := []struct {
		name string
		out  domain.Outcome
		want string
	}{
		{"failure", domain.Failure("x is not defined"), "x is not defined"},
		{"string raw", domain.Success("hello", `"hello"`), "hello"},
		{"prerendered json", domain.Outcome{OK: true, Value: map[string]any{"b": 1}, JSON: "{\n    \"a\": 1\n}"}, "{\n    \"a\": 1\n}"},
		{"undefined", domain.Success(nil, "undefined"), "undefined"},
		{"null", domain.Success(nil, "null"), "null"},
		{"number", domain.Success(int64(42), "42"), "42"},
		{"indented", domain.Success(map[string]any{"n": 1}, ""), "{\n    \"n\": 1\n}"},
		{"unserializable with raw", domain.Success(make(chan int), "[object Channel]"), "[object Channel]"},
		{"unserializable", domain.Success(make(chan int), ""), "<unserializable value>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.FormatOutcome(tt.out))
		})
	}
}

func TestRenderer_Format(t *testing.T) {
	h := newHarness(t)

	got := h.renderer.Format("db.x.count()", domain.Success(int64(3), "3"))

	assert.Equal(t, "// MongoRunner> db.x.count()\n3", got)
}

func TestRenderer_FirstRenderOpensBufferBesideSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src, s := h.session(t, "c1", "shop", "")

	require.NoError(t, h.renderer.Render(ctx, s, "1+1", domain.Success(int64(2), "2")))

	snap, _ := h.table.Snapshot(src)
	require.True(t, snap.HasOutput())
	col, ok := h.host.Column(snap.OutputBuffer)
	require.True(t, ok)
	assert.Equal(t, editor.ViewColumn(2), col)
	assert.Equal(t, editor.LanguageJSONC, h.host.Language(snap.OutputBuffer))
	assert.Equal(t, "// MongoRunner> 1+1\n2", h.outputText(t, src))
	assert.Equal(t, domain.Position{Line: 1, Character: 1}, snap.AppendCursor)
}

func TestRenderer_AppendsAfterCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src, s := h.session(t, "c1", "shop", "")
	out, _ := h.host.OpenBuffer(ctx, "A", editor.LanguageJSONC)
	_, err := h.host.Show(ctx, out, 2)
	require.NoError(t, err)
	require.NoError(t, h.table.AttachOutputBuffer(s, out))

	require.NoError(t, h.renderer.Render(ctx, s, "cmd1", domain.Success("B", "B")))

	assert.Equal(t, "A\n// MongoRunner> cmd1\nB", h.outputText(t, src))
	snap, _ := h.table.Snapshot(src)
	assert.Equal(t, domain.Position{Line: 2, Character: 1}, snap.AppendCursor)
	assert.Equal(t, domain.Position{Line: 1, Character: 0}, h.host.Revealed(out).Start)
	assert.Equal(t, out, snap.OutputBuffer, "visible buffer is reused")
}

func TestRenderer_NoLeadingNewlineAtColumnZero(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src, s := h.session(t, "c1", "shop", "")
	out, _ := h.host.OpenBuffer(ctx, "A\n", editor.LanguageJSONC)
	_, _ = h.host.Show(ctx, out, 2)
	require.NoError(t, h.table.AttachOutputBuffer(s, out))

	require.NoError(t, h.renderer.Render(ctx, s, "c", domain.Success("B", "B")))

	assert.Equal(t, "A\n// MongoRunner> c\nB", h.outputText(t, src))
}

func TestRenderer_HiddenOutputIsReplaced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src, s := h.session(t, "c1", "shop", "")
	require.NoError(t, h.renderer.Render(ctx, s, "1", domain.Success(int64(1), "1")))
	first, _ := h.table.Snapshot(src)

	require.NoError(t, h.host.Hide(first.OutputBuffer))
	require.NoError(t, h.renderer.Render(ctx, s, "2", domain.Success(int64(2), "2")))

	second, _ := h.table.Snapshot(src)
	assert.NotEqual(t, first.OutputBuffer, second.OutputBuffer)
	assert.True(t, h.host.IsVisible(second.OutputBuffer))
	assert.Equal(t, "// MongoRunner> 2\n2", h.outputText(t, src))

	old, err := h.host.Text(first.OutputBuffer)
	require.NoError(t, err)
	assert.Equal(t, "// MongoRunner> 1\n1", old, "hidden buffer is left alone")
}

func TestRenderer_ExternalEditAppendsAtEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src, s := h.session(t, "c1", "shop", "")
	require.NoError(t, h.renderer.Render(ctx, s, "1", domain.Success(int64(1), "1")))
	snap, _ := h.table.Snapshot(src)

	require.NoError(t, h.host.SetText(snap.OutputBuffer, "edited\nby hand"))
	require.NoError(t, h.renderer.Render(ctx, s, "2", domain.Success(int64(2), "2")))

	assert.Equal(t, "edited\nby hand\n// MongoRunner> 2\n2", h.outputText(t, src))
}

func TestRenderer_ClearRewindsCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src, s := h.session(t, "c1", "shop", "")
	require.NoError(t, h.renderer.Render(ctx, s, "1", domain.Success(int64(1), "1")))

	require.NoError(t, h.renderer.Clear(ctx, s))
	assert.Equal(t, "", h.outputText(t, src))
	snap, _ := h.table.Snapshot(src)
	assert.Equal(t, domain.Position{}, snap.AppendCursor)

	require.NoError(t, h.renderer.Render(ctx, s, "2", domain.Success(int64(2), "2")))
	assert.Equal(t, "// MongoRunner> 2\n2", h.outputText(t, src))
}

func TestRenderer_ClearWithoutOutputIsNoop(t *testing.T) {
	h := newHarness(t)
	_, s := h.session(t, "c1", "shop", "")

	assert.NoError(t, h.renderer.Clear(context.Background(), s))
}

func TestRenderer_PublishesOutputRendered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var got []events.OutputEvent
	unsub := h.bus.Subscribe(events.OutputRendered, func(_ context.Context, payload any) {
		got = append(got, payload.(events.OutputEvent))
	})
	defer unsub()
	src, s := h.session(t, "c1", "shop", "")

	require.NoError(t, h.renderer.Render(ctx, s, "1", domain.Success(int64(1), "1")))
	require.NoError(t, h.renderer.Render(ctx, s, "2", domain.Success(int64(2), "2")))

	require.Len(t, got, 2)
	snap, _ := h.table.Snapshot(src)
	assert.Equal(t, string(src), got[1].BufferID)
	assert.Equal(t, string(snap.OutputBuffer), got[1].OutputRef)
}
