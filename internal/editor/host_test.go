package editor_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongorunner/internal/domain"
	"mongorunner/internal/editor"
)

func pos(line, char int) domain.Position {
	return domain.Position{Line: line, Character: char}
}

func TestEndOf(t *testing.T) {
	assert.Equal(t, pos(0, 0), editor.EndOf(""))
	assert.Equal(t, pos(0, 1), editor.EndOf("A"))
	assert.Equal(t, pos(1, 0), editor.EndOf("A\n"))
	assert.Equal(t, pos(2, 3), editor.EndOf("a\nbb\nccc"))
}

func TestAdvance(t *testing.T) {
	assert.Equal(t, pos(0, 4), editor.Advance(pos(0, 1), "abc"))
	assert.Equal(t, pos(2, 1), editor.Advance(pos(0, 1), "\nx\ny"))
}

func TestOffsetOf_Clamps(t *testing.T) {
	text := "ab\ncd"
	assert.Equal(t, 0, editor.OffsetOf(text, pos(0, 0)))
	assert.Equal(t, 2, editor.OffsetOf(text, pos(0, 9)))
	assert.Equal(t, 4, editor.OffsetOf(text, pos(1, 1)))
	assert.Equal(t, len(text), editor.OffsetOf(text, pos(7, 0)))
}

func TestMemoryHost_InsertAndVersion(t *testing.T) {
	ctx := context.Background()
	h := editor.NewMemoryHost()

	ref, err := h.OpenBuffer(ctx, "A", editor.LanguageJSONC)
	require.NoError(t, err)
	v1, _ := h.Version(ref)

	require.NoError(t, h.InsertAt(ctx, ref, pos(0, 1), "\nB"))
	text, _ := h.Text(ref)
	assert.Equal(t, "A\nB", text)

	v2, _ := h.Version(ref)
	assert.Greater(t, v2, v1)

	end, _ := h.End(ref)
	assert.Equal(t, pos(1, 1), end)
	assert.Equal(t, editor.LanguageJSONC, h.Language(ref))
}

func TestMemoryHost_Visibility(t *testing.T) {
	ctx := context.Background()
	h := editor.NewMemoryHost()
	ref, _ := h.OpenBuffer(ctx, "", editor.LanguageJSON)

	assert.False(t, h.IsVisible(ref))
	col, err := h.Show(ctx, ref, 2)
	require.NoError(t, err)
	assert.Equal(t, editor.ViewColumn(2), col)
	assert.True(t, h.IsVisible(ref))

	require.NoError(t, h.Hide(ref))
	assert.False(t, h.IsVisible(ref))
}

func TestMemoryHost_CloseNotifiesHandlers(t *testing.T) {
	ctx := context.Background()
	h := editor.NewMemoryHost()
	ref, _ := h.OpenBuffer(ctx, "", editor.LanguageRunner)

	var closed []domain.BufferRef
	unsub := h.OnClose(func(r domain.BufferRef) { closed = append(closed, r) })

	require.NoError(t, h.Close(ref))
	assert.Equal(t, []domain.BufferRef{ref}, closed)
	assert.ErrorIs(t, h.Close(ref), editor.ErrUnknownBuffer)

	unsub()
	other, _ := h.OpenBuffer(ctx, "", editor.LanguageRunner)
	require.NoError(t, h.Close(other))
	assert.Len(t, closed, 1)
}

func TestMemoryHost_UnknownBuffer(t *testing.T) {
	h := editor.NewMemoryHost()
	_, err := h.Text("nope")
	assert.ErrorIs(t, err, editor.ErrUnknownBuffer)
	assert.ErrorIs(t, h.InsertAt(context.Background(), "nope", pos(0, 0), "x"), editor.ErrUnknownBuffer)
}

func TestFileHost_InsertWritesFile(t *testing.T) {
	ctx := context.Background()
	h, err := editor.NewFileHost(t.TempDir())
	require.NoError(t, err)
	defer h.Shutdown()

	ref, err := h.OpenBuffer(ctx, "A", editor.LanguageJSONC)
	require.NoError(t, err)
	require.NoError(t, h.InsertAt(ctx, ref, pos(0, 1), "\nB"))

	path, ok := h.Path(ref)
	require.True(t, ok)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A\nB", string(data))
}

func TestFileHost_ExternalEditBumpsVersion(t *testing.T) {
	ctx := context.Background()
	h, err := editor.NewFileHost(t.TempDir())
	require.NoError(t, err)
	defer h.Shutdown()

	ref, _ := h.OpenBuffer(ctx, "A", editor.LanguageJSONC)
	before, _ := h.Version(ref)

	path, _ := h.Path(ref)
	require.NoError(t, os.WriteFile(path, []byte("edited"), 0o644))

	after, err := h.Version(ref)
	require.NoError(t, err)
	assert.Greater(t, after, before)

	text, _ := h.Text(ref)
	assert.Equal(t, "edited", text)
}

func TestFileHost_RemoveClosesBuffer(t *testing.T) {
	ctx := context.Background()
	h, err := editor.NewFileHost(t.TempDir())
	require.NoError(t, err)
	defer h.Shutdown()

	closed := make(chan domain.BufferRef, 1)
	h.OnClose(func(r domain.BufferRef) { closed <- r })

	ref, _ := h.OpenBuffer(ctx, "", editor.LanguageRunner)
	path, _ := h.Path(ref)
	require.NoError(t, os.Remove(path))

	select {
	case got := <-closed:
		assert.Equal(t, ref, got)
	case <-time.After(3 * time.Second):
		t.Fatal("buffer was not closed after its file was removed")
	}
}
