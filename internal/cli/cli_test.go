package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"mongorunner/internal/config"
	"mongorunner/internal/dbclient"
	"mongorunner/internal/dbclient/dbtest"
	"mongorunner/internal/domain"
	"mongorunner/internal/secret"
	"mongorunner/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:      dir,
		WorkspaceDir: filepath.Join(dir, "workspace"),
		Execution:    config.ExecutionConfig{Timeout: time.Second},
		Output:       config.OutputConfig{Language: "jsonc", PromptPrefix: "// MongoRunner> "},
		Query:        config.QueryConfig{DefaultLimit: 20},
		Attributes:   config.AttributesConfig{SampleSize: 20},
		Editor:       config.EditorConfig{Host: config.HostMemory},
	}
}

// newTestRuntime wires a runtime over sqlite in a temp dir and an in-memory
// deployment holding shop.orders with one document.
func newTestRuntime(t *testing.T) (*Runtime, *dbtest.Driver) {
	t.Helper()
	driver := dbtest.NewDriver()
	driver.Seed("shop", "orders", bson.D{{Key: "_id", Value: int32(1)}, {Key: "item", Value: "pen"}})

	rt, err := NewRuntime(testConfig(t), RuntimeOptions{
		Open: func(context.Context, *domain.DatabaseConnection, string) (dbclient.Driver, error) {
			return driver, nil
		},
		Secrets:  secret.NewMemoryStore(),
		Notifier: &service.RecordingNotifier{},
	})
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt, driver
}

func addLocal(t *testing.T, rt *Runtime) *domain.DatabaseConnection {
	t.Helper()
	conn, err := rt.Registry.CreateConnection(service.ConnectionInput{
		Name:     "local",
		Host:     "localhost",
		Port:     27017,
		Database: "shop",
	})
	require.NoError(t, err)
	return conn
}

// ── Prompter ───────────────────────────────────────────────

type scriptedReader struct {
	answers []string
	errs    []error
	prompts []string
	prompt  string
}

func (r *scriptedReader) Readline() (string, error) {
	r.prompts = append(r.prompts, r.prompt)
	if len(r.answers) == 0 {
		return "", io.EOF
	}
	line, err := r.answers[0], r.errs[0]
	r.answers, r.errs = r.answers[1:], r.errs[1:]
	return line, err
}

func (r *scriptedReader) SetPrompt(prompt string) { r.prompt = prompt }

func TestLinePrompter_Confirm(t *testing.T) {
	r := &scriptedReader{
		answers: []string{" Y ", "no", ""},
		errs:    []error{nil, nil, readline.ErrInterrupt},
	}
	p := NewLinePrompter(r, replPrompt)
	ctx := context.Background()

	ok, err := p.Confirm(ctx, "Drop orders?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Confirm(ctx, "Drop orders?")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Confirm(ctx, "Drop orders?")
	require.NoError(t, err, "interrupt dismisses")
	assert.False(t, ok)

	assert.Equal(t, "Drop orders? [y/N] ", r.prompts[0])
	assert.Equal(t, replPrompt, r.prompt, "prompt restored")
}

func TestLinePrompter_InputText(t *testing.T) {
	r := &scriptedReader{
		answers: []string{`{"qty": 1}`, "   "},
		errs:    []error{nil, nil},
	}
	p := NewLinePrompter(r, "")
	ctx := context.Background()

	text, ok, err := p.InputText(ctx, "Index keys")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"qty": 1}`, text)

	_, ok, err = p.InputText(ctx, "Index keys")
	require.NoError(t, err)
	assert.False(t, ok, "blank answer dismisses")

	_, ok, err = p.InputText(ctx, "Index keys")
	require.NoError(t, err)
	assert.False(t, ok, "EOF dismisses")
}

func TestLinePrompter_ReadError(t *testing.T) {
	boom := errors.New("tty gone")
	p := NewLinePrompter(&scriptedReader{answers: []string{""}, errs: []error{boom}}, "")

	_, err := p.Confirm(context.Background(), "sure?")
	assert.ErrorIs(t, err, boom)
}

func TestStreamNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewStreamNotifier(&buf)
	n.Info(context.Background(), "Create index: qty_1")
	n.Error(context.Background(), "Connection is closed.")

	assert.Equal(t, "info: Create index: qty_1\nerror: Connection is closed.\n", buf.String())
}

// ── Input helpers ──────────────────────────────────────────

func TestIncomplete(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"db.collection('orders').find()\n", false},
		{"db.collection('orders').find({\n", true},
		{"[1, 2,\n", true},
		{"'{' + 1\n", false},
		{"`multi\n", true},
		{"/* open\n", true},
		{"1 // ignore (\n", false},
		{"'unterminated\n", false},
		{"f(\"a\\\")\")\n", false},
		{"}\n", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, incomplete(tt.src), "%q", tt.src)
	}
}

func TestSplitNamespace(t *testing.T) {
	db, coll, ok := splitNamespace("shop.orders.archive")
	assert.True(t, ok)
	assert.Equal(t, "shop", db)
	assert.Equal(t, "orders.archive", coll)

	for _, bad := range []string{"shop", ".orders", "shop."} {
		_, _, ok := splitNamespace(bad)
		assert.False(t, ok, bad)
	}
}

// ── Runtime ────────────────────────────────────────────────

func TestResolveConnection(t *testing.T) {
	rt, _ := newTestRuntime(t)
	conn := addLocal(t, rt)

	byID, err := rt.ResolveConnection(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "local", byID.Name)

	byName, err := rt.ResolveConnection("local")
	require.NoError(t, err)
	assert.Equal(t, conn.ID, byName.ID)

	_, err = rt.ResolveConnection("nope")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestRunScript(t *testing.T) {
	rt, _ := newTestRuntime(t)
	addLocal(t, rt)

	var out bytes.Buffer
	src := "db.collection('orders').countDocuments({})\nmissing.call()\n"
	err := runScript(context.Background(), rt, "local", "", src, &out)

	assert.EqualError(t, err, "1 of 2 statements failed")
	assert.Equal(t, "// MongoRunner> db.collection('orders').countDocuments({})\n1\n"+
		"// MongoRunner> missing.call()\nmissing is not defined\n", out.String())
}

func TestRunScript_UnknownConnection(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var out bytes.Buffer
	err := runScript(context.Background(), rt, "prod", "", "1", &out)

	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	assert.Empty(t, out.String())
}

func TestReadScript_Stdin(t *testing.T) {
	src, err := readScript(strings.NewReader("db.getName()"), "-")
	require.NoError(t, err)
	assert.Equal(t, "db.getName()", src)

	_, err = readScript(nil, filepath.Join(t.TempDir(), "missing.js"))
	assert.ErrorContains(t, err, "read script")
}

// ── REPL ───────────────────────────────────────────────────

func TestREPL_EvalAndDotCommands(t *testing.T) {
	rt, _ := newTestRuntime(t)
	addLocal(t, rt)
	ctx := context.Background()

	var out, errOut bytes.Buffer
	r, err := newREPL(ctx, rt, "local", "", &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "Using database shop\n", out.String())
	out.Reset()

	r.eval(ctx, "1 + 2\ndb.getName()\n")
	assert.Equal(t, "3\nshop\n", out.String())

	r.eval(ctx, "nope()")
	assert.Contains(t, errOut.String(), "nope is not defined")
	assert.Contains(t, rt.OutputText(r.ref), "// MongoRunner> nope()")

	old := r.ref
	assert.False(t, r.dot(ctx, ".use archive"))
	assert.Equal(t, "archive", r.session().DatabaseName)
	_, stillThere := rt.Table.Snapshot(old)
	assert.False(t, stillThere, "previous session dropped")

	errOut.Reset()
	assert.False(t, r.dot(ctx, ".use"))
	assert.Equal(t, "Usage: .use <database>\n", errOut.String())

	assert.False(t, r.dot(ctx, ".bogus"))
	assert.Contains(t, errOut.String(), "Unknown command .bogus")

	assert.True(t, r.dot(ctx, ".quit"))
	assert.True(t, r.dot(ctx, ".EXIT"))
}

func TestREPL_ClearOutput(t *testing.T) {
	rt, _ := newTestRuntime(t)
	addLocal(t, rt)
	ctx := context.Background()

	var out, errOut bytes.Buffer
	r, err := newREPL(ctx, rt, "local", "", &out, &errOut)
	require.NoError(t, err)

	r.eval(ctx, "40 + 2")
	require.NotEmpty(t, rt.OutputText(r.ref))

	r.dot(ctx, ".clear")
	assert.Empty(t, errOut.String())
	assert.Empty(t, rt.OutputText(r.ref))
}

// ── Rendering ──────────────────────────────────────────────

func TestRenderConnections(t *testing.T) {
	var buf bytes.Buffer
	renderConnections(&buf, nil)
	assert.Contains(t, buf.String(), "No connections.")

	buf.Reset()
	renderConnections(&buf, []domain.DatabaseConnection{
		{ID: "c1", Name: "local", Host: "localhost", Port: 27017, Database: "shop", ActiveOnStartup: true},
	})
	for _, want := range []string{"NAME", "local", "localhost", "27017", "shop", "yes"} {
		assert.Contains(t, buf.String(), want)
	}
}

func TestRenderTree(t *testing.T) {
	rt, driver := newTestRuntime(t)
	conn := addLocal(t, rt)
	driver.DB("shop").Coll("orders").CreateIndex(context.Background(), bson.D{{Key: "qty", Value: int32(1)}}, false)
	require.NoError(t, rt.Registry.Connect(context.Background(), conn.ID))

	var buf bytes.Buffer
	renderTree(&buf, rt.Tree)

	text := buf.String()
	for _, want := range []string{"local [connected]", "Databases", "shop", "orders", "Indexes", "qty_1"} {
		assert.Contains(t, text, want)
	}
	assert.Less(t, strings.Index(text, "shop"), strings.Index(text, "orders"))
}

func TestRenderTree_Empty(t *testing.T) {
	rt, _ := newTestRuntime(t)

	var buf bytes.Buffer
	renderTree(&buf, rt.Tree)
	assert.Equal(t, "No connections.\n", buf.String())
}

func TestRenderApprovals(t *testing.T) {
	var buf bytes.Buffer
	renderApprovals(&buf, nil)
	assert.Equal(t, "No pending approvals.\n", buf.String())

	buf.Reset()
	renderApprovals(&buf, []domain.PendingApproval{{ID: "a1", Tool: "delete_collection", Description: "Drop shop.orders"}})
	assert.Contains(t, buf.String(), "delete_collection")
	assert.Contains(t, buf.String(), "Drop shop.orders")
}

// ── Command tree ───────────────────────────────────────────

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_ConnLifecycle(t *testing.T) {
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()
	common := []string{"--data-dir", dataDir, "--editor-host", "memory"}

	out, err := execute(t, append([]string{"conn", "add", "local", "--host", "db.internal", "--database", "shop"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Created connection local")

	out, err = execute(t, append([]string{"conn", "list"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "db.internal")

	out, err = execute(t, append([]string{"conn", "rm", "local", "--yes"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted connection local")

	out, err = execute(t, append([]string{"conn", "ls"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No connections.")
}

func TestRootCommand_Approvals(t *testing.T) {
	t.Chdir(t.TempDir())
	dataDir := t.TempDir()

	out, err := execute(t, "approvals", "list", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Equal(t, "No pending approvals.\n", out)

	_, err = execute(t, "approvals", "approve", "missing", "--data-dir", dataDir)
	assert.ErrorIs(t, err, domain.ErrApprovalNotFound)
}

func TestRootCommand_InvalidFlag(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "conn", "list", "--data-dir", t.TempDir(), "--editor-host", "vim")
	assert.ErrorContains(t, err, "editor.host")
}
