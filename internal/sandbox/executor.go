package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"mongorunner/internal/dbclient"
	"mongorunner/internal/domain"
)

// DefaultTimeout bounds a single script when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// DatabaseProvider hands out database handles; dbclient.Driver satisfies it.
type DatabaseProvider interface {
	Database(name string) dbclient.Database
}

// Executor evaluates command text in an isolated runtime whose only global is
// `db`. Every call gets a fresh runtime, so no state leaks between commands.
type Executor struct {
	// Timeout interrupts a script that runs longer; zero disables it.
	Timeout time.Duration
}

// NewExecutor creates an executor with the given timeout.
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{Timeout: timeout}
}

var errTimeout = errors.New("script timed out")

// Execute runs script against databaseName and always returns an Outcome;
// failures of any kind are reported in it rather than as a Go error.
func (e *Executor) Execute(ctx context.Context, provider DatabaseProvider, databaseName, script string) (out domain.Outcome) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.Timeout > 0 {
		timer := time.AfterFunc(e.Timeout, func() { cancel(errTimeout) })
		defer timer.Stop()
	}

	vm := goja.New()

	// Interrupt JS execution when the context is cancelled or times out.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt(context.Cause(runCtx))
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[SANDBOX] recovered panic: %v", r)
			out = domain.Failure(fmt.Sprintf("internal error: %v", r))
		}
	}()

	b := newBinding(runCtx, vm, provider.Database(databaseName))
	if err := vm.Set("db", b.database()); err != nil {
		return domain.Failure(err.Error())
	}

	prog, err := compile(script)
	if err != nil {
		return domain.Failure(e.message(vm, err))
	}

	value, err := vm.RunProgram(prog)
	if err != nil {
		return domain.Failure(e.message(vm, err))
	}

	value, err = settle(vm, value)
	if err != nil {
		return domain.Failure(e.message(vm, err))
	}
	return outcomeOf(vm, b, value)
}

// compile parses script, retrying inside an async function when it uses a
// top-level await. The wrapped body returns its last expression statement so
// the completion value survives the wrapping.
func compile(script string) (*goja.Program, error) {
	prog, err := goja.Compile("", script, false)
	if err == nil || !strings.Contains(script, "await") {
		return prog, err
	}
	body, ok := returnLast(script)
	if !ok {
		return nil, err
	}
	if p, werr := goja.Compile("", "(async () => {\n"+body+"\n})()", false); werr == nil {
		return p, nil
	}
	return nil, err
}

// returnLast parses script as an async function body and prefixes its last
// top-level statement with return when that statement is an expression.
func returnLast(script string) (string, bool) {
	prog, err := parser.ParseFile(nil, "", asyncPrefix+script+"\n})", 0)
	if err != nil {
		return "", false
	}
	stmts := asyncBody(prog)
	for len(stmts) > 0 {
		if _, empty := stmts[len(stmts)-1].(*ast.EmptyStatement); !empty {
			break
		}
		stmts = stmts[:len(stmts)-1]
	}
	if len(stmts) == 0 {
		return script, true
	}
	last, isExpr := stmts[len(stmts)-1].(*ast.ExpressionStatement)
	if !isExpr {
		return script, true
	}
	start := int(last.Idx0()) - 1 - len(asyncPrefix)
	end := int(last.Idx1()) - 1 - len(asyncPrefix)
	if start < 0 || end > len(script) || start >= end {
		return script, true
	}
	return script[:start] + "return (" + script[start:end] + ")" + script[end:], true
}

// errPending marks a promise left unsettled after the job queue drained.
var errPending = errors.New("script returned a promise that never settled")

// rejection carries the reason of a rejected promise.
type rejection struct {
	reason goja.Value
}

func (r *rejection) Error() string { return r.reason.String() }

// settle resolves promises and thenables (such as find cursors) to their
// values. Capability promises are settled eagerly, so by the time
// Promise.resolve returns the job queue has run to completion.
func settle(vm *goja.Runtime, v goja.Value) (goja.Value, error) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v, nil
	}
	if _, isThenable := goja.AssertFunction(obj.Get("then")); !isThenable {
		return v, nil
	}

	promiseCtor := vm.Get("Promise").ToObject(vm)
	resolveFn, _ := goja.AssertFunction(promiseCtor.Get("resolve"))
	pv, err := resolveFn(promiseCtor, v)
	if err != nil {
		return nil, err
	}
	p, ok := pv.Export().(*goja.Promise)
	if !ok {
		return pv, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, &rejection{reason: p.Result()}
	default:
		return nil, errPending
	}
}

// message turns any execution error into the diagnostic shown to the user.
func (e *Executor) message(vm *goja.Runtime, err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause, _ := interrupted.Value().(error)
		if errors.Is(cause, errTimeout) {
			return fmt.Sprintf("TimeoutError: script exceeded %s", e.Timeout)
		}
		if cause != nil {
			return "execution cancelled: " + cause.Error()
		}
		return "execution interrupted"
	}

	var rej *rejection
	if errors.As(err, &rej) {
		return reasonMessage(rej.reason)
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		return reasonMessage(ex.Value())
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return syntax.Error()
	}
	return err.Error()
}

// reasonMessage prefers an Error's message property over its string form.
func reasonMessage(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) && m.String() != "" {
			return m.String()
		}
	}
	return safeString(v)
}

// safeString is String(v), tolerating objects whose toString throws.
func safeString(v goja.Value) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = ""
		}
	}()
	return v.String()
}

func outcomeOf(vm *goja.Runtime, b *binding, v goja.Value) domain.Outcome {
	if v == nil || goja.IsUndefined(v) {
		return domain.Success(nil, "undefined")
	}
	if goja.IsNull(v) {
		return domain.Success(nil, "null")
	}

	out := domain.Success(v.Export(), safeString(v))
	if _, isObject := v.(*goja.Object); isObject {
		// Cyclic values make stringify throw; the renderer then falls back.
		if s, err := b.jsonStringify(goja.Undefined(), v, goja.Null(), vm.ToValue(4)); err == nil && !goja.IsUndefined(s) {
			out.JSON = s.String()
		}
	}
	return out
}
