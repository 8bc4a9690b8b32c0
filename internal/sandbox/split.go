package sandbox

import (
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// asyncPrefix lets buffers that use top-level await still be split: the text
// is parsed as the body of an async function and offsets are shifted back.
const asyncPrefix = "(async function () {\n"

// SplitStatements splits buffer text into its top-level statements, in source
// order, dropping comments and empty statements. Text that does not parse is
// returned whole (trimmed) so that executing it reports the syntax error.
func SplitStatements(src string) []string {
	if strings.TrimSpace(src) == "" {
		return nil
	}

	if prog, err := parser.ParseFile(nil, "", src, 0); err == nil {
		return sliceStatements(src, prog.Body, 0)
	}

	wrapped := asyncPrefix + src + "\n})"
	if prog, err := parser.ParseFile(nil, "", wrapped, 0); err == nil {
		if body := asyncBody(prog); body != nil {
			return sliceStatements(src, body, len(asyncPrefix))
		}
	}

	return []string{strings.TrimSpace(src)}
}

func asyncBody(prog *ast.Program) []ast.Statement {
	if len(prog.Body) != 1 {
		return nil
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return nil
	}
	fn, ok := stmt.Expression.(*ast.FunctionLiteral)
	if !ok || fn.Body == nil {
		return nil
	}
	return fn.Body.List
}

// sliceStatements cuts each statement out of src. Node offsets are 1-based and
// measured in the parsed text, which starts shift bytes before src.
func sliceStatements(src string, body []ast.Statement, shift int) []string {
	var out []string
	for _, stmt := range body {
		if _, ok := stmt.(*ast.EmptyStatement); ok {
			continue
		}
		start := int(stmt.Idx0()) - 1 - shift
		end := int(stmt.Idx1()) - 1 - shift
		if start < 0 {
			start = 0
		}
		if end > len(src) {
			end = len(src)
		}
		if start >= end {
			continue
		}
		text := strings.TrimSpace(src[start:end])
		text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}
