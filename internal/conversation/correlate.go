package conversation

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/zwavetools/zwsniff/internal/decode"
	"github.com/zwavetools/zwsniff/internal/frame"
)

// Rule derives a correlation key from a decoded frame. The expression
// runs against an environment of the frame's decoded fields and must
// return a string; an empty string means the rule does not claim the
// frame. Rules are the extension point for exchanges beyond the
// built-in command table.
type Rule struct {
	program      *vm.Program
	source       string
	expectsReply bool
}

// exprEnv is the shape correlation expressions are compiled against.
func exprEnv() map[string]interface{} {
	return map[string]interface{}{
		"kind":   "",
		"fields": map[string]interface{}{},
	}
}

// CompileRule compiles a correlation-key expression. expectsReply
// declares whether exchanges it opens await a response.
func CompileRule(expression string, expectsReply bool) (Rule, error) {
	program, err := expr.Compile(expression, expr.Env(exprEnv()))
	if err != nil {
		return Rule{}, fmt.Errorf("compiling correlation rule %q: %w", expression, err)
	}
	return Rule{program: program, source: expression, expectsReply: expectsReply}, nil
}

// correlate derives (key, expectsReply) for a frame. Custom rules are
// tried in order, then the built-in command table. ok is false when
// nothing claims the frame, which makes it standalone.
func (a *Analyzer) correlate(f *frame.Frame, root *decode.Chunk) (string, bool, bool) {
	if len(a.rules) > 0 {
		env := map[string]interface{}{
			"kind":   f.Kind.String(),
			"fields": fieldMap(root),
		}
		for _, r := range a.rules {
			out, err := expr.Run(r.program, env)
			if err != nil {
				continue
			}
			if key, ok := out.(string); ok && key != "" {
				return key, r.expectsReply, true
			}
		}
	}

	if f.Kind == frame.KindCommand {
		if id, ok := f.CommandID(); ok {
			return fmt.Sprintf("cmd:%02x", id), commandExpectsReply(id), true
		}
	}
	return "", false, false
}

// commandExpectsReply is the built-in request/response table for the
// documented commands. Undocumented commands are grouped for
// retransmission only.
func commandExpectsReply(id byte) bool {
	switch id {
	case frame.CmdGetVersion:
		return true
	case frame.CmdSetRegion:
		return false
	}
	return false
}

// fieldMap flattens a decoded chunk tree into label -> value for
// expression evaluation. Later duplicates of a label do not overwrite
// the first, outermost occurrence.
func fieldMap(root *decode.Chunk) map[string]interface{} {
	fields := make(map[string]interface{})
	if root == nil {
		return fields
	}
	root.Walk(func(c *decode.Chunk) {
		if _, seen := fields[c.Label]; seen {
			return
		}
		switch c.Value.Kind {
		case decode.ValueUint:
			fields[c.Label] = int(c.Value.Uint)
		case decode.ValueText:
			fields[c.Label] = c.Value.Text
		case decode.ValueBytes:
			fields[c.Label] = fmt.Sprintf("%x", c.Value.Bytes)
		}
	})
	return fields
}
