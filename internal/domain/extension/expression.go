package extension

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"unchained/internal/core/apperror"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

var _ metadata.HookResolver = (*Registry)(nil)

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9_]`)

// VariableName maps a field id to the CEL variable it is exposed as.
func VariableName(fieldID string) string {
	name := nonIdent.ReplaceAllString(fieldID, "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}

// CompileExpression compiles expr over the given pointer fields into a Hook.
// Every field is declared as a dynamic variable.
func CompileExpression(expr string, fields []string) (Hook, error) {
	opts := make([]cel.EnvOption, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		name := VariableName(f)
		if seen[name] {
			continue
		}
		seen[name] = true
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	return func(ctx context.Context, args map[string]any) (any, error) {
		vars := make(map[string]any, len(fields))
		for _, f := range fields {
			vars[VariableName(f)] = celNative(args[f])
		}
		out, _, err := prg.ContextEval(ctx, vars)
		if err != nil {
			return nil, err
		}
		if _, isNull := out.(types.Null); isNull {
			return nil, nil
		}
		return out.Value(), nil
	}, nil
}

// RegisterExpressions compiles the expression of every external pointer
// field in reg and binds it in r. Fields without an expression are left for
// code hooks registered with Register.
func RegisterExpressions(ctx context.Context, r *Registry, reg *metadata.Registry) error {
	for _, e := range reg.List() {
		for _, f := range e.Fields() {
			p := f.Pointer()
			if p == nil || p.Kind != metadata.PointerExternal || p.Expression == "" {
				continue
			}
			hook, err := CompileExpression(p.Expression, p.Fields)
			if err != nil {
				return apperror.NewConfigurationf("invalid expression for %s: %v", f, err).WithCause(err)
			}
			r.Register(e.ID(), f.ID(), hook)
			logger.Debug(ctx, "expression hook registered", "entity", e.ID(), "field", f.ID())
		}
	}
	return nil
}

// Missing lists the external pointer fields of reg that have no hook in r.
func Missing(r *Registry, reg *metadata.Registry) []string {
	var out []string
	for _, e := range reg.List() {
		for _, f := range e.Fields() {
			if p := f.Pointer(); p != nil && p.Kind == metadata.PointerExternal && !r.Has(e.ID(), f.ID()) {
				out = append(out, f.String())
			}
		}
	}
	return out
}

// celNative widens scalar types the CEL adapter does not accept directly.
func celNative(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case []byte:
		return string(t)
	}
	return v
}
