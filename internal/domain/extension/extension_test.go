package extension

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unchained/internal/core/apperror"
	"unchained/internal/metadata"
)

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	r.Register("horses", "greeting", func(_ context.Context, args map[string]any) (any, error) {
		return "hello " + args["name"].(string), nil
	})

	out, err := r.Resolve(context.Background(), "horses", "greeting", map[string]any{"name": "Star"})
	require.NoError(t, err)
	assert.Equal(t, "hello Star", out)
	assert.True(t, r.Has("horses", "greeting"))

	_, err = r.Resolve(context.Background(), "horses", "missing", nil)
	assert.True(t, apperror.IsConfiguration(err))

	r.Register("horses", "broken", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err = r.Resolve(context.Background(), "horses", "broken", nil)
	assert.EqualError(t, err, "extension horses.broken: boom")
}

func TestRegistry_LifecycleHooks(t *testing.T) {
	r := NewRegistry()
	var calls []string
	r.On("horses", BeforePersist, func(_ context.Context, rec Record) error {
		calls = append(calls, "first")
		return nil
	})
	r.On("horses", BeforePersist, func(_ context.Context, rec Record) error {
		calls = append(calls, "second")
		if rec.Values["name"] == "" {
			return apperror.NewValidation("name required")
		}
		return nil
	})
	r.On("horses", BeforePersist, func(context.Context, Record) error {
		calls = append(calls, "third")
		return nil
	})

	err := r.Run(context.Background(), BeforePersist, Record{Entity: "horses", Values: map[string]any{"name": ""}})
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, []string{"first", "second"}, calls)

	assert.NoError(t, r.Run(context.Background(), AfterDelete, Record{Entity: "horses", PK: 1}))
	assert.NoError(t, r.Run(context.Background(), BeforePersist, Record{Entity: "owners"}))
}

func TestCompileExpression(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		fields []string
		args   map[string]any
		want   any
	}{
		{
			name:   "string concat",
			expr:   `name + " (" + color + ")"`,
			fields: []string{"name", "color"},
			args:   map[string]any{"name": "Star", "color": "bay"},
			want:   "Star (bay)",
		},
		{
			name:   "arithmetic over narrow ints",
			expr:   `wins * 2`,
			fields: []string{"wins"},
			args:   map[string]any{"wins": int16(3)},
			want:   int64(6),
		},
		{
			name:   "sanitized identifiers",
			expr:   `first_name + "!"`,
			fields: []string{"first-name"},
			args:   map[string]any{"first-name": "Ann"},
			want:   "Ann!",
		},
		{
			name:   "null result",
			expr:   `has_owner ? owner : null`,
			fields: []string{"has_owner", "owner"},
			args:   map[string]any{"has_owner": false, "owner": "x"},
			want:   nil,
		},
		{
			name:   "timestamps",
			expr:   `born.getFullYear()`,
			fields: []string{"born"},
			args:   map[string]any{"born": time.Date(2019, 4, 1, 0, 0, 0, 0, time.UTC)},
			want:   int64(2019),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook, err := CompileExpression(tt.expr, tt.fields)
			require.NoError(t, err)
			got, err := hook(context.Background(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileExpression_Errors(t *testing.T) {
	_, err := CompileExpression(`name +`, []string{"name"})
	assert.Error(t, err)

	_, err = CompileExpression(`unknown_var`, []string{"name"})
	assert.Error(t, err)
}

func TestRegisterExpressions(t *testing.T) {
	reg, err := metadata.LoadDocuments(map[string]string{
		"horses": `
application:
  fields:
    name: {}
    shout:
      pointer:
        type: external
        fields: [name]
        expression: name + "!"
    fancy:
      pointer:
        type: external
        fields: [name]
`,
	}, time.Now())
	require.NoError(t, err)

	r := NewRegistry()
	require.NoError(t, RegisterExpressions(context.Background(), r, reg))
	assert.True(t, r.Has("horses", "shout"))
	assert.Equal(t, []string{"Field<horses.fancy>"}, Missing(r, reg))

	out, err := r.Resolve(context.Background(), "horses", "shout", map[string]any{"name": "Star"})
	require.NoError(t, err)
	assert.Equal(t, "Star!", out)
}

func TestRegisterExpressions_InvalidExpression(t *testing.T) {
	reg, err := metadata.LoadDocuments(map[string]string{
		"horses": `
application:
  fields:
    name: {}
    shout:
      pointer: {type: external, fields: [name], expression: "name +"}
`,
	}, time.Now())
	require.NoError(t, err)

	err = RegisterExpressions(context.Background(), NewRegistry(), reg)
	assert.True(t, apperror.IsConfiguration(err))
}
