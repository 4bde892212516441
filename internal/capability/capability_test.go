package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name string
	ops  []OperationSpec
}

func (p *stubProvider) Name() string                { return p.name }
func (p *stubProvider) Operations() []OperationSpec { return p.ops }
func (p *stubProvider) Execute(context.Context, string, map[string]any) (Result, error) {
	return Result{}, nil
}

func searchSpec() OperationSpec {
	return OperationSpec{
		Name:        "search",
		Description: "Search messages",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			},
			"required":             []any{"query"},
			"additionalProperties": false,
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "mail", ops: []OperationSpec{searchSpec()}}))

	t.Run("duplicate provider rejected", func(t *testing.T) {
		err := reg.Register(&stubProvider{name: "mail"})
		require.Error(t, err)
	})

	t.Run("empty provider name rejected", func(t *testing.T) {
		err := reg.Register(&stubProvider{name: ""})
		require.Error(t, err)
	})

	t.Run("spec lookup defaults class to read", func(t *testing.T) {
		spec, ok := reg.Spec("mail", "search")
		require.True(t, ok)
		assert.Equal(t, ClassRead, spec.Class)
	})
}

func TestRegistryValidateCall(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{name: "mail", ops: []OperationSpec{searchSpec()}}))

	t.Run("valid call passes", func(t *testing.T) {
		err := reg.ValidateCall("mail", "search", map[string]any{"query": "dinner"})
		require.NoError(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		err := reg.ValidateCall("sms", "search", nil)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "unknown provider", verr.Reason)
	})

	t.Run("unknown operation", func(t *testing.T) {
		err := reg.ValidateCall("mail", "teleport", nil)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "unknown operation", verr.Reason)
	})

	t.Run("schema violation", func(t *testing.T) {
		err := reg.ValidateCall("mail", "search", map[string]any{"limit": 5})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestValidateParams(t *testing.T) {
	schema := searchSpec().Params

	cases := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"required present", map[string]any{"query": "x"}, false},
		{"required missing", map[string]any{}, true},
		{"wrong type", map[string]any{"query": 42}, true},
		{"unknown field closed schema", map[string]any{"query": "x", "sort": "asc"}, true},
		{"integer from json float", map[string]any{"query": "x", "limit": float64(3)}, false},
		{"fractional float is not integer", map[string]any{"query": "x", "limit": 3.5}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParams(schema, tc.params)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}

	t.Run("empty schema accepts anything", func(t *testing.T) {
		require.NoError(t, ValidateParams(nil, map[string]any{"whatever": 1}))
	})
}

func TestParseDefinitions(t *testing.T) {
	doc := []byte(`
mail:
  - name: search
    description: Search the mailbox
    params:
      type: object
      properties:
        query:
          type: string
      required: [query]
  - name: compose
    class: draft
  - name: send
    class: confirm
contacts:
  - name: resolve
`)
	defs, err := ParseDefinitions(doc)
	require.NoError(t, err)

	mail := defs.Operations("mail")
	require.Len(t, mail, 3)
	assert.Equal(t, ClassRead, mail[0].Class)
	assert.Equal(t, ClassDraft, mail[1].Class)
	assert.Equal(t, ClassConfirm, mail[2].Class)

	require.NoError(t, ValidateParams(mail[0].Params, map[string]any{"query": "x"}))
	require.Error(t, ValidateParams(mail[0].Params, map[string]any{}))

	t.Run("unknown class rejected", func(t *testing.T) {
		_, err := ParseDefinitions([]byte("mail:\n  - name: x\n    class: nuke\n"))
		require.Error(t, err)
	})

	t.Run("unnamed operation rejected", func(t *testing.T) {
		_, err := ParseDefinitions([]byte("mail:\n  - description: no name\n"))
		require.Error(t, err)
	})
}

func TestTransientClassification(t *testing.T) {
	base := assert.AnError

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}
