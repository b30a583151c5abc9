package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdent(t *testing.T) {
	assert.Equal(t, Ident("calculator.add"), NewIdent("calculator", "add"))
	assert.Equal(t, Ident("add"), NewIdent("", "add"))
}

func TestRequestIDDeterministic(t *testing.T) {
	a := RequestID("run-1", "respond", 2)
	b := RequestID("run-1", "respond", 2)
	c := RequestID("run-1", "respond", 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestCacheKeyStable(t *testing.T) {
	k1 := CacheKey(Ident("calculator.add"), []byte(`{"a":1,"b":2}`))
	k2 := CacheKey(Ident("calculator.add"), []byte(`{"a":1,"b":2}`))
	k3 := CacheKey(Ident("calculator.add"), []byte(`{"a":1,"b":3}`))
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestScopeFromTags(t *testing.T) {
	scope, ok := ScopeFromTags([]string{"read-only", "idempotency=transcript"})
	require.True(t, ok)
	assert.Equal(t, IdempotencyScopeTranscript, scope)

	_, ok = ScopeFromTags([]string{"read-only"})
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	calc := &Spec{Name: "calculator.add", ServerID: "calculator", ReadOnly: true}
	reg := NewRegistry(calc, &Spec{Name: "calculator.add", ServerID: "calculator", ReadOnly: false})

	got, ok := reg.Spec("calculator.add")
	require.True(t, ok)
	assert.False(t, got.ReadOnly, "later registration should win")
	assert.Len(t, reg.All(), 1)

	_, ok = reg.Spec("unknown")
	assert.False(t, ok)
}

func TestValidatorRejectsMissingRequiredField(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"a": {"type": "number"}, "b": {"type": "number"}},
		"required": ["a", "b"]
	}`)
	spec := &Spec{Name: "calculator.add", InputSchema: schema}
	v, err := NewValidator([]*Spec{spec})
	require.NoError(t, err)

	require.NoError(t, v.Validate("calculator.add", json.RawMessage(`{"a":1,"b":2}`)))
	assert.Error(t, v.Validate("calculator.add", json.RawMessage(`{"a":1}`)))
}

func TestValidatorAllowsSchemalessTool(t *testing.T) {
	v, err := NewValidator([]*Spec{{Name: "noop"}})
	require.NoError(t, err)
	assert.NoError(t, v.Validate("noop", json.RawMessage(`{"anything":true}`)))
}
