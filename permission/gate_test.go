package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/engine/runstate"
)

func TestGateAllowsByDefault(t *testing.T) {
	g := New(Options{})
	d, err := g.Check(context.Background(), "github.read", "production", runstate.Identity{})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGateBlocksListedScope(t *testing.T) {
	g := New(Options{BlockScopes: []string{"github.write"}})
	d, err := g.Check(context.Background(), "github.write", "production", runstate.Identity{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "scope_not_allowed_github.write", d.Reason)
}

func TestGateAllowlistExcludesUnlistedScope(t *testing.T) {
	g := New(Options{AllowScopes: []string{"github.read"}})
	d, err := g.Check(context.Background(), "github.write", "production", runstate.Identity{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestGateBlockScopeTakesPrecedenceOverAllow(t *testing.T) {
	g := New(Options{AllowScopes: []string{"github.write"}, BlockScopes: []string{"github.write"}})
	d, err := g.Check(context.Background(), "github.write", "production", runstate.Identity{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestGateBlocksEnvironment(t *testing.T) {
	g := New(Options{BlockEnvironments: []string{"production"}})
	d, err := g.Check(context.Background(), "github.read", "production", runstate.Identity{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
