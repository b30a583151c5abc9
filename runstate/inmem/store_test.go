package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/engine/runstate"
	"github.com/runflow/engine/runstate/inmem"
)

func TestLoadMissingReturnsNil(t *testing.T) {
	s := inmem.New()
	got, err := s.Load(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := inmem.New()
	state := runstate.New("run-1")
	state.Message = "hello"
	state.LastSeq = 3

	require.NoError(t, s.Save(context.Background(), state))

	got, err := s.Load(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, int64(3), got.LastSeq)
}

func TestSaveIsolatesFromCallerMutation(t *testing.T) {
	s := inmem.New()
	state := runstate.New("run-1")
	state.Decisions = append(state.Decisions, runstate.Decision{Seq: 1})
	require.NoError(t, s.Save(context.Background(), state))

	state.Decisions[0].Seq = 99

	got, err := s.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Decisions[0].Seq)
}
