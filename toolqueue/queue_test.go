package toolqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/engine/tools"
)

func TestWorkerDedupesByRequestID(t *testing.T) {
	var mu sync.Mutex
	var handled []string
	w := NewWorker(HandlerFunc(func(ctx context.Context, req tools.Request) {
		mu.Lock()
		handled = append(handled, req.RequestID)
		mu.Unlock()
	}))

	e := entry{RequestID: "req-1", RunID: "run-1", ToolName: "calc.add", Arguments: json.RawMessage(`{}`)}
	payload, err := json.Marshal(e)
	require.NoError(t, err)

	w.process(context.Background(), payload)
	w.process(context.Background(), payload)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"req-1"}, handled)
}

func TestWorkerDropsMalformedEntry(t *testing.T) {
	called := false
	w := NewWorker(HandlerFunc(func(ctx context.Context, req tools.Request) { called = true }))
	w.process(context.Background(), []byte("not json"))
	assert.False(t, called)
}
