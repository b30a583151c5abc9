// Package mongostore is the durable, cross-process workflow.Store backing
// the distributed deployment, so WorkflowState survives process restarts
// and ListIncomplete can find orphaned runs (4.H). Mirrors
// runstate/mongostore's upsert-by-key pattern.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/runflow/engine/workflow"
)

const (
	defaultCollection = "workflow_states"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements workflow.Store against a MongoDB collection, keyed by
// run_id with a unique index so Save acts as an atomic upsert.
type Store struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New builds a Store and ensures its supporting index exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collection)

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ictx, index); err != nil {
		return nil, err
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

// Load returns the stored workflow state for runID, or nil if none exists.
func (s *Store) Load(ctx context.Context, runID string) (*workflow.State, error) {
	if runID == "" {
		return nil, errors.New("mongostore: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc workflow.State
	err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Save atomically upserts state by run_id.
func (s *Store) Save(ctx context.Context, state *workflow.State) error {
	if state.RunID == "" {
		return errors.New("mongostore: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"run_id": state.RunID}
	update := bson.M{"$set": state}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// ListIncomplete returns every workflow state whose status is not terminal,
// so a freshly started process can resume orphaned runs (4.H).
func (s *Store) ListIncomplete(ctx context.Context) ([]*workflow.State, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"status": bson.M{"$nin": bson.A{
		string(workflow.StatusCompleted),
		string(workflow.StatusFailed),
	}}}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*workflow.State
	for cur.Next(ctx) {
		var doc workflow.State
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, &doc)
	}
	return out, cur.Err()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
