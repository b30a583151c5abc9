// Package mongostore is the durable, cross-process RunState store backing
// the distributed deployment. Grounded on the teacher's features/run/mongo
// client wrapper: a thin collection interface behind the driver, upsert by
// run_id, unique index for idempotent writes.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/runflow/engine/runstate"
)

const (
	defaultCollection = "run_states"
	defaultOpTimeout   = 5 * time.Second
)

// Options configures the Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements runstate.Store against a MongoDB collection, keyed by
// run_id with a unique index so Save acts as an atomic upsert — readers
// never observe a partially written document.
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

// Load returns the stored snapshot for runID, or nil if none exists.
func (s *Store) Load(ctx context.Context, runID string) (*runstate.RunState, error) {
	if runID == "" {
		return nil, errors.New("mongostore: run id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc runstate.RunState
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
func (s *Store) Save(ctx context.Context, state *runstate.RunState) error {
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

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
