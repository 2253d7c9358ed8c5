package run

import (
	"context"
	"time"

	"github.com/conveyor-ci/conveyor"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoStore persists run records in a MongoDB collection.
type mongoStore struct {
	db *mongo.Database
}

// NewMongoStore returns a run store backed by the given database.
func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{db: db}
}

func (s *mongoStore) collection() *mongo.Collection {
	return s.db.Collection(Collection)
}

func (s *mongoStore) Put(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return errors.New("run must have an ID")
	}
	_, err := s.collection().ReplaceOne(ctx,
		bson.M{"_id": r.ID}, r, options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "saving run '%s'", r.ID)
}

func (s *mongoStore) Get(ctx context.Context, id string) (*Run, error) {
	r := &Run{}
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(r)
	if err == mongo.ErrNoDocuments {
		return nil, errors.Wrapf(ErrRunNotFound, "run '%s'", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "finding run '%s'", id)
	}
	return r, nil
}

func (s *mongoStore) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	filter := bson.M{}
	if opts.PipelineName != "" {
		filter["pipeline_name"] = opts.PipelineName
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cur, err := s.collection().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer cur.Close(ctx)

	runs := []Run{}
	if err := cur.All(ctx, &runs); err != nil {
		return nil, errors.Wrap(err, "decoding runs")
	}
	return runs, nil
}

func (s *mongoStore) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.collection().DeleteMany(ctx, bson.M{
		"status":      bson.M{"$in": []string{conveyor.StatusSucceeded, conveyor.StatusFailed, conveyor.StatusAborted}},
		"finished_at": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, errors.Wrap(err, "pruning runs")
	}
	return int(res.DeletedCount), nil
}
