package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	jobCollectionName = "thumbnail_jobs"
	connectTimeout    = 10 * time.Second
)

// Compile-time check that MongoRepository implements Repository.
var _ Repository = (*MongoRepository)(nil)

// jobDocument is the stored form of a Job.
type jobDocument struct {
	ID          string    `bson:"_id"`
	VideoID     string    `bson:"videoId"`
	SourceKey   string    `bson:"sourceKey"`
	DerivedKey  string    `bson:"derivedKey"`
	Status      Status    `bson:"status"`
	Error       string    `bson:"error,omitempty"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
	StartedAt   time.Time `bson:"startedAt,omitempty"`
	CompletedAt time.Time `bson:"completedAt,omitempty"`
}

func toDocument(j *Job) jobDocument {
	c := j.Clone()
	return jobDocument{
		ID:          c.ID,
		VideoID:     c.VideoID,
		SourceKey:   c.SourceKey,
		DerivedKey:  c.DerivedKey,
		Status:      c.Status,
		Error:       c.Error,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
	}
}

func (d jobDocument) toJob() *Job {
	return &Job{
		ID:          d.ID,
		VideoID:     d.VideoID,
		SourceKey:   d.SourceKey,
		DerivedKey:  d.DerivedKey,
		Status:      d.Status,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		StartedAt:   d.StartedAt,
		CompletedAt: d.CompletedAt,
	}
}

// MongoRepository stores jobs in a MongoDB collection.
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a repository backed by db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection(jobCollectionName)}
}

// Connect opens a client for uri and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return client, nil
}

// EnsureIndexes creates the lookup index used by FindByVideoID.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "videoId", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("videoId_createdAt"),
	})
	if err != nil {
		return fmt.Errorf("create thumbnail job index: %w", err)
	}
	return nil
}

// Save upserts the job by ID.
func (r *MongoRepository) Save(ctx context.Context, job *Job) error {
	doc := toDocument(job)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save thumbnail job %s: %w", doc.ID, err)
	}
	return nil
}

// Update replaces the job only while the stored status is still from.
func (r *MongoRepository) Update(ctx context.Context, job *Job, from Status) error {
	doc := toDocument(job)
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID, "status": from}, doc)
	if err != nil {
		return fmt.Errorf("update thumbnail job %s: %w", doc.ID, err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.FindByID(ctx, doc.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is no longer %s", ErrInvalidTransition, doc.ID, from)
	}
	return nil
}

// FindByID retrieves a job by its ID.
func (r *MongoRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	return r.findOne(ctx, bson.M{"_id": id}, nil)
}

// FindByVideoID returns the newest job for videoID.
func (r *MongoRepository) FindByVideoID(ctx context.Context, videoID string) (*Job, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return r.findOne(ctx, bson.M{"videoId": videoID}, opts)
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*Job, error) {
	var doc jobDocument
	var err error
	if opts != nil {
		err = r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = r.collection.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("find thumbnail job: %w", err)
	}
	return doc.toJob(), nil
}
