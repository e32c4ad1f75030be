package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yoockh/yoocall/internal/models"
)

const TranscriptCollection = "call_transcripts"

type TranscriptRepository interface {
	Insert(ctx context.Context, e *models.TranscriptEntry) error
	ListByRoom(ctx context.Context, roomID string, limit int64) ([]models.TranscriptEntry, error)
}

type transcriptRepo struct {
	col *mongo.Collection
	ttl time.Duration
}

// NewTranscriptRepo stores entries that expire ttl after insertion.
func NewTranscriptRepo(db *mongo.Database, ttl time.Duration) TranscriptRepository {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &transcriptRepo{col: db.Collection(TranscriptCollection), ttl: ttl}
}

func (r *transcriptRepo) Insert(ctx context.Context, e *models.TranscriptEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = e.CreatedAt.Add(r.ttl)
	}
	_, err := r.col.InsertOne(ctx, e)
	return err
}

func (r *transcriptRepo) ListByRoom(ctx context.Context, roomID string, limit int64) ([]models.TranscriptEntry, error) {
	if limit <= 0 {
		limit = 500
	}

	cur, err := r.col.Find(ctx,
		bson.M{"room_id": roomID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.TranscriptEntry{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
