package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/b4its/next-kepin/internal/models"
)

// uploadDoc is the MongoDB shape of an upload.
type uploadDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"user_id"`
	FileName  string             `bson:"file_name"`
	FilePath  string             `bson:"file_path"`
	FileType  string             `bson:"file_type"`
	ObjectKey string             `bson:"object_key"`
	Size      int64              `bson:"size"`
	CreatedAt time.Time          `bson:"created_at"`
}

func (d uploadDoc) record() models.UploadRecord {
	return models.UploadRecord{
		ID:        models.ID(d.ID.Hex()),
		UserID:    d.UserID,
		FileName:  d.FileName,
		FilePath:  d.FilePath,
		FileType:  d.FileType,
		ObjectKey: d.ObjectKey,
		Size:      d.Size,
		CreatedAt: d.CreatedAt,
	}
}

// MongoStore keeps uploads and their analysis results in MongoDB.
type MongoStore struct {
	uploads *mongo.Collection
	results *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		uploads: db.Collection("uploads"),
		results: db.Collection("financial_data"),
	}
}

// EnsureIndexes creates the lookup indexes. At most one result exists per
// upload.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.uploads.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("uploads index: %w", err)
	}
	_, err = s.results.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id_userupload", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("financial_data index: %w", err)
	}
	return nil
}

// ── Uploads ──────────────────────────────────────────────

func (s *MongoStore) InsertUpload(ctx context.Context, u *models.UploadRecord) (string, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	res, err := s.uploads.InsertOne(ctx, uploadDoc{
		UserID:    u.UserID,
		FileName:  u.FileName,
		FilePath:  u.FilePath,
		FileType:  u.FileType,
		ObjectKey: u.ObjectKey,
		Size:      u.Size,
		CreatedAt: u.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("mongo insert upload: %w", err)
	}
	oid := res.InsertedID.(primitive.ObjectID)
	u.ID = models.ID(oid.Hex())
	return oid.Hex(), nil
}

func (s *MongoStore) ListUploads(ctx context.Context, userID string) ([]models.UploadRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.uploads.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []uploadDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.UploadRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

func (s *MongoStore) GetUpload(ctx context.Context, id string) (*models.UploadRecord, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc uploadDoc
	err = s.uploads.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := doc.record()
	return &rec, nil
}

func (s *MongoStore) DeleteUpload(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	_, err = s.uploads.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}

func (s *MongoStore) CountUploads(ctx context.Context, userID string) (int64, error) {
	return s.uploads.CountDocuments(ctx, bson.M{"user_id": userID})
}

// ── Analysis results ─────────────────────────────────────

// SaveResult replaces the result stored for the upload, if any.
func (s *MongoStore) SaveResult(ctx context.Context, r *models.AnalysisResult) error {
	_, err := s.results.ReplaceOne(ctx,
		bson.M{"id_userupload": r.UploadID.String()}, r,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo save result: %w", err)
	}
	return nil
}

func (s *MongoStore) ListResults(ctx context.Context, userID string) ([]models.AnalysisResult, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.results.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.AnalysisResult{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) DeleteResult(ctx context.Context, uploadID string) error {
	_, err := s.results.DeleteOne(ctx, bson.M{"id_userupload": uploadID})
	return err
}

func (s *MongoStore) CountResults(ctx context.Context, userID string) (int64, error) {
	return s.results.CountDocuments(ctx, bson.M{"user_id": userID})
}
