package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoDatabase   = "copypad"
	mongoCollection = "documents"
)

// Mongo stores one bson document per path, keyed by _id.
type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoDoc struct {
	Path      string    `bson:"_id"`
	Text      string    `bson:"text"`
	File      []byte    `bson:"file,omitempty"`
	FileName  *string   `bson:"file_name,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// OpenMongo connects to uri. A positive expiry installs a TTL index on
// updated_at so the server expires idle documents on its own.
func OpenMongo(ctx context.Context, uri string, expiry time.Duration) (*Mongo, error) {
	slog.Info("Opening database", "driver", "mongo")
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	m := &Mongo{client: client, collection: client.Database(mongoDatabase).Collection(mongoCollection)}
	if expiry > 0 {
		if _, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(expiry / time.Second)),
		}); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("failed to create TTL index: %w", err)
		}
	}
	return m, nil
}

func (m *Mongo) Load(ctx context.Context, path string) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return Document{}, err
	}
	var raw mongoDoc
	if err := m.collection.FindOne(ctx, bson.M{"_id": path}).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Document{Path: path}, nil
		}
		return Document{}, fmt.Errorf("failed to find document: %w", err)
	}
	doc := Document{Path: path, Text: raw.Text, UpdatedAt: raw.UpdatedAt}
	if raw.FileName != nil {
		data := raw.File
		if data == nil {
			data = []byte{}
		}
		doc.Attachment = &Attachment{Name: *raw.FileName, Data: data}
	}
	return doc, nil
}

func (m *Mongo) SaveText(ctx context.Context, path, text string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{"text": text, "updated_at": time.Now()}}
	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": path}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save text: %w", err)
	}
	return nil
}

func (m *Mongo) SaveAttachment(ctx context.Context, path string, attachment *Attachment) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	var update bson.M
	if attachment == nil {
		update = bson.M{
			"$set":   bson.M{"updated_at": time.Now()},
			"$unset": bson.M{"file": "", "file_name": ""},
		}
	} else {
		data := attachment.Data
		if data == nil {
			data = []byte{}
		}
		update = bson.M{"$set": bson.M{
			"file":       data,
			"file_name":  attachment.Name,
			"updated_at": time.Now(),
		}}
	}
	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": path}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to save attachment: %w", err)
	}
	return nil
}

func (m *Mongo) Expire(ctx context.Context, before time.Time) (int64, error) {
	res, err := m.collection.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to expire documents: %w", err)
	}
	return res.DeletedCount, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
