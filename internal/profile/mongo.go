package profile

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoDirectory reads profiles from the platform's "users" collection.
type MongoDirectory struct {
	col *mongo.Collection
}

// NewMongoDirectory binds the directory to the given database.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{col: db.Collection("users")}
}

type profileDoc struct {
	UID      string `bson:"_id"`
	Name     string `bson:"name"`
	Email    string `bson:"email"`
	PhotoURL string `bson:"photo_url,omitempty"`
}

// Lookup implements Directory.
func (d *MongoDirectory) Lookup(ctx context.Context, uid string) (*Profile, error) {
	var doc profileDoc
	err := d.col.FindOne(ctx, bson.M{"_id": uid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Profile{
		UID:      doc.UID,
		Name:     doc.Name,
		Email:    doc.Email,
		PhotoURL: doc.PhotoURL,
	}, nil
}
