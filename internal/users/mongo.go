package users

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pawpal/conversation-service/internal/apperr"
	"github.com/pawpal/conversation-service/internal/model"
)

const userCollection = "users"

// MongoDirectory reads profiles from the users collection owned by the
// account service. Users are keyed by ObjectID.
type MongoDirectory struct {
	coll *mongo.Collection
}

var _ Directory = (*MongoDirectory)(nil)

// NewMongoDirectory creates a directory over db's users collection.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{coll: db.Collection(userCollection)}
}

type userDocument struct {
	ID             primitive.ObjectID `bson:"_id"`
	Name           string             `bson:"name"`
	ProfilePicture string             `bson:"profilePicture,omitempty"`
	UserType       string             `bson:"userType"`
}

func (d *MongoDirectory) FindUser(ctx context.Context, id string) (*model.PublicProfile, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperr.NotFound("user")
	}

	opts := options.FindOne().SetProjection(bson.M{"name": 1, "profilePicture": 1, "userType": 1})
	var doc userDocument
	err = d.coll.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &model.PublicProfile{
		ID:             doc.ID.Hex(),
		Name:           doc.Name,
		ProfilePicture: doc.ProfilePicture,
		UserType:       model.UserType(doc.UserType),
	}, nil
}

func (d *MongoDirectory) UpdateLocation(ctx context.Context, id string, longitude, latitude float64) error {
	return d.update(ctx, id, bson.M{"location.coordinates": bson.A{longitude, latitude}})
}

func (d *MongoDirectory) SetAvailability(ctx context.Context, id string, available bool, message string) error {
	set := bson.M{"isAvailable": available}
	if message != "" {
		set["availabilityMessage"] = message
	}
	return d.update(ctx, id, set)
}

func (d *MongoDirectory) update(ctx context.Context, id string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return apperr.NotFound("user")
	}
	res, err := d.coll.UpdateByID(ctx, oid, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("user")
	}
	return nil
}
