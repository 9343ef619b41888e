package mongo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/pawpal/conversation-service/internal/model"
	"github.com/pawpal/conversation-service/internal/store"
)

const messageCollection = "messages"

// MessageStore persists messages in the messages collection.
// MarkConversationRead runs in a multi-document transaction, so the
// deployment must be a replica set or sharded cluster.
type MessageStore struct {
	db   *mongo.Database
	coll *mongo.Collection
}

var _ store.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates a MessageStore on db.
func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{db: db, coll: db.Collection(messageCollection)}
}

// EnsureIndexes creates the indexes backing every query of the store.
func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "isRead", Value: 1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

func (s *MessageStore) Append(ctx context.Context, msg store.NewMessage) (*model.Message, error) {
	doc := &model.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		IsRead:         false,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.CreatedAt,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return doc, nil
}

func (s *MessageStore) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	limit, offset = store.NormalizePage(limit, offset)

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.M{"conversationId": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := []model.Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"receiverId": userID, "isRead": false})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	session, err := s.db.Client().StartSession()
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	filter := bson.M{
		"conversationId": conversationID,
		"receiverId":     userID,
		"isRead":         false,
	}
	update := bson.M{"$set": bson.M{
		"isRead":    true,
		"readAt":    at,
		"updatedAt": at,
	}}

	result, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.coll.UpdateMany(sc, filter, update)
		if err != nil {
			return nil, err
		}
		return res.ModifiedCount, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return result.(int64), nil
}

// conversationRow is one group of the Conversations pipeline.
type conversationRow struct {
	ConversationID string        `bson:"_id"`
	LastMessage    model.Message `bson:"lastMessage"`
	UnreadCount    int64         `bson:"unreadCount"`
	OtherUserID    string        `bson:"otherUserId"`
}

func (s *MessageStore) Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	cursor, err := s.coll.Aggregate(ctx, conversationsPipeline(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []conversationRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}

	out := make([]model.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ConversationSummary{
			ConversationID: r.ConversationID,
			OtherUserID:    r.OtherUserID,
			LastMessage:    r.LastMessage,
			UnreadCount:    r.UnreadCount,
		})
	}
	return out, nil
}

// conversationsPipeline groups a user's messages by conversation with the
// latest message and the unread count addressed to the user.
func conversationsPipeline(userID string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"senderId": userID},
			bson.M{"receiverId": userID},
		}}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$conversationId",
			"lastMessage": bson.M{"$first": "$$ROOT"},
			"unreadCount": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$receiverId", userID}},
					bson.M{"$eq": bson.A{"$isRead", false}},
				}},
				1,
				0,
			}}},
		}}},
		{{Key: "$addFields", Value: bson.M{"otherUserId": bson.M{"$cond": bson.M{
			"if":   bson.M{"$eq": bson.A{"$lastMessage.senderId", userID}},
			"then": "$lastMessage.receiverId",
			"else": "$lastMessage.senderId",
		}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "lastMessage.createdAt", Value: -1}, {Key: "lastMessage._id", Value: -1}}}},
	}
}

func (s *MessageStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}
