package mongo

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/pawpal/conversation-service/internal/store"
	"github.com/pawpal/conversation-service/internal/store/storetest"
)

// MONGO_TEST_URL must point at a replica set; transactions are required.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("MONGO_TEST_URL")
	if url == "" {
		t.Skip("MONGO_TEST_URL not set")
	}
	return url
}

func TestMessageStore(t *testing.T) {
	url := testDatabaseURL(t)

	storetest.Run(t, func(t *testing.T) store.MessageStore {
		req := require.New(t)
		ctx := context.Background()
		name := "pawpal_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

		db, err := NewDB(ctx, url, name)
		req.NoError(err)
		t.Cleanup(func() {
			_ = db.Drop(context.Background())
			_ = db.Client().Disconnect(context.Background())
		})

		s := NewMessageStore(db)
		req.NoError(s.EnsureIndexes(ctx))
		return s
	})
}

func TestConversationsPipeline_Shape(t *testing.T) {
	req := require.New(t)

	pipeline := conversationsPipeline("alice")
	req.Len(pipeline, 5)

	stages := make([]string, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, stage[0].Key)
	}
	req.Equal([]string{"$match", "$sort", "$group", "$addFields", "$sort"}, stages)

	match, ok := pipeline[0][0].Value.(bson.M)
	req.True(ok)
	req.Len(match["$or"], 2)
}
