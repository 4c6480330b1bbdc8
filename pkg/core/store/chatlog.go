package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// chatLogCollection holds one document per assistant exchange.
const chatLogCollection = "chat_logs"

// ChatLog records a single assistant interaction.
type ChatLog struct {
	SessionID string    `bson:"session_id"`
	Model     string    `bson:"model"`
	Prompt    string    `bson:"prompt"`
	Reply     string    `bson:"reply"`
	LatencyMS int64     `bson:"latency_ms"`
	CreatedAt time.Time `bson:"created_at"`
}

// ChatLogRepo persists assistant interactions to the document store.
type ChatLogRepo struct {
	coll *mongo.Collection
}

// NewChatLogRepo creates a repo over the given database.
func NewChatLogRepo(db *mongo.Database) *ChatLogRepo {
	return &ChatLogRepo{coll: db.Collection(chatLogCollection)}
}

// Insert appends one interaction log.
func (r *ChatLogRepo) Insert(ctx context.Context, log ChatLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if _, err := r.coll.InsertOne(ctx, log); err != nil {
		return fmt.Errorf("insert chat log: %w", err)
	}
	return nil
}
