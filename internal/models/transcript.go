package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TranscriptEntry is one final translation result kept for the call's
// transcript view. Entries expire through the TTL index on expires_at.
type TranscriptEntry struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RoomID      string             `bson:"room_id" json:"room_id"`
	UserID      string             `bson:"user_id" json:"user_id"`
	Transcript  string             `bson:"transcript" json:"transcript"`
	Translation string             `bson:"translation,omitempty" json:"translation,omitempty"`
	Language    string             `bson:"language,omitempty" json:"language,omitempty"`
	Speaker     string             `bson:"speaker,omitempty" json:"speaker,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time          `bson:"expires_at" json:"expires_at"`
}
