package memory

import (
	"time"
)

// Record is one completed exchange persisted for later retrieval.
// Records are written exactly once per finished turn and never mutated.
type Record struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	UserUtterance      string    `json:"user_utterance"`
	AssistantUtterance string    `json:"assistant_utterance"`
	CharacterID        string    `json:"character_id" gorm:"index"`
	CreatedAt          time.Time `json:"created_at" gorm:"index"`
}
