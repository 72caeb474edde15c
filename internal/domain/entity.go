package domain

import (
	"time"
)

// CommandRecord is one write-ahead log entry: a sequenced engine command.
type CommandRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement:false" json:"seq"`
	Ts        uint64    `gorm:"index" json:"ts"` // block time the command executed at
	Type      string    `json:"type"`
	Payload   string    `json:"payload"` // JSON-encoded command body
	CreatedAt time.Time `json:"created_at"`
}

// AppConfig represents engine metadata (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
