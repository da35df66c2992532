package model

import "time"

// SessionEvent: одна запись истории переходов сессии (GORM).
type SessionEvent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	SessionID   string    `gorm:"type:uuid;not null;index"`
	Fingerprint string    `gorm:"size:64;not null;index"`
	Credential  string    `gorm:"size:32;not null"` // masked
	TokenType   string    `gorm:"size:16;not null"`
	ChannelID   string    `gorm:"size:32;not null"`
	GuildID     string    `gorm:"size:32"`
	FromState   string    `gorm:"column:from_state;size:20"`
	ToState     string    `gorm:"column:to_state;size:20;not null"`
	Attempt     int       `gorm:"not null;default:0"`
	Reason      string    `gorm:"type:text"`
	OccurredAt  time.Time `gorm:"column:occurred_at;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (SessionEvent) TableName() string { return "session_events" }
