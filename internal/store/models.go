package store

import (
	"time"
)

// MeetingSessionRecord is the persisted lifecycle row for one meeting.
// Created when the meeting is scheduled; this subsystem only updates status.
type MeetingSessionRecord struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	MeetingID        string     `gorm:"uniqueIndex;not null" json:"meeting_id"`
	Status           string     `gorm:"type:varchar(20);not null;default:'SCHEDULED'" json:"status"`
	StartedAt        *time.Time `json:"started_at"`
	DurationEstimate int        `json:"duration_estimate"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for MeetingSessionRecord.
func (MeetingSessionRecord) TableName() string {
	return "meeting_sessions"
}

// SegmentRecord is one persisted final utterance. Final rows are immutable
// once written; interim results never reach the database.
type SegmentRecord struct {
	ID          string    `gorm:"type:uuid;primary_key" json:"id"`
	MeetingID   string    `gorm:"index;not null" json:"meeting_id"`
	Participant string    `gorm:"not null" json:"participant"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	Language    string    `json:"language"`
	Provenance  string    `gorm:"type:varchar(20)" json:"provenance"`
	Bucket      int64     `gorm:"index:idx_segment_bucket" json:"-"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for SegmentRecord.
func (SegmentRecord) TableName() string {
	return "transcript_segments"
}

// TranscriptRecord is the canonical per-meeting aggregate. Exactly one row
// per meeting, enforced by the unique index and upsert-by-meeting-identifier.
type TranscriptRecord struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	MeetingID    string    `gorm:"uniqueIndex;not null" json:"meeting_id"`
	Content      string    `gorm:"type:text" json:"content"`
	Summary      string    `gorm:"type:text" json:"summary"`
	Highlights   string    `gorm:"type:text" json:"highlights"`
	ActionItems  string    `gorm:"type:text" json:"action_items"`
	Speakers     string    `json:"speakers"`
	DurationSecs float64   `json:"duration_secs"`
	IsPartial    bool      `json:"is_partial"`
	Processing   bool      `json:"processing"`
	LastChunkID  string    `json:"last_chunk_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for TranscriptRecord.
func (TranscriptRecord) TableName() string {
	return "transcripts"
}
