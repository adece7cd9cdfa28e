// Package store persists transcript segments and the canonical per-meeting
// transcript, including the periodic auto-save snapshot protocol.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
	"github.com/KetanKumavat/Ascend-sub000/internal/meeting"
)

// dedupBucket is the approximate-time window within which a provider result
// and a fallback result for the same participant are treated as the same
// utterance. Provider results win inside a bucket.
const dedupBucket = 10 * time.Second

// Segment is one finalized utterance handed to the store by the agent.
type Segment struct {
	MeetingID   string
	Participant string
	Text        string
	Language    string
	Provenance  string
	Timestamp   time.Time
}

// Store wraps the database. Transcript writes use upsert-by-meeting-identifier
// so concurrent auto-save and final-flush writers cannot lose updates or
// duplicate rows.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&MeetingSessionRecord{}, &SegmentRecord{}, &TranscriptRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// UpdateMeetingStatus implements meeting.StatusStore.
func (s *Store) UpdateMeetingStatus(meetingID string, status meeting.Status, startedAt time.Time) error {
	record := MeetingSessionRecord{
		MeetingID: meetingID,
		Status:    string(status),
	}
	if !startedAt.IsZero() {
		record.StartedAt = &startedAt
	}

	res := s.db.Model(&MeetingSessionRecord{}).
		Where("meeting_id = ?", meetingID).
		Updates(map[string]interface{}{"status": record.Status, "started_at": record.StartedAt})
	if res.Error != nil {
		return fmt.Errorf("update meeting status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Meeting scheduled externally before this subsystem saw it; create
		// the row so status is not lost.
		if err := s.db.Create(&record).Error; err != nil {
			return fmt.Errorf("create meeting session: %w", err)
		}
	}
	return nil
}

// AppendSegment writes one final segment. Within one dedup bucket per
// (meeting, participant), provider segments replace fallback segments and a
// fallback segment arriving after a provider segment is discarded, so
// provider flapping cannot double-write an utterance.
func (s *Store) AppendSegment(seg Segment) error {
	bucket := seg.Timestamp.Truncate(dedupBucket).Unix()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing []SegmentRecord
		err := tx.Where("meeting_id = ? AND participant = ? AND bucket = ?", seg.MeetingID, seg.Participant, bucket).
			Find(&existing).Error
		if err != nil {
			return fmt.Errorf("query segment bucket: %w", err)
		}

		if seg.Provenance == "fallback" {
			for _, row := range existing {
				if row.Provenance != "fallback" {
					// A live result already covers this window.
					return nil
				}
			}
		} else {
			// Live provider result wins over any fallback rows in the window.
			if len(existing) > 0 {
				if err := tx.Where("meeting_id = ? AND participant = ? AND bucket = ? AND provenance = ?",
					seg.MeetingID, seg.Participant, bucket, "fallback").
					Delete(&SegmentRecord{}).Error; err != nil {
					return fmt.Errorf("remove superseded fallback segments: %w", err)
				}
			}
		}

		record := SegmentRecord{
			ID:          uuid.NewString(),
			MeetingID:   seg.MeetingID,
			Participant: seg.Participant,
			Text:        seg.Text,
			Language:    seg.Language,
			Provenance:  seg.Provenance,
			Bucket:      bucket,
			Timestamp:   seg.Timestamp,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("append segment: %w", err)
		}
		return nil
	})
}

// SegmentsByMeeting returns a meeting's final segments ordered by timestamp,
// not arrival order.
func (s *Store) SegmentsByMeeting(meetingID string) ([]SegmentRecord, error) {
	var rows []SegmentRecord
	if err := s.db.Where("meeting_id = ?", meetingID).Order("timestamp asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	return rows, nil
}

// UpsertTranscript writes the per-meeting transcript row. A resend with the
// same chunk ID is a no-op, making auto-save retries idempotent.
func (s *Store) UpsertTranscript(t TranscriptRecord) error {
	if t.LastChunkID != "" {
		var count int64
		err := s.db.Model(&TranscriptRecord{}).
			Where("meeting_id = ? AND last_chunk_id = ?", t.MeetingID, t.LastChunkID).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check chunk id: %w", err)
		}
		if count > 0 {
			logging.Debug(logging.CategoryStore, "skipping duplicate auto-save chunk meetingID=%s chunkID=%s", t.MeetingID, t.LastChunkID)
			return nil
		}
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "meeting_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content", "summary", "highlights", "action_items", "speakers",
			"duration_secs", "is_partial", "processing", "last_chunk_id", "updated_at",
		}),
	}).Create(&t).Error
	if err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	return nil
}

// FinalizeHighlights stores the generated summary and clears the processing
// flag, completing the transcript.
func (s *Store) FinalizeHighlights(meetingID, summary, highlights, actionItems string) error {
	res := s.db.Model(&TranscriptRecord{}).
		Where("meeting_id = ?", meetingID).
		Updates(map[string]interface{}{
			"summary":      summary,
			"highlights":   highlights,
			"action_items": actionItems,
			"processing":   false,
		})
	if res.Error != nil {
		return fmt.Errorf("finalize highlights: %w", res.Error)
	}
	return nil
}

// GetTranscript returns the transcript row for a meeting.
func (s *Store) GetTranscript(meetingID string) (*TranscriptRecord, error) {
	var t TranscriptRecord
	if err := s.db.Where("meeting_id = ?", meetingID).First(&t).Error; err != nil {
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	return &t, nil
}

// GetMeetingSession returns the lifecycle row for a meeting.
func (s *Store) GetMeetingSession(meetingID string) (*MeetingSessionRecord, error) {
	var rec MeetingSessionRecord
	if err := s.db.Where("meeting_id = ?", meetingID).First(&rec).Error; err != nil {
		return nil, fmt.Errorf("get meeting session: %w", err)
	}
	return &rec, nil
}
