package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

// AutoSaver accumulates a meeting's final segments in memory and periodically
// writes a partial transcript snapshot. Failed writes are retried on a fixed
// delay; segments stay buffered until a write succeeds or the final flush
// carries the full accumulated text forward.
type AutoSaver struct {
	store      *Store
	meetingID  string
	interval   time.Duration
	retryDelay time.Duration

	mu          sync.Mutex
	accumulated []Segment
	unsaved     []Segment // segment rows whose append failed, retried each tick
	speakers    map[string]struct{}
	startedAt   time.Time
	saved       int // accumulated count covered by the last successful write

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewAutoSaver creates an auto-saver for one meeting.
func NewAutoSaver(store *Store, meetingID string, interval, retryDelay time.Duration) *AutoSaver {
	return &AutoSaver{
		store:      store,
		meetingID:  meetingID,
		interval:   interval,
		retryDelay: retryDelay,
		speakers:   make(map[string]struct{}),
		startedAt:  time.Now(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Append records one final segment: the segment row is written immediately
// and the text joins the snapshot accumulator. A failed row write keeps the
// segment buffered for retry; it is never lost from the accumulated text.
func (a *AutoSaver) Append(seg Segment) {
	a.mu.Lock()
	a.accumulated = append(a.accumulated, seg)
	a.speakers[seg.Participant] = struct{}{}
	a.mu.Unlock()

	if err := a.store.AppendSegment(seg); err != nil {
		logging.Warning(logging.CategoryStore, "segment append failed, buffering for retry meetingID=%s: %v", a.meetingID, err)
		a.mu.Lock()
		a.unsaved = append(a.unsaved, seg)
		a.mu.Unlock()
	}
}

// Start runs the auto-save loop until Stop.
func (a *AutoSaver) Start() {
	go a.run()
}

// Stop halts the loop. It does not flush; callers flush explicitly so the
// final write is ordered after channel teardown.
func (a *AutoSaver) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

func (a *AutoSaver) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.retryUnsaved()
			if err := a.Snapshot(); err != nil {
				logging.Warning(logging.CategoryStore, "auto-save failed, retrying in %v meetingID=%s: %v", a.retryDelay, a.meetingID, err)
				a.retryLoop()
			}
		}
	}
}

// retryLoop re-attempts a failed snapshot on the fixed retry delay until it
// succeeds or the saver stops.
func (a *AutoSaver) retryLoop() {
	for {
		select {
		case <-a.stop:
			return
		case <-time.After(a.retryDelay):
		}
		if err := a.Snapshot(); err != nil {
			logging.Warning(logging.CategoryStore, "auto-save retry failed meetingID=%s: %v", a.meetingID, err)
			continue
		}
		return
	}
}

// retryUnsaved re-attempts segment rows whose append previously failed.
func (a *AutoSaver) retryUnsaved() {
	a.mu.Lock()
	pending := a.unsaved
	a.unsaved = nil
	a.mu.Unlock()

	for i, seg := range pending {
		if err := a.store.AppendSegment(seg); err != nil {
			a.mu.Lock()
			a.unsaved = append(a.unsaved, pending[i:]...)
			a.mu.Unlock()
			return
		}
	}
}

// Snapshot writes a partial transcript of everything accumulated so far.
// With nothing new since the last successful write it performs no write at
// all. Each write carries a fresh chunk ID so a retried send is idempotent.
func (a *AutoSaver) Snapshot() error {
	a.mu.Lock()
	covered := len(a.accumulated)
	if covered == a.saved {
		a.mu.Unlock()
		return nil
	}
	record := a.buildRecordLocked(true)
	record.LastChunkID = uuid.NewString()
	a.mu.Unlock()

	if err := a.store.UpsertTranscript(record); err != nil {
		return fmt.Errorf("snapshot transcript: %w", err)
	}

	a.markSaved(covered)
	logging.Debug(logging.CategoryStore, "auto-saved partial transcript meetingID=%s chunkID=%s", a.meetingID, record.LastChunkID)
	return nil
}

// markSaved advances the watermark of segments covered by a successful
// write. A segment appended while the write was in flight stays above the
// watermark and goes out with the next one.
func (a *AutoSaver) markSaved(covered int) {
	a.mu.Lock()
	if covered > a.saved {
		a.saved = covered
	}
	a.mu.Unlock()
}

// Flush writes the complete transcript with isPartial=false and returns the
// written record. Processing stays true until highlights are finalized.
func (a *AutoSaver) Flush() (TranscriptRecord, error) {
	a.retryUnsaved()

	a.mu.Lock()
	covered := len(a.accumulated)
	record := a.buildRecordLocked(false)
	record.LastChunkID = uuid.NewString()
	a.mu.Unlock()

	if err := a.store.UpsertTranscript(record); err != nil {
		return record, fmt.Errorf("flush transcript: %w", err)
	}

	a.markSaved(covered)
	return record, nil
}

// buildRecordLocked renders the accumulated segments. Callers hold a.mu.
func (a *AutoSaver) buildRecordLocked(partial bool) TranscriptRecord {
	segments := make([]Segment, len(a.accumulated))
	copy(segments, a.accumulated)
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Timestamp.Before(segments[j].Timestamp)
	})

	var b strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%s] %s: %s\n", seg.Timestamp.Format("15:04:05"), seg.Participant, seg.Text)
	}

	speakers := make([]string, 0, len(a.speakers))
	for s := range a.speakers {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)

	return TranscriptRecord{
		MeetingID:    a.meetingID,
		Content:      b.String(),
		Speakers:     strings.Join(speakers, ","),
		DurationSecs: time.Since(a.startedAt).Seconds(),
		IsPartial:    partial,
		Processing:   true,
	}
}
