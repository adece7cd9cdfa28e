// Package meeting drives the meeting lifecycle state machine from room and
// agent events.
package meeting

import (
	"fmt"
	"sync"
	"time"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

// Status is the lifecycle state of a meeting session.
type Status string

const (
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// transitions lists the legal moves of the lifecycle state machine.
// CANCELLED is reachable only from SCHEDULED; it is an external transition.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusCancelled, StatusCompleted},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// StatusStore persists meeting status updates.
type StatusStore interface {
	UpdateMeetingStatus(meetingID string, status Status, startedAt time.Time) error
}

// StatusCoordinator drives a meeting's lifecycle state machine. Transitions
// are idempotent so duplicate events from retried network calls cannot
// corrupt state.
type StatusCoordinator struct {
	mu        sync.Mutex
	meetingID string
	status    Status
	startedAt time.Time
	store     StatusStore
}

// NewStatusCoordinator creates a coordinator for one meeting, starting in
// SCHEDULED.
func NewStatusCoordinator(meetingID string, store StatusStore) *StatusCoordinator {
	return &StatusCoordinator{
		meetingID: meetingID,
		status:    StatusScheduled,
		store:     store,
	}
}

// Status returns the current lifecycle state.
func (c *StatusCoordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// StartedAt returns when the meeting entered IN_PROGRESS, or zero.
func (c *StatusCoordinator) StartedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt
}

// OnRoomConnected moves the meeting to IN_PROGRESS. Repeated connect events
// are no-ops.
func (c *StatusCoordinator) OnRoomConnected() bool {
	return c.transition(StatusInProgress)
}

// OnAgentStopped moves the meeting to COMPLETED. Also used for terminal
// disconnects (room deleted, server shutdown).
func (c *StatusCoordinator) OnAgentStopped() bool {
	return c.transition(StatusCompleted)
}

// transition applies a state change if legal. Returns true when the state
// actually changed. Setting the current state again is a no-op, not an error.
func (c *StatusCoordinator) transition(next Status) bool {
	c.mu.Lock()
	if c.status == next {
		c.mu.Unlock()
		return false
	}
	if !legal(c.status, next) {
		cur := c.status
		c.mu.Unlock()
		logging.Warning(logging.CategoryMeeting, "ignoring illegal transition meetingID=%s from=%s to=%s", c.meetingID, cur, next)
		return false
	}
	c.status = next
	if next == StatusInProgress {
		c.startedAt = time.Now()
	}
	startedAt := c.startedAt
	c.mu.Unlock()

	logging.Info(logging.CategoryMeeting, "meeting status changed meetingID=%s status=%s", c.meetingID, next)
	if c.store != nil {
		if err := c.store.UpdateMeetingStatus(c.meetingID, next, startedAt); err != nil {
			logging.Error(logging.CategoryMeeting, "failed to persist meeting status meetingID=%s status=%s: %v", c.meetingID, next, err)
		}
	}
	return true
}

func legal(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate reports whether s is a known status value.
func Validate(s Status) error {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return nil
	}
	return fmt.Errorf("unknown meeting status %q", s)
}
