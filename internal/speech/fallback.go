package speech

import (
	"math/rand"
	"sync"
	"time"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

// Fallback interval bounds. Randomized so synthetic segments do not arrive in
// lockstep across channels.
const (
	fallbackMinInterval = 15 * time.Second
	fallbackMaxInterval = 35 * time.Second
)

// FallbackTranscriber produces synthetic, clearly-labeled final segments when
// no provider connection is available, so persistence and status handling are
// never starved by a transcription outage. Results carry Provenance
// "fallback" and speaker "fallback" so they can be filtered from analytics.
type FallbackTranscriber struct {
	participant string

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	results   chan Result
	closeOnce sync.Once

	// interval bounds, overridable in tests
	minInterval time.Duration
	maxInterval time.Duration
}

// NewFallbackTranscriber creates a stopped fallback source for one
// participant channel.
func NewFallbackTranscriber(participant string) *FallbackTranscriber {
	return &FallbackTranscriber{
		participant: participant,
		results:     make(chan Result, 8),
		minInterval: fallbackMinInterval,
		maxInterval: fallbackMaxInterval,
	}
}

// Start begins emitting synthetic segments. Starting while already active is
// a no-op.
func (f *FallbackTranscriber) Start(meetingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return
	}
	f.running = true
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.run(meetingID, f.stop, f.done)
	logging.Info(logging.CategorySpeech, "fallback transcriber started meetingID=%s participant=%s", meetingID, f.participant)
}

// Stop halts emission. Stopping while not active is a no-op.
func (f *FallbackTranscriber) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stop)
	done := f.done
	f.mu.Unlock()
	<-done
}

// Running reports whether the fallback source is active.
func (f *FallbackTranscriber) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Send accepts and discards frames so a FallbackTranscriber can stand in for
// a provider stream on an existing channel.
func (f *FallbackTranscriber) Send(frame []int16) error {
	return nil
}

// Results returns the synthetic result channel.
func (f *FallbackTranscriber) Results() <-chan Result {
	return f.results
}

// Err always returns nil; the fallback path has no failure mode.
func (f *FallbackTranscriber) Err() error {
	return nil
}

// Close stops emission and closes the results channel.
func (f *FallbackTranscriber) Close() error {
	f.Stop()
	f.closeOnce.Do(func() { close(f.results) })
	return nil
}

func (f *FallbackTranscriber) run(meetingID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		interval := f.minInterval
		if f.maxInterval > f.minInterval {
			interval += time.Duration(rand.Int63n(int64(f.maxInterval - f.minInterval)))
		}
		timer := time.NewTimer(interval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		now := time.Now()
		result := Result{
			Text:       "[transcription temporarily unavailable, audio captured at " + now.Format("15:04:05") + "]",
			IsFinal:    true,
			Speaker:    "fallback",
			Language:   "",
			Provenance: ProvenanceFallback,
			Timestamp:  now,
		}
		select {
		case f.results <- result:
		case <-stop:
			return
		}
	}
}
