// Package speech maintains streaming connections to a speech-recognition
// provider and provides a synthetic fallback source for when no provider is
// reachable.
package speech

import "time"

// Provenance values for recognition results.
const (
	ProvenanceProvider = "provider"
	ProvenanceFallback = "fallback"
)

// Result is a single recognition event. Interim results (IsFinal=false) may
// be emitted multiple times for the same utterance and replace the prior
// interim value; a final result closes the utterance permanently.
type Result struct {
	Text       string
	IsFinal    bool
	Speaker    string
	Language   string
	Confidence float64
	Provenance string
	Timestamp  time.Time
}

// Stream is a source of recognition results fed by PCM frames. Both the
// provider-backed connector and the fallback transcriber implement it.
type Stream interface {
	// Send feeds one PCM frame (mono 16-bit samples) into the stream.
	Send(frame []int16) error

	// Results returns the channel recognition events arrive on. The channel
	// is closed when the stream ends; Err reports why.
	Results() <-chan Result

	// Err returns the terminal error after Results is closed, or nil for a
	// clean close.
	Err() error

	// Close shuts the stream down. Safe to call more than once.
	Close() error
}

// StreamParams configures a provider stream for one participant channel.
type StreamParams struct {
	MeetingID   string
	Participant string
	Language    string
	SampleRate  int
}
