package agent

import (
	"sync"

	"github.com/KetanKumavat/Ascend-sub000/internal/audio"
	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
	"github.com/KetanKumavat/Ascend-sub000/internal/speech"
)

// ResultSink receives recognition results from a channel. Implemented by the
// Agent.
type ResultSink interface {
	HandleResult(participant string, res speech.Result)
}

// Channel ties one room participant to an active frame bridge and speech
// stream. Channels are owned exclusively by one agent and never shared
// across meetings. Each channel is an independent concurrent unit: audio
// capture, streaming I/O and result handling never serialize on another
// participant's channel.
type Channel struct {
	meetingID   string
	participant string

	bridge   *audio.FrameBridge
	fallback *speech.FallbackTranscriber
	sink     ResultSink

	mu     sync.Mutex
	source speech.Stream
	closed bool

	fellBack sync.Once
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewChannel creates a channel. source is the provider stream, or nil to run
// on the fallback transcriber from the start. bridge may be nil when the
// participant has no audio track yet.
func NewChannel(meetingID, participant string, source speech.Stream, bridge *audio.FrameBridge, sink ResultSink) *Channel {
	ch := &Channel{
		meetingID:   meetingID,
		participant: participant,
		bridge:      bridge,
		fallback:    speech.NewFallbackTranscriber(participant),
		sink:        sink,
		source:      source,
	}
	if source == nil {
		ch.failOver()
	}
	return ch
}

// Start begins pumping frames and consuming results.
func (c *Channel) Start() {
	if c.bridge != nil {
		c.wg.Add(1)
		go c.pumpFrames()
	}

	c.mu.Lock()
	source := c.source
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consumeResults(source)
}

// Stop tears the channel down. Idempotent.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		source := c.source
		c.mu.Unlock()

		if c.bridge != nil {
			c.bridge.Detach()
		}
		if source != nil {
			source.Close()
		}
		c.fallback.Close()
		c.wg.Wait()
		logging.Info(logging.CategoryAgent, "channel stopped meetingID=%s participant=%s", c.meetingID, c.participant)
	})
}

// UsingFallback reports whether the channel has switched to the fallback
// source.
func (c *Channel) UsingFallback() bool {
	return c.fallback.Running()
}

// pumpFrames forwards bridge frames into the current source. After a
// failover the fallback source discards them.
func (c *Channel) pumpFrames() {
	defer c.wg.Done()

	for frame := range c.bridge.Frames() {
		c.mu.Lock()
		source := c.source
		closed := c.closed
		c.mu.Unlock()
		if closed || source == nil {
			return
		}
		if err := source.Send(frame); err != nil {
			// The results loop observes the stream failure and fails over;
			// frames until then are lost, which the drop policy permits.
			logging.Debug(logging.CategoryAgent, "frame send failed participant=%s: %v", c.participant, err)
		}
	}
}

// consumeResults drains a stream's results. When a provider stream dies with
// an error the channel switches to the fallback transcriber rather than
// silently halting.
func (c *Channel) consumeResults(source speech.Stream) {
	defer c.wg.Done()

	if source == nil {
		return
	}
	for res := range source.Results() {
		c.sink.HandleResult(c.participant, res)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if err := source.Err(); err != nil {
		logging.Warning(logging.CategoryAgent, "stream failed, switching to fallback meetingID=%s participant=%s: %v", c.meetingID, c.participant, err)
		c.failOver()
		c.wg.Add(1)
		go c.consumeResults(c.fallback)
	}
}

// failOver switches the channel's source to the fallback transcriber.
// Starting it more than once per channel is a no-op.
func (c *Channel) failOver() {
	c.fellBack.Do(func() {
		c.fallback.Start(c.meetingID)
		c.mu.Lock()
		c.source = c.fallback
		c.mu.Unlock()
	})
}
