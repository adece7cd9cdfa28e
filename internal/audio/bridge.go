// Package audio adapts a subscribed room audio track into fixed-size PCM
// frames suitable for streaming to a speech provider.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
)

const (
	// TrackSampleRate is the decode rate of room audio tracks.
	TrackSampleRate = 48000

	// FrameSampleRate is the provider-facing output rate.
	FrameSampleRate = 16000

	// FrameSamples is one 200ms output frame at 16kHz mono.
	FrameSamples = 3200

	// queueCapacity bounds buffered frames (~3.2s of audio). When the
	// downstream consumer cannot keep up, the oldest frame is dropped:
	// losing audio is preferable to unbounded memory growth or a stalled
	// capture loop.
	queueCapacity = 16
)

// FrameBridge converts one participant's opus track into 16kHz mono 16-bit
// PCM frames. Decode, resample and framing run on the bridge worker so the
// track read path never blocks on a slow consumer.
type FrameBridge struct {
	participant string

	decoder      *opus.Decoder
	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer
	resamplerMu  sync.Mutex

	// Preallocated buffers to avoid per-call allocations
	inputBytesBuf    []byte
	outputSamplesBuf []int16

	// Partial output frame accumulated across packets
	pending []int16

	frames  chan []int16
	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	firstRTPLogged bool
}

// NewFrameBridge creates a bridge for one participant's audio track.
func NewFrameBridge(participant string) (*FrameBridge, error) {
	decoder, err := opus.NewDecoder(TrackSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	// Resampler writes to the same buffer we read output from.
	resamplerBuf := &bytes.Buffer{}
	resampler, err := soxr.New(resamplerBuf, float64(TrackSampleRate), float64(FrameSampleRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FrameBridge{
		participant:      participant,
		decoder:          decoder,
		resampler:        resampler,
		resamplerBuf:     resamplerBuf,
		inputBytesBuf:    make([]byte, 0, 1920),
		outputSamplesBuf: make([]int16, 0, FrameSamples),
		pending:          make([]int16, 0, FrameSamples),
		frames:           make(chan []int16, queueCapacity),
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// Attach starts reading RTP packets from the track. Frames become available
// on Frames until Detach is called or the track ends.
func (b *FrameBridge) Attach(track *webrtc.TrackRemote) {
	b.wg.Add(1)
	go b.processTrack(track)
	logging.Info(logging.CategoryAudio, "frame bridge attached participant=%s", b.participant)
}

// Frames returns the output frame channel. Each frame is FrameSamples mono
// 16-bit samples at FrameSampleRate. The channel is closed on Detach.
func (b *FrameBridge) Frames() <-chan []int16 {
	return b.frames
}

// Dropped returns the count of frames discarded because the consumer fell
// behind.
func (b *FrameBridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Detach stops processing and closes the frame channel. Idempotent.
func (b *FrameBridge) Detach() {
	b.cancel()
	b.wg.Wait()
	b.shutdown()
}

// shutdown releases the resampler and closes the frame channel so consumers
// ranging over Frames observe the end of the track. Idempotent.
func (b *FrameBridge) shutdown() {
	b.closeOnce.Do(func() {
		b.resamplerMu.Lock()
		if b.resampler != nil {
			b.resampler.Close()
		}
		b.resamplerMu.Unlock()
		close(b.frames)
	})
}

func (b *FrameBridge) processTrack(track *webrtc.TrackRemote) {
	defer b.wg.Done()
	// A track read error ends the stream for good. Closing the frame channel
	// here lets the owning channel observe track death instead of waiting on
	// frames that will never arrive.
	defer b.shutdown()

	buf := make([]byte, 1500)
	rtpPacket := &rtp.Packet{}
	pcm48k := make([]int16, 960) // 20ms @ 48kHz

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
			n, _, err := track.Read(buf)
			if err != nil {
				if b.ctx.Err() == nil {
					logging.Warning(logging.CategoryAudio, "failed to read RTP packet participant=%s: %v", b.participant, err)
				}
				return
			}

			if !b.firstRTPLogged {
				b.firstRTPLogged = true
				logging.Info(logging.CategoryAudio, "received first RTP packet participant=%s size=%d", b.participant, n)
			}

			if err := rtpPacket.Unmarshal(buf[:n]); err != nil {
				logging.Warning(logging.CategoryAudio, "failed to unmarshal RTP packet participant=%s: %v", b.participant, err)
				continue
			}

			opusPayload := rtpPacket.Payload
			if len(opusPayload) == 0 {
				continue // DTX packet
			}

			sampleCount, err := b.decoder.Decode(opusPayload, pcm48k)
			if err != nil {
				if err.Error() == "opus: no data supplied" {
					continue // DTX packet
				}
				logging.Warning(logging.CategoryAudio, "failed to decode opus participant=%s: %v", b.participant, err)
				continue
			}
			if sampleCount == 0 {
				continue
			}

			b.push48k(pcm48k[:sampleCount])
		}
	}
}

// push48k resamples decoded 48kHz samples and emits complete output frames.
func (b *FrameBridge) push48k(samples48k []int16) {
	resampled, err := b.resample(samples48k)
	if err != nil {
		logging.Warning(logging.CategoryAudio, "failed to resample participant=%s: %v", b.participant, err)
		return
	}
	if len(resampled) == 0 {
		// Resampler may be buffering
		return
	}
	b.enqueueSamples(resampled)
}

// enqueueSamples accumulates output-rate samples and emits complete frames.
func (b *FrameBridge) enqueueSamples(samples []int16) {
	b.pending = append(b.pending, samples...)
	for len(b.pending) >= FrameSamples {
		frame := make([]int16, FrameSamples)
		copy(frame, b.pending[:FrameSamples])
		b.pending = b.pending[FrameSamples:]
		b.deliver(frame)
	}
}

// deliver enqueues a frame, dropping the oldest buffered frame when the queue
// is full.
func (b *FrameBridge) deliver(frame []int16) {
	for {
		select {
		case b.frames <- frame:
			return
		default:
		}
		select {
		case <-b.frames:
			b.dropped.Add(1)
		default:
		}
	}
}

// resample converts 48kHz samples to 16kHz.
func (b *FrameBridge) resample(samples48k []int16) ([]int16, error) {
	if len(samples48k) == 0 {
		return nil, nil
	}

	b.resamplerMu.Lock()
	defer b.resamplerMu.Unlock()

	inputSize := len(samples48k) * 2
	if cap(b.inputBytesBuf) < inputSize {
		b.inputBytesBuf = make([]byte, inputSize)
	}
	inputBytes := b.inputBytesBuf[:inputSize]
	for i, sample := range samples48k {
		binary.LittleEndian.PutUint16(inputBytes[i*2:], uint16(sample))
	}

	b.resamplerBuf.Reset()
	if _, err := b.resampler.Write(inputBytes); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	outputBytes := b.resamplerBuf.Bytes()
	if len(outputBytes) == 0 {
		return nil, nil
	}

	outputSize := len(outputBytes) / 2
	if cap(b.outputSamplesBuf) < outputSize {
		b.outputSamplesBuf = make([]int16, outputSize)
	}
	outputSamples := b.outputSamplesBuf[:outputSize]
	for i := 0; i < outputSize; i++ {
		outputSamples[i] = int16(binary.LittleEndian.Uint16(outputBytes[i*2:]))
	}

	// Return a copy since the buffer is reused
	result := make([]int16, outputSize)
	copy(result, outputSamples)
	return result, nil
}
