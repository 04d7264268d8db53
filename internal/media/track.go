// Package media provides local tracks backed by pre-encoded media files,
// paced in real time into pion sample tracks.
package media

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const defaultFrame = 20 * time.Millisecond

// source yields encoded frames in order. next returns io.EOF at the end.
type source interface {
	next() (frame []byte, dur time.Duration, err error)
	rewind() error
	close() error
}

// Track is a peernet.Track whose samples come from a source. A disabled
// track keeps its place on every connection but writes nothing.
type Track struct {
	id    string
	kind  peernet.Kind
	local *pion.TrackLocalStaticSample
	log   *slog.Logger

	enabled  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	ended   bool
	onEnded []func()
}

var _ peernet.Track = (*Track)(nil)

func newTrack(kind peernet.Kind, codec pion.RTPCodecCapability, streamID string, log *slog.Logger) (*Track, error) {
	id := string(kind) + "-" + uuid.NewString()
	local, err := pion.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{
		id:    id,
		kind:  kind,
		local: local,
		log:   log.With("track", id),
		stop:  make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

// RTP exposes the pion track for attaching to a peer connection.
func (t *Track) RTP() pion.TrackLocal { return t.local }

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() peernet.Kind      { return t.kind }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *Track) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

func (t *Track) end() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fns := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	t.log.Debug("track ended")
	for _, fn := range fns {
		fn()
	}
}

// pump writes src into the track until it is stopped or src runs out.
// Looping sources start over at the end.
func (t *Track) pump(src source, loop bool) {
	defer t.end()
	defer src.close()

	pace := time.NewTimer(0)
	defer pace.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-pace.C:
		}

		frame, dur, err := src.next()
		if errors.Is(err, io.EOF) && loop {
			if err = src.rewind(); err == nil {
				frame, dur, err = src.next()
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			t.log.Warn("media source failed", "error", err)
			return
		}
		if dur <= 0 {
			dur = defaultFrame
		}

		if t.enabled.Load() {
			if err := t.local.WriteSample(pionmedia.Sample{Data: frame, Duration: dur}); err != nil {
				t.log.Debug("write sample", "error", err)
			}
		}
		pace.Reset(dur)
	}
}
