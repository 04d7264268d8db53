package memnet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/meshcall/internal/peernet"
)

// Track is a media track with no source behind it.
type Track struct {
	id      string
	kind    peernet.Kind
	enabled atomic.Bool

	mu      sync.Mutex
	ended   bool
	onEnded []func()
}

var _ peernet.Track = (*Track)(nil)

func NewTrack(id string, kind peernet.Kind) *Track {
	t := &Track{id: id, kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Kind() peernet.Kind      { return t.kind }
func (t *Track) Enabled() bool           { return t.enabled.Load() }
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *Track) Stop() { t.End() }

// End simulates the source going away, e.g. the device being unplugged or
// the user ending a capture from outside the app.
func (t *Track) End() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fns := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (t *Track) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	if !t.ended {
		t.onEnded = append(t.onEnded, fn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	fn()
}

// Devices hands out Tracks. Setting one of the error fields makes the
// matching acquisition fail.
type Devices struct {
	mu         sync.Mutex
	MicErr     error
	CameraErr  error
	DisplayErr error
	seq        int
	issued     []*Track

	// Gate, when set, holds Camera and Display until it is closed. The wait
	// ignores the context, like a capture prompt nobody has answered yet.
	Gate    chan struct{}
	waiting atomic.Int32
}

func (d *Devices) Microphone(context.Context) (peernet.Track, error) {
	return d.acquire("mic", peernet.KindAudio, func() error { return d.MicErr })
}

func (d *Devices) Camera(context.Context) (peernet.Track, error) {
	d.hold()
	return d.acquire("camera", peernet.KindVideo, func() error { return d.CameraErr })
}

func (d *Devices) Display(context.Context) (peernet.Track, error) {
	d.hold()
	return d.acquire("display", peernet.KindVideo, func() error { return d.DisplayErr })
}

func (d *Devices) hold() {
	if d.Gate == nil {
		return
	}
	d.waiting.Add(1)
	defer d.waiting.Add(-1)
	<-d.Gate
}

// Waiting reports how many acquisitions are held at the gate.
func (d *Devices) Waiting() int {
	return int(d.waiting.Load())
}

// SetCameraErr changes the camera failure while the devices are in use.
func (d *Devices) SetCameraErr(err error) {
	d.mu.Lock()
	d.CameraErr = err
	d.mu.Unlock()
}

// SetDisplayErr changes the display failure while the devices are in use.
func (d *Devices) SetDisplayErr(err error) {
	d.mu.Lock()
	d.DisplayErr = err
	d.mu.Unlock()
}

// Issued returns every track handed out so far, oldest first.
func (d *Devices) Issued() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.issued...)
}

// Last returns the most recent track of the given name prefix.
func (d *Devices) Last(prefix string) *Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.issued) - 1; i >= 0; i-- {
		if strings.HasPrefix(d.issued[i].id, prefix) {
			return d.issued[i]
		}
	}
	return nil
}

func (d *Devices) acquire(name string, kind peernet.Kind, failure func() error) (peernet.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := failure(); err != nil {
		return nil, err
	}
	d.seq++
	t := NewTrack(fmt.Sprintf("%s-%d", name, d.seq), kind)
	d.issued = append(d.issued, t)
	return t, nil
}
