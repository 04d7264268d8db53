package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BioHazard786/meshcall/internal/peernet"
	pion "github.com/pion/webrtc/v4"
)

// Devices opens the configured media files as tracks. An empty microphone
// path yields silence; an empty camera or display path means that device is
// not available.
type Devices struct {
	MicrophonePath string
	CameraPath     string
	DisplayPath    string
	StreamID       string
	Log            *slog.Logger
}

func (d *Devices) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

func (d *Devices) streamID() string {
	if d.StreamID == "" {
		return "meshcall"
	}
	return d.StreamID
}

func (d *Devices) Microphone(ctx context.Context) (peernet.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	codec := pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}

	if d.MicrophonePath == "" {
		t, err := newTrack(peernet.KindAudio, codec, d.streamID(), d.logger())
		if err != nil {
			return nil, err
		}
		go t.pump(silence{}, true)
		return t, nil
	}

	f, err := openDevice(d.MicrophonePath)
	if err != nil {
		return nil, err
	}
	src, err := openOgg(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("microphone %s: %w", d.MicrophonePath, err)
	}
	t, err := newTrack(peernet.KindAudio, codec, d.streamID(), d.logger())
	if err != nil {
		src.close()
		return nil, err
	}
	go t.pump(src, true)
	return t, nil
}

// Camera loops its file for as long as the track runs.
func (d *Devices) Camera(ctx context.Context) (peernet.Track, error) {
	return d.video(ctx, "camera", d.CameraPath, true)
}

// Display plays its file once; the track ends with the file, like a
// capture the user stopped.
func (d *Devices) Display(ctx context.Context) (peernet.Track, error) {
	return d.video(ctx, "display", d.DisplayPath, false)
}

func (d *Devices) video(ctx context.Context, name, path string, loop bool) (peernet.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%s: %w", name, peernet.ErrDeviceUnavailable)
	}

	f, err := openDevice(path)
	if err != nil {
		return nil, err
	}
	src, codec, err := openIVF(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s %s: %w", name, path, err)
	}
	t, err := newTrack(peernet.KindVideo, codec, d.streamID(), d.logger())
	if err != nil {
		src.close()
		return nil, err
	}
	go t.pump(src, loop)
	return t, nil
}

func openDevice(path string) (*os.File, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%s: %w", path, peernet.ErrDeviceUnavailable)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%s: %w", path, peernet.ErrPermissionDenied)
	default:
		return nil, err
	}
}
