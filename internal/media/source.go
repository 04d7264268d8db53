package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusClockRate = 48000

// ErrUnsupportedCodec rejects video files the call's video sender cannot
// carry. Every call negotiates its video sender as VP8.
var ErrUnsupportedCodec = errors.New("unsupported video codec")

// Opus TOC for a 20ms silent frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

type ivfSource struct {
	f     *os.File
	r     *ivfreader.IVFReader
	frame time.Duration
}

func openIVF(f *os.File) (*ivfSource, pion.RTPCodecCapability, error) {
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, pion.RTPCodecCapability{}, err
	}

	codec := pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}
	if header.FourCC != "VP80" {
		return nil, pion.RTPCodecCapability{}, fmt.Errorf("%w: ivf %q", ErrUnsupportedCodec, header.FourCC)
	}

	frame := defaultFrame
	if header.TimebaseDenominator != 0 {
		frame = time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000) * time.Millisecond
	}
	return &ivfSource{f: f, r: r, frame: frame}, codec, nil
}

func (s *ivfSource) next() ([]byte, time.Duration, error) {
	frame, _, err := s.r.ParseNextFrame()
	if err != nil {
		return nil, 0, err
	}
	return frame, s.frame, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := ivfreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	return nil
}

func (s *ivfSource) close() error { return s.f.Close() }

type oggSource struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func openOgg(f *os.File) (*oggSource, error) {
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, err
	}
	return &oggSource{f: f, r: r}, nil
}

func (s *oggSource) next() ([]byte, time.Duration, error) {
	page, header, err := s.r.ParseNextPage()
	if err != nil {
		return nil, 0, err
	}
	var dur time.Duration
	if header.GranulePosition > s.lastGranule {
		samples := float64(header.GranulePosition - s.lastGranule)
		dur = time.Duration(samples/opusClockRate*1000) * time.Millisecond
	}
	s.lastGranule = header.GranulePosition
	return page, dur, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	s.lastGranule = 0
	return nil
}

func (s *oggSource) close() error { return s.f.Close() }

// silence never runs out.
type silence struct{}

func (silence) next() ([]byte, time.Duration, error) { return opusSilence, defaultFrame, nil }
func (silence) rewind() error                        { return nil }
func (silence) close() error                         { return nil }
