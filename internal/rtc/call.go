package rtc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

const (
	rtcpBufferSize = 1500
	pliInterval    = 3 * time.Second
)

// rtpTrack is implemented by local tracks that can be attached to a peer
// connection.
type rtpTrack interface {
	RTP() pion.TrackLocal
}

func toRTP(t peernet.Track) (pion.TrackLocal, error) {
	if t == nil {
		return nil, nil
	}
	rt, ok := t.(rtpTrack)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTrack, t.ID())
	}
	return rt.RTP(), nil
}

// mediaCall carries audio plus one video sender that exists for the life of
// the call, so swapping what it sends never needs renegotiation.
type mediaCall struct {
	*conn

	mu          sync.Mutex
	video       *pion.RTPSender
	placeholder pion.TrackLocal

	streamOnce sync.Once
}

var _ peernet.Call = (*mediaCall)(nil)

func newMediaCall(c *conn) *mediaCall {
	call := &mediaCall{conn: c}
	c.call = call
	c.pc.OnTrack(call.onTrack)
	return call
}

func (m *mediaCall) Peer() peernet.ID { return m.peer }

// attach adds our senders. Without a video track the video sender carries
// a placeholder that never produces samples.
func (m *mediaCall) attach(tracks []peernet.Track) error {
	var audio, video peernet.Track
	for _, t := range tracks {
		switch t.Kind() {
		case peernet.KindAudio:
			audio = t
		case peernet.KindVideo:
			video = t
		}
	}

	if audio != nil {
		local, err := toRTP(audio)
		if err != nil {
			return err
		}
		sender, err := m.pc.AddTrack(local)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		go drainRTCP(sender)
	} else if !m.hasTransceiver(pion.RTPCodecTypeAudio) {
		if _, err := m.pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add audio transceiver: %w", err)
		}
	}

	placeholder, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video-"+m.id, "meshcall-"+m.id)
	if err != nil {
		return fmt.Errorf("create video placeholder: %w", err)
	}

	first := pion.TrackLocal(placeholder)
	if video != nil {
		if first, err = toRTP(video); err != nil {
			return err
		}
	}
	sender, err := m.pc.AddTrack(first)
	if err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	go drainRTCP(sender)

	m.mu.Lock()
	m.video = sender
	m.placeholder = placeholder
	m.mu.Unlock()
	return nil
}

func (m *mediaCall) hasTransceiver(kind pion.RTPCodecType) bool {
	for _, tr := range m.pc.GetTransceivers() {
		if tr.Kind() == kind {
			return true
		}
	}
	return false
}

func (m *mediaCall) Answer(tracks []peernet.Track) error {
	if m.isFinished() {
		return peernet.ErrClosed
	}
	if err := m.attach(tracks); err != nil {
		return NewError("answer", m.peer, err)
	}
	if err := m.answer(); err != nil {
		return NewError("answer", m.peer, err)
	}
	return nil
}

func (m *mediaCall) ReplaceVideoTrack(t peernet.Track) error {
	local, err := toRTP(t)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sender := m.video
	if local == nil {
		local = m.placeholder
	}
	m.mu.Unlock()
	if sender == nil {
		return NewError("replace video", m.peer, errors.New("call has no video sender"))
	}
	if err := sender.ReplaceTrack(local); err != nil {
		return NewError("replace video", m.peer, err)
	}
	return nil
}

func (m *mediaCall) Close() error {
	m.finish(peernet.EventClosed, nil, true)
	return nil
}

// onTrack reports the remote stream on its first track and keeps every
// remote track drained.
func (m *mediaCall) onTrack(remote *pion.TrackRemote, _ *pion.RTPReceiver) {
	m.log.Debug("remote track", "kind", remote.Kind().String(), "stream", remote.StreamID())

	m.streamOnce.Do(func() {
		ev := m.event(peernet.EventStream)
		ev.Stream = m.stream(remote.StreamID())
		m.push(ev)
	})

	if remote.Kind() == pion.RTPCodecTypeVideo {
		go m.requestKeyframes(remote)
	}

	buf := make([]byte, rtcpBufferSize)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

// stream describes what the remote side may send us.
func (m *mediaCall) stream(id string) *peernet.Stream {
	s := &peernet.Stream{ID: id}
	for _, tr := range m.pc.GetTransceivers() {
		switch tr.Direction() {
		case pion.RTPTransceiverDirectionSendrecv, pion.RTPTransceiverDirectionRecvonly:
		default:
			continue
		}
		switch tr.Kind() {
		case pion.RTPCodecTypeAudio:
			s.Audio = true
		case pion.RTPCodecTypeVideo:
			s.Video = true
		}
	}
	return s
}

// requestKeyframes asks for a picture refresh now and then, so a swapped
// video source is decodable quickly.
func (m *mediaCall) requestKeyframes(remote *pion.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}}
		if err := m.pc.WriteRTCP(pli); err != nil {
			return
		}
		<-ticker.C
		if m.isFinished() {
			return
		}
	}
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, rtcpBufferSize)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
