package rtc

import (
	"sync"

	"github.com/BioHazard786/meshcall/internal/peernet"
	pion "github.com/pion/webrtc/v4"
)

const channelLabel = "meshcall"

// dataChannel is a reliable ordered channel on its own peer connection.
type dataChannel struct {
	*conn

	mu sync.Mutex
	dc *pion.DataChannel
}

var _ peernet.Channel = (*dataChannel)(nil)

func newDataChannel(c *conn) *dataChannel {
	ch := &dataChannel{conn: c}
	c.channel = ch
	return ch
}

func (d *dataChannel) Peer() peernet.ID { return d.peer }

// create opens the channel from our side.
func (d *dataChannel) create() error {
	ordered := true
	dc, err := d.pc.CreateDataChannel(channelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return err
	}
	d.bind(dc)
	return nil
}

// await takes the channel the remote side opens.
func (d *dataChannel) await() {
	d.pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != channelLabel {
			d.log.Debug("ignoring foreign data channel", "label", dc.Label())
			return
		}
		d.push(d.event(peernet.EventChannel))
		d.bind(dc)
	})
}

func (d *dataChannel) bind(dc *pion.DataChannel) {
	d.mu.Lock()
	d.dc = dc
	d.mu.Unlock()

	dc.OnOpen(func() {
		d.push(d.event(peernet.EventChannelOpen))
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		ev := d.event(peernet.EventData)
		ev.Data = msg.Data
		d.push(ev)
	})
	dc.OnClose(func() {
		d.finish(peernet.EventClosed, nil, false)
	})
}

func (d *dataChannel) Send(data []byte) error {
	d.mu.Lock()
	dc := d.dc
	d.mu.Unlock()

	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return peernet.ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (d *dataChannel) Close() error {
	d.finish(peernet.EventClosed, nil, true)
	return nil
}
