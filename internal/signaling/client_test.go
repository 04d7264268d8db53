package signaling_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/broker"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T) (string, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := broker.NewHub(broker.NewMemoryDirectory(), zerolog.Nop())
	go hub.Run(ctx)

	srv := httptest.NewServer(broker.NewRouter(hub, zerolog.Nop()))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", cancel
}

func connect(t *testing.T, url string) (*signaling.Client, *signaling.Handler) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c := signaling.NewClient(url, nil)
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Close)

	h := signaling.NewHandler(c)
	go h.Start()
	return c, h
}

func registered(t *testing.T, c *signaling.Client, h *signaling.Handler, id string) string {
	t.Helper()

	require.NoError(t, c.SendMessage(signaling.NewRegister(id)))
	select {
	case got := <-h.Registered:
		return got
	case rej := <-h.Rejected:
		t.Fatalf("registration rejected: %s", rej.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no registration reply")
	}
	return ""
}

func TestRegisterAndRelay(t *testing.T) {
	url, _ := startBroker(t)

	hostClient, host := connect(t, url)
	guestClient, guest := connect(t, url)

	assert.Equal(t, "lobby", registered(t, hostClient, host, "lobby"))
	guestID := registered(t, guestClient, guest, "")
	require.NotEmpty(t, guestID)

	msg, err := signaling.NewSignal("lobby", signaling.SignalPayload{
		ConnectionID: "c1",
		Kind:         signaling.KindData,
		Type:         signaling.SignalOffer,
		SDP:          "v=0",
	})
	require.NoError(t, err)
	require.NoError(t, guestClient.SendMessage(msg))

	select {
	case sig := <-host.Signal:
		assert.Equal(t, guestID, sig.From)
		assert.Equal(t, "c1", sig.Payload.ConnectionID)
		assert.Equal(t, signaling.KindData, sig.Payload.Kind)
		assert.Equal(t, "v=0", sig.Payload.SDP)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not relayed")
	}
}

func TestCollisionIsRejected(t *testing.T) {
	url, _ := startBroker(t)

	hostClient, host := connect(t, url)
	registered(t, hostClient, host, "lobby")

	c, h := connect(t, url)
	require.NoError(t, c.SendMessage(signaling.NewRegister("lobby")))

	select {
	case rej := <-h.Rejected:
		assert.Equal(t, signaling.ErrorKindUnavailableID, rej.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("collision not reported")
	}
}

func TestUnreadErrorsDoNotStallRouting(t *testing.T) {
	url, _ := startBroker(t)

	hostClient, host := connect(t, url)
	registered(t, hostClient, host, "lobby")

	// Each repeat registration earns an error nobody collects.
	for range 3 {
		require.NoError(t, hostClient.SendMessage(signaling.NewRegister("again")))
	}

	guestClient, guest := connect(t, url)
	registered(t, guestClient, guest, "")

	msg, err := signaling.NewSignal("lobby", signaling.SignalPayload{ConnectionID: "c2", Type: signaling.SignalOffer})
	require.NoError(t, err)
	require.NoError(t, guestClient.SendMessage(msg))

	select {
	case sig := <-host.Signal:
		assert.Equal(t, "c2", sig.Payload.ConnectionID)
	case <-time.After(2 * time.Second):
		t.Fatal("signal routing stalled behind broker errors")
	}
}

func TestPeerUnavailableIsRouted(t *testing.T) {
	url, _ := startBroker(t)

	c, h := connect(t, url)
	registered(t, c, h, "")

	msg, err := signaling.NewSignal("nobody", signaling.SignalPayload{ConnectionID: "c9", Type: signaling.SignalOffer})
	require.NoError(t, err)
	require.NoError(t, c.SendMessage(msg))

	select {
	case e := <-h.PeerError:
		assert.Equal(t, "nobody", e.Peer)
		assert.Equal(t, "c9", e.ConnectionID)
	case <-time.After(2 * time.Second):
		t.Fatal("peer error not routed")
	}
}

func TestDisconnectedWhenBrokerStops(t *testing.T) {
	url, stop := startBroker(t)

	_, h := connect(t, url)
	stop()

	select {
	case <-h.Disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not notice the broker going away")
	}
}

func TestSendAfterClose(t *testing.T) {
	url, _ := startBroker(t)

	c, _ := connect(t, url)
	c.Close()
	c.Close()

	assert.ErrorIs(t, c.SendMessage(signaling.NewRegister("")), signaling.ErrClientClosed)
}
