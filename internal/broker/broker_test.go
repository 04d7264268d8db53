package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T, dir Directory) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(dir, zerolog.Nop())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub, zerolog.Nop()))
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, msg *signaling.Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) *signaling.Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg signaling.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func readError(t *testing.T, conn *websocket.Conn) signaling.ErrorPayload {
	t.Helper()

	msg := read(t, conn)
	require.Equal(t, signaling.MessageTypeError, msg.Type)
	var payload signaling.ErrorPayload
	require.NoError(t, msg.DecodePayload(&payload))
	return payload
}

func register(t *testing.T, srv *httptest.Server, id string) (*websocket.Conn, string) {
	t.Helper()

	conn := dial(t, srv)
	write(t, conn, signaling.NewRegister(id))
	msg := read(t, conn)
	require.Equal(t, signaling.MessageTypeRegistered, msg.Type)
	return conn, msg.ID
}

func signal(t *testing.T, to, connID string) *signaling.Message {
	t.Helper()

	msg, err := signaling.NewSignal(to, signaling.SignalPayload{
		ConnectionID: connID,
		Kind:         signaling.KindMedia,
		Type:         signaling.SignalOffer,
		SDP:          "v=0",
	})
	require.NoError(t, err)
	return msg
}

func TestHealth(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterCollision(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	_, id := register(t, srv, "lobby")
	assert.Equal(t, "lobby", id)

	second := dial(t, srv)
	write(t, second, signaling.NewRegister("lobby"))
	payload := readError(t, second)
	assert.Equal(t, signaling.ErrorKindUnavailableID, payload.Kind)
	assert.Equal(t, "lobby", payload.Peer)
}

func TestRegisterGeneratesIdentity(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	_, a := register(t, srv, "")
	_, b := register(t, srv, "")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestRegisterTwice(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	conn, _ := register(t, srv, "lobby")
	write(t, conn, signaling.NewRegister("other"))
	assert.Equal(t, signaling.ErrorKindAlreadyRegistered, readError(t, conn).Kind)
}

func TestRegisterTooLong(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	conn := dial(t, srv)
	write(t, conn, signaling.NewRegister(strings.Repeat("x", maxIDLength+1)))
	assert.Equal(t, signaling.ErrorKindInvalid, readError(t, conn).Kind)
}

func TestIdentityReleasedOnDisconnect(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	host, _ := register(t, srv, "lobby")
	host.Close()

	require.Eventually(t, func() bool {
		conn := dial(t, srv)
		write(t, conn, signaling.NewRegister("lobby"))
		return read(t, conn).Type == signaling.MessageTypeRegistered
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSignalRelay(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	host, _ := register(t, srv, "lobby")
	guest, guestID := register(t, srv, "")

	write(t, guest, signal(t, "lobby", "c1"))

	msg := read(t, host)
	assert.Equal(t, signaling.MessageTypeSignal, msg.Type)
	assert.Equal(t, guestID, msg.From)

	var payload signaling.SignalPayload
	require.NoError(t, msg.DecodePayload(&payload))
	assert.Equal(t, "c1", payload.ConnectionID)
	assert.Equal(t, signaling.SignalOffer, payload.Type)
}

func TestSignalPeerUnavailable(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	guest, _ := register(t, srv, "")
	write(t, guest, signal(t, "nobody", "c7"))

	payload := readError(t, guest)
	assert.Equal(t, signaling.ErrorKindPeerUnavailable, payload.Kind)
	assert.Equal(t, "nobody", payload.Peer)
	assert.Equal(t, "c7", payload.ConnectionID)
}

func TestSignalBeforeRegister(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	conn := dial(t, srv)
	write(t, conn, signal(t, "lobby", "c1"))
	assert.Equal(t, signaling.ErrorKindNotRegistered, readError(t, conn).Kind)
}

func TestUnknownMessageType(t *testing.T) {
	srv := startBroker(t, NewMemoryDirectory())

	conn := dial(t, srv)
	write(t, conn, &signaling.Message{Type: "shout"})
	assert.Equal(t, signaling.ErrorKindInvalid, readError(t, conn).Kind)
}

// remoteDirectory pretends every unknown identity lives on another instance.
type remoteDirectory struct {
	*MemoryDirectory

	mu        sync.Mutex
	forwarded []*signaling.Message
	inbound   chan *signaling.Message
}

func newRemoteDirectory() *remoteDirectory {
	return &remoteDirectory{
		MemoryDirectory: NewMemoryDirectory(),
		inbound:         make(chan *signaling.Message, 8),
	}
}

func (d *remoteDirectory) Forward(_ context.Context, msg *signaling.Message) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forwarded = append(d.forwarded, msg)
	return true, nil
}

func (d *remoteDirectory) Inbound() <-chan *signaling.Message { return d.inbound }

func (d *remoteDirectory) Forwarded() []*signaling.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*signaling.Message(nil), d.forwarded...)
}

func TestSignalForwardedToOtherInstance(t *testing.T) {
	dir := newRemoteDirectory()
	srv := startBroker(t, dir)

	guest, guestID := register(t, srv, "")
	write(t, guest, signal(t, "elsewhere", "c2"))

	require.Eventually(t, func() bool { return len(dir.Forwarded()) == 1 }, time.Second, 10*time.Millisecond)
	msg := dir.Forwarded()[0]
	assert.Equal(t, guestID, msg.From)
	assert.Equal(t, "elsewhere", msg.To)
}

func TestForwardedSignalDelivered(t *testing.T) {
	dir := newRemoteDirectory()
	srv := startBroker(t, dir)

	host, _ := register(t, srv, "lobby")

	payload, err := json.Marshal(signaling.SignalPayload{ConnectionID: "c3", Type: signaling.SignalAnswer})
	require.NoError(t, err)
	dir.inbound <- &signaling.Message{Type: signaling.MessageTypeSignal, From: "remote", To: "lobby", Payload: payload}

	msg := read(t, host)
	assert.Equal(t, "remote", msg.From)
}

func TestForwardedSignalBounced(t *testing.T) {
	dir := newRemoteDirectory()
	startBroker(t, dir)

	payload, err := json.Marshal(signaling.SignalPayload{ConnectionID: "c4"})
	require.NoError(t, err)
	dir.inbound <- &signaling.Message{Type: signaling.MessageTypeSignal, From: "remote", To: "gone", Payload: payload}

	require.Eventually(t, func() bool { return len(dir.Forwarded()) == 1 }, time.Second, 10*time.Millisecond)
	bounce := dir.Forwarded()[0]
	assert.Equal(t, signaling.MessageTypeError, bounce.Type)
	assert.Equal(t, "remote", bounce.To)

	var e signaling.ErrorPayload
	require.NoError(t, bounce.DecodePayload(&e))
	assert.Equal(t, signaling.ErrorKindPeerUnavailable, e.Kind)
	assert.Equal(t, "c4", e.ConnectionID)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	ok, err := dir.Claim(ctx, "lobby")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dir.Claim(ctx, "lobby")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, dir.Release(ctx, "lobby"))
	ok, err = dir.Claim(ctx, "lobby")
	require.NoError(t, err)
	assert.True(t, ok)

	forwarded, err := dir.Forward(ctx, &signaling.Message{To: "lobby"})
	require.NoError(t, err)
	assert.False(t, forwarded)
}
