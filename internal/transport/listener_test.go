package transport_test

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buqixiaomi/socket/internal/transport"
)

type recordingReceiver struct {
	mu         sync.Mutex
	registered []transport.Channel
	received   [][]byte
	closed     []string
	gotFrame   chan struct{}
	gotClose   chan struct{}
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{
		gotFrame: make(chan struct{}, 8),
		gotClose: make(chan struct{}, 8),
	}
}

func (r *recordingReceiver) RegisterChannel(_ context.Context, ch transport.Channel) {
	r.mu.Lock()
	r.registered = append(r.registered, ch)
	r.mu.Unlock()
}

func (r *recordingReceiver) Receive(_ context.Context, data []byte, _ string) {
	r.mu.Lock()
	r.received = append(r.received, data)
	r.mu.Unlock()
	r.gotFrame <- struct{}{}
}

func (r *recordingReceiver) CloseRemote(channelID string) {
	r.mu.Lock()
	r.closed = append(r.closed, channelID)
	r.mu.Unlock()
	r.gotClose <- struct{}{}
}

func (r *recordingReceiver) channelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

func waitOn(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for receiver callback")
	}
}

func TestListenTCP_AcceptsRegistersAndDispatchesFrames(t *testing.T) {
	recv := newRecordingReceiver()
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0", recv)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.(net.Listener).Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("hello")
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	_, err = conn.Write(append(header[:], payload...))
	require.NoError(t, err)

	waitOn(t, recv.gotFrame)
	recv.mu.Lock()
	assert.Equal(t, payload, recv.received[0])
	recv.mu.Unlock()
	assert.Equal(t, 1, recv.channelCount())
}

func TestListenTCP_PeerCloseReportsCloseRemote(t *testing.T) {
	recv := newRecordingReceiver()
	ln, err := transport.ListenTCP(context.Background(), "127.0.0.1:0", recv)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.(net.Listener).Addr().String()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recv.channelCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())

	waitOn(t, recv.gotClose)
}

func TestListenWebSocket_AcceptsRegistersAndDispatchesFrames(t *testing.T) {
	recv := newRecordingReceiver()
	ln, err := transport.ListenWebSocket(context.Background(), "127.0.0.1:0", recv)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.(net.Listener).Addr().String()
	url := "ws://" + addr + "/"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("hi there")))

	waitOn(t, recv.gotFrame)
	recv.mu.Lock()
	assert.Equal(t, []byte("hi there"), recv.received[0])
	recv.mu.Unlock()
	assert.Equal(t, 1, recv.channelCount())
}

func TestListenWebSocket_PeerCloseReportsCloseRemote(t *testing.T) {
	recv := newRecordingReceiver()
	ln, err := transport.ListenWebSocket(context.Background(), "127.0.0.1:0", recv)
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.(net.Listener).Addr().String()
	url := "ws://" + addr + "/"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return recv.channelCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())

	waitOn(t, recv.gotClose)
}
