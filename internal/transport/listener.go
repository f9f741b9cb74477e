package transport

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
)

// Receiver is the connector surface a transport listener needs: install a
// newly accepted channel, hand inbound frames off for classification, and
// report a detected peer disconnect.
type Receiver interface {
	RegisterChannel(ctx context.Context, ch Channel)
	Receive(ctx context.Context, data []byte, channelID string)
	CloseRemote(channelID string)
}

// ListenTCP accepts connections on addr for the lifetime of the returned
// io.Closer, wrapping each as a TCPChannel and running its read loop on a
// dedicated goroutine.
func ListenTCP(ctx context.Context, addr string, recv Receiver) (io.Closer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	go acceptTCPLoop(ctx, ln, recv)
	return ln, nil
}

func acceptTCPLoop(ctx context.Context, ln net.Listener, recv Receiver) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			util.Log(ctx).WithError(err).Debug("tcp listener stopped accepting")
			return
		}

		ch := NewTCPChannel(uuid.NewString(), conn)
		recv.RegisterChannel(ctx, ch)
		go readLoop(ctx, ch, recv)
	}
}

// ListenWebSocket starts an HTTP server on addr that upgrades every request
// to a WebSocket connection, wrapping each as a WSChannel.
func ListenWebSocket(ctx context.Context, addr string, recv Receiver) (io.Closer, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			util.Log(ctx).WithError(err).Debug("websocket upgrade failed")
			return
		}

		ch := NewWSChannel(uuid.NewString(), conn)
		recv.RegisterChannel(ctx, ch)
		go readLoop(ctx, ch, recv)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Handler: mux}
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil {
			util.Log(ctx).WithError(serveErr).Debug("websocket listener stopped serving")
		}
	}()

	return ln, nil
}

// framer is satisfied by both TCPChannel and WSChannel.
type framer interface {
	Channel
	ReadFrame() ([]byte, error)
}

func readLoop(ctx context.Context, ch framer, recv Receiver) {
	for {
		frame, err := ch.ReadFrame()
		if err != nil {
			recv.CloseRemote(ch.ID())
			return
		}
		recv.Receive(ctx, frame, ch.ID())
	}
}
