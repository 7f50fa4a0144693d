package netudp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func startTestServer(t *testing.T, peerTimeout time.Duration, handler Handler) (addr string, shutdown func()) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", peerTimeout, handler, nil)

	ctx, cancel := context.WithCancel(context.Background())

	// Bind a throwaway listener first to learn a free port, then close it
	// and let the real server claim the same addr immediately; socketCount()
	// sockets all share the port via SO_REUSEPORT so binding to ":0" inside
	// Run directly would give each listener a different ephemeral port.
	probe, err := net.ListenPacket("udp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr = probe.LocalAddr().String()
	assert.NoError(t, probe.Close())
	srv.Addr = addr

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(ctx) }()

	// Give the listeners time to bind.
	time.Sleep(50 * time.Millisecond)

	return addr, func() {
		cancel()
		<-runErr
	}
}

func TestServer_EchoRoundTrip(t *testing.T) {
	echo := func(ctx context.Context, peer *Peer) {
		for {
			data, err := peer.Recv(ctx)
			if err != nil {
				return
			}
			_, _ = peer.Send(data)
		}
	}

	addr, shutdown := startTestServer(t, 0, echo)
	defer shutdown()

	conn, err := net.Dial("udp", addr)
	assert.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	assert.NoError(t, err)

	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestServer_PeerDatagramOrdering(t *testing.T) {
	received := make(chan string, 8)
	handler := func(ctx context.Context, peer *Peer) {
		for {
			data, err := peer.Recv(ctx)
			if err != nil {
				return
			}
			received <- string(data)
		}
	}

	addr, shutdown := startTestServer(t, 0, handler)
	defer shutdown()

	conn, err := net.Dial("udp", addr)
	assert.NoError(t, err)
	defer conn.Close()

	for _, msg := range []string{"a", "b", "c"} {
		_, err := conn.Write([]byte(msg))
		assert.NoError(t, err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case m := <-received:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for datagram")
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestServer_IdleGCClosesPeer(t *testing.T) {
	closed := make(chan struct{})
	handler := func(ctx context.Context, peer *Peer) {
		for {
			_, err := peer.Recv(ctx)
			if err != nil {
				close(closed)
				return
			}
		}
	}

	addr, shutdown := startTestServer(t, time.Second, handler)
	defer shutdown()

	conn, err := net.Dial("udp", addr)
	assert.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	assert.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(4 * time.Second):
		t.Fatal("peer was never closed by idle GC")
	}
}
