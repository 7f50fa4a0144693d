// Package netudp implements the multi-socket UDP peer manager: N listening
// sockets sharing one (addr, port) via SO_REUSEPORT, per-remote-peer session
// state, a dispatch channel handing new peers off to a handler, and an idle
// GC that force-closes peers that go quiet.
package netudp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sammwyy/mindns-go/internal/dnserr"
	"github.com/sammwyy/mindns-go/internal/metrics"
)

const recvBufferSize = 4096
const socketBufferBytes = 17_840_000

// Handler processes one peer's datagrams until Recv returns an error (idle
// timeout or shutdown), at which point the dispatcher reaps the peer.
type Handler func(ctx context.Context, peer *Peer)

// socketContext owns one listening socket and its peer map, mirroring the
// spec's UdpContext: one per bound socket, keyed by remote address.
type socketContext struct {
	socketID int
	conn     net.PacketConn

	mu    sync.Mutex
	peers map[string]*Peer
}

type newPeerEvent struct {
	peer *Peer
	ctx  *socketContext
}

// Server binds one or more UDP sockets to the same address and fans
// datagrams out to per-peer sessions.
type Server struct {
	Addr        string
	PeerTimeout time.Duration
	Handler     Handler
	Logger      *slog.Logger

	contexts  []*socketContext
	newPeerCh chan newPeerEvent
}

// NewServer builds a Server. handler is invoked once per new remote peer;
// peerTimeout of 0 disables the idle GC.
func NewServer(addr string, peerTimeout time.Duration, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Addr:        addr,
		PeerTimeout: peerTimeout,
		Handler:     handler,
		Logger:      logger,
		newPeerCh:   make(chan newPeerEvent, 64),
	}
}

// Run binds socketCount() listening sockets (one per CPU where SO_REUSEPORT
// is available, one otherwise) and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	n := socketCount()
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				if err := setReuseAddrPort(fd); err != nil {
					s.Logger.Warn("failed to set socket reuse options", "error", err)
				}
			})
		},
	}

	for i := 0; i < n; i++ {
		conn, err := lc.ListenPacket(ctx, "udp", s.Addr)
		if err != nil {
			return fmt.Errorf("%w: listener %d on %s: %v", dnserr.ErrBindFailure, i, s.Addr, err)
		}
		setSocketBuffers(conn, s.Logger)
		s.contexts = append(s.contexts, &socketContext{
			socketID: i,
			conn:     conn,
			peers:    make(map[string]*Peer),
		})
	}

	s.Logger.Info("udp listeners bound", "addr", s.Addr, "sockets", n)

	go s.dispatch(ctx)
	if s.PeerTimeout > 0 {
		go s.gc(ctx)
	}

	var wg sync.WaitGroup
	for _, sc := range s.contexts {
		wg.Add(1)
		go func(sc *socketContext) {
			defer wg.Done()
			s.readLoop(ctx, sc)
		}(sc)
	}

	<-ctx.Done()
	for _, sc := range s.contexts {
		_ = sc.conn.Close()
	}
	wg.Wait()
	return nil
}

// readLoop is the reader task for one socket: an infinite receive loop that
// looks up or creates the peer for each datagram's source address and
// pushes the payload onto that peer's inbound queue.
func (s *Server) readLoop(ctx context.Context, sc *socketContext) {
	buf := make([]byte, recvBufferSize)
	for {
		n, addr, err := sc.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		key := addr.String()
		sc.mu.Lock()
		peer, ok := sc.peers[key]
		if !ok {
			peer = newPeer(sc.socketID, addr, sc.conn)
			sc.peers[key] = peer
			metrics.ActivePeers.Inc()
		}
		sc.mu.Unlock()

		if !ok {
			select {
			case s.newPeerCh <- newPeerEvent{peer: peer, ctx: sc}:
			case <-ctx.Done():
				return
			}
		}

		peer.push(data)
		if s.PeerTimeout > 0 {
			peer.touch()
		}
	}
}

// dispatch is the single consumer that turns each new peer into a spawned
// handler invocation, removing the peer from its context's map once the
// handler returns.
func (s *Server) dispatch(ctx context.Context) {
	for {
		select {
		case ev := <-s.newPeerCh:
			go func(ev newPeerEvent) {
				s.Handler(ctx, ev.peer)
				ev.ctx.mu.Lock()
				delete(ev.ctx.peers, ev.peer.Addr.String())
				ev.ctx.mu.Unlock()
				metrics.ActivePeers.Dec()
			}(ev)
		case <-ctx.Done():
			return
		}
	}
}

// gc wakes once a second and force-closes any peer whose last_seen is older
// than PeerTimeout.
func (s *Server) gc(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	timeoutSec := int64(s.PeerTimeout.Seconds())

	for {
		select {
		case <-ticker.C:
			now := time.Now().Unix()
			for _, sc := range s.contexts {
				sc.mu.Lock()
				for _, peer := range sc.peers {
					if now-peer.LastSeen() > timeoutSec {
						peer.Close()
					}
				}
				sc.mu.Unlock()
			}
		case <-ctx.Done():
			return
		}
	}
}

func setSocketBuffers(conn net.PacketConn, logger *slog.Logger) {
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return
	}
	if err := udpConn.SetReadBuffer(socketBufferBytes); err != nil {
		logger.Warn("failed to set udp recv buffer size", "error", err)
	}
	if err := udpConn.SetWriteBuffer(socketBufferBytes); err != nil {
		logger.Warn("failed to set udp send buffer size", "error", err)
	}
}
