package netudp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/sammwyy/mindns-go/internal/dnserr"
)

// Peer holds the session state for one remote address on one listening
// socket: its pending datagrams and the wall-clock second it was last heard
// from.
type Peer struct {
	SocketID int
	Addr     net.Addr

	conn     net.PacketConn
	inbound  *queue
	lastSeen atomic.Int64
}

func newPeer(socketID int, addr net.Addr, conn net.PacketConn) *Peer {
	p := &Peer{
		SocketID: socketID,
		Addr:     addr,
		conn:     conn,
		inbound:  newQueue(),
	}
	p.touch()
	return p
}

// touch stamps last_seen with the current wall-clock second, release
// ordering (the GC's read is acquire — see LastSeen).
func (p *Peer) touch() {
	p.lastSeen.Store(time.Now().Unix())
}

// LastSeen reads last_seen with acquire ordering. The GC tolerates a
// slightly stale value; there's no cross-thread causal ordering needed
// beyond "eventually observed within about a second".
func (p *Peer) LastSeen() int64 {
	return p.lastSeen.Load()
}

func (p *Peer) push(data []byte) {
	p.inbound.push(datagram{data: data})
}

// Recv blocks for the next datagram delivered to this peer, in arrival
// order, or returns the error that closed the peer (idle timeout or ctx
// cancellation).
func (p *Peer) Recv(ctx context.Context) ([]byte, error) {
	return p.inbound.pop(ctx)
}

// Send writes buf back to the peer as a single datagram. UDP sends are
// atomic per datagram, so there's no partial-write retry path.
func (p *Peer) Send(buf []byte) (int, error) {
	return p.conn.WriteTo(buf, p.Addr)
}

// Close force-closes the peer's inbound queue, as the idle GC does.
func (p *Peer) Close() {
	p.inbound.push(datagram{err: dnserr.ErrPeerTimedOut})
}
