// Package resolver implements recursive DNS resolution by walking NS
// delegations from a single configured root, following glue records where
// present and sub-resolving nameserver hosts where absent.
package resolver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/sammwyy/mindns-go/internal/dns/packet"
	"github.com/sammwyy/mindns-go/internal/dnserr"
)

// MaxHops bounds the total number of upstream queries a single Resolve call
// may issue, across both delegation-following and nameserver sub-resolution,
// before giving up with ErrResolverLoop.
const MaxHops = 16

// Transport sends one DNS query to server ("host:port") and returns the
// parsed reply. It is the seam tests inject canned delegation chains
// through, mirroring the teacher's own queryFn field on Server.
type Transport interface {
	Query(ctx context.Context, server string, qname string, qtype packet.QueryType) (*packet.DNSPacket, error)
}

// Resolver walks NS delegations starting from a single configured root
// nameserver until it reaches an answer, an NXDOMAIN, or the hop cap.
//
// Each step of the walk is conceptually one of three states: Querying (a
// query is in flight against the current nameserver), SubResolving (the
// current reply named an unresolved NS host, so a nested Resolve is run
// against the root to turn that host into an address), or Done (an answer,
// NXDOMAIN, or unresolvable delegation ends the walk). The loop below folds
// those states into the control flow rather than a literal enum, since nothing
// here needs to suspend and resume the state outside.
type Resolver struct {
	RootNS    string
	Transport Transport
}

// New builds a Resolver that starts every walk at rootNS using transport.
func New(rootNS string, transport Transport) *Resolver {
	return &Resolver{RootNS: rootNS, Transport: transport}
}

// Resolve performs iterative resolution of qname/qtype, starting at the
// configured root nameserver.
func (r *Resolver) Resolve(ctx context.Context, qname string, qtype packet.QueryType) (*packet.DNSPacket, error) {
	hops := 0
	return r.resolveFrom(ctx, r.RootNS, qname, qtype, &hops)
}

// resolveFrom walks delegations starting at startNS, sharing hops with any
// enclosing call so that a chain of NS sub-resolutions can't bypass the
// overall hop cap.
func (r *Resolver) resolveFrom(ctx context.Context, startNS string, qname string, qtype packet.QueryType, hops *int) (*packet.DNSPacket, error) {
	currentNS := startNS

	for {
		*hops++
		if *hops > MaxHops {
			return nil, dnserr.ErrResolverLoop
		}

		// Querying: ask currentNS directly for qname/qtype.
		resp, err := r.Transport.Query(ctx, net.JoinHostPort(currentNS, "53"), qname, qtype)
		if err != nil {
			return nil, err
		}

		// Done: an answer or an authoritative NXDOMAIN ends the walk.
		if len(resp.Answers) > 0 || resp.Header.ResCode == packet.RcodeNxDomain {
			return resp, nil
		}

		// Delegation with glue: follow it directly, no sub-resolution
		// needed.
		if glueIP := resp.GetResolvedNS(qname); glueIP != nil {
			currentNS = glueIP.String()
			continue
		}

		// SubResolving: the delegation named a nameserver with no glue.
		// Resolve that host's address from the root before continuing.
		if nsHost := resp.GetUnresolvedNS(qname); nsHost != "" {
			subResp, err := r.resolveFrom(ctx, r.RootNS, nsHost, packet.A, hops)
			if err != nil {
				return nil, err
			}
			nsIP := subResp.RandomA(nsHost)
			if nsIP == nil {
				// Couldn't turn the nameserver host into an address; the
				// best we can do is hand back what the delegating server
				// said.
				return resp, nil
			}
			currentNS = nsIP.String()
			continue
		}

		// Done: no answer, no NXDOMAIN, no delegation to follow further.
		return resp, nil
	}
}

// UDPTransport is the production Transport: one ephemeral UDP socket per
// query, a transaction ID matched against the request, and a fixed timeout.
type UDPTransport struct {
	Timeout time.Duration
}

// NewUDPTransport builds a UDPTransport with the given per-query timeout.
func NewUDPTransport(timeout time.Duration) *UDPTransport {
	return &UDPTransport{Timeout: timeout}
}

// Query implements Transport over a real UDP socket.
func (t *UDPTransport) Query(ctx context.Context, server string, qname string, qtype packet.QueryType) (*packet.DNSPacket, error) {
	deadline := t.Timeout
	if deadline == 0 {
		deadline = 5 * time.Second
	}

	conn, err := net.DialTimeout("udp", server, deadline)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", dnserr.ErrUpstreamIO, server, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(deadline))
	}

	txID, err := generateTransactionID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnserr.ErrUpstreamIO, err)
	}

	req := packet.NewDNSPacket()
	req.Header.ID = txID
	req.Header.RecursionDesired = false
	req.Header.Questions = 1
	req.Questions = append(req.Questions, *packet.NewDNSQuestion(qname, qtype))

	reqBuf := packet.GetBuffer()
	defer packet.PutBuffer(reqBuf)
	reqBuf.HasNames = true
	if err := req.Write(reqBuf); err != nil {
		return nil, fmt.Errorf("%w: %v", dnserr.ErrBadPacket, err)
	}
	reqBytes, err := reqBuf.GetRange(0, reqBuf.Position())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dnserr.ErrBadPacket, err)
	}
	if _, err := conn.Write(reqBytes); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", dnserr.ErrUpstreamIO, server, err)
	}

	raw := make([]byte, packet.MaxPacketSize)
	n, err := conn.Read(raw)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("%w: %s: %v", dnserr.ErrUpstreamTimeout, server, err)
		}
		return nil, fmt.Errorf("%w: read %s: %v", dnserr.ErrUpstreamIO, server, err)
	}

	resBuf := packet.GetBuffer()
	defer packet.PutBuffer(resBuf)
	resBuf.Load(raw[:n])

	resp := packet.NewDNSPacket()
	if err := resp.FromBuffer(resBuf); err != nil {
		return nil, fmt.Errorf("%w: %v", dnserr.ErrBadPacket, err)
	}
	if resp.Header.ID != txID {
		return nil, fmt.Errorf("%w: transaction id mismatch from %s", dnserr.ErrBadPacket, server)
	}

	return resp, nil
}

func generateTransactionID() (uint16, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}
