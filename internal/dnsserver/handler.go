// Package dnsserver implements the request handler that glues the rule
// engine, the recursive resolver, and the wire codec together behind a
// netudp.Handler.
package dnsserver

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/sammwyy/mindns-go/internal/dns/packet"
	"github.com/sammwyy/mindns-go/internal/metrics"
	"github.com/sammwyy/mindns-go/internal/netudp"
	"github.com/sammwyy/mindns-go/internal/resolver"
	"github.com/sammwyy/mindns-go/internal/rules"
)

// synthesizedTTL is the TTL used for A records synthesized by an Append rule.
const synthesizedTTL = 53000

// defaultSynthesizedAddr is used when an Append rule carries no value or an
// unparseable one.
const defaultSynthesizedAddr = "127.0.0.1"

// Handler decodes inbound datagrams, resolves a reply via the rule engine or
// the recursive resolver, and encodes the result back onto the peer.
type Handler struct {
	rules         atomic.Pointer[[]rules.Rule]
	resolver      *resolver.Resolver
	mirrorEnabled bool
	logger        *slog.Logger
}

// New builds a Handler with the given initial rule set. resolver may be nil
// when mirrorEnabled is false.
func New(initialRules []rules.Rule, res *resolver.Resolver, mirrorEnabled bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		resolver:      res,
		mirrorEnabled: mirrorEnabled,
		logger:        logger,
	}
	h.SetRules(initialRules)
	return h
}

// SetRules atomically replaces the active rule set, used by rulesync on a
// reload notification.
func (h *Handler) SetRules(rs []rules.Rule) {
	cp := make([]rules.Rule, len(rs))
	copy(cp, rs)
	h.rules.Store(&cp)
	metrics.RulesLoaded.Set(float64(len(cp)))
}

// currentRules returns the active rule set snapshot.
func (h *Handler) currentRules() []rules.Rule {
	p := h.rules.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Serve implements netudp.Handler: it drains the peer's inbound queue,
// handling one datagram at a time, until the peer is closed.
func (h *Handler) Serve(ctx context.Context, peer *netudp.Peer) {
	for {
		data, err := peer.Recv(ctx)
		if err != nil {
			return
		}
		reply := h.handleDatagram(ctx, data)
		if reply == nil {
			continue
		}
		if _, err := peer.Send(reply); err != nil {
			h.logger.Warn("failed to send reply", "peer", peer.Addr, "error", err)
		}
	}
}

// handleDatagram implements the nine-step request handler algorithm and
// returns the encoded reply, or nil if the reply itself could not be
// encoded (logged, never surfaced to the peer).
func (h *Handler) handleDatagram(ctx context.Context, data []byte) []byte {
	start := time.Now()

	reqBuf := packet.GetBuffer()
	defer packet.PutBuffer(reqBuf)
	reqBuf.Load(data)

	req := packet.NewDNSPacket()
	decodeErr := req.FromBuffer(reqBuf)

	resp := packet.NewDNSPacket()
	resp.Header.ID = req.Header.ID
	resp.Header.Response = true
	resp.Header.RecursionDesired = true
	resp.Header.RecursionAvailable = true

	var source, qtype string

	switch {
	case decodeErr != nil:
		resp.Header.ResCode = packet.RcodeFormErr
		source, qtype = "formerr", "unknown"
	case len(req.Questions) == 0:
		resp.Header.ResCode = packet.RcodeFormErr
		source, qtype = "formerr", "unknown"
	default:
		question := req.Questions[0]
		resp.Questions = []packet.DNSQuestion{question}
		qtype = question.QType.String()
		source = h.answer(ctx, question, resp)
	}

	metrics.QueriesTotal.WithLabelValues(qtype, rcodeLabel(resp.Header.ResCode)).Inc()
	metrics.QueryDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())

	out := packet.GetBuffer()
	defer packet.PutBuffer(out)
	if err := resp.Write(out); err != nil {
		h.logger.Warn("failed to encode reply", "error", err)
		return nil
	}

	raw, err := out.GetRange(0, out.Position())
	if err != nil {
		h.logger.Warn("failed to extract reply bytes", "error", err)
		return nil
	}
	reply := make([]byte, len(raw))
	copy(reply, raw)
	return reply
}

// answer runs the rule lookup and, failing a match, the mirror resolution
// path, mutating resp in place. It returns the metrics source label.
func (h *Handler) answer(ctx context.Context, question packet.DNSQuestion, resp *packet.DNSPacket) string {
	if matched, ok := rules.Match(h.currentRules(), question.Name); ok {
		h.applyRule(matched, question, resp)
		return "rule"
	}

	if h.mirrorEnabled && h.resolver != nil {
		result, err := h.resolver.Resolve(ctx, question.Name, question.QType)
		if err != nil {
			h.logger.Warn("mirror resolution failed", "name", question.Name, "error", err)
			resp.Header.ResCode = packet.RcodeServFail
			return "mirror"
		}
		resp.Header.ResCode = result.Header.ResCode
		if result.Header.ResCode == packet.RcodeNoError {
			resp.Answers = result.Answers
			resp.Authorities = result.Authorities
			resp.Resources = result.Resources
		}
		return "mirror"
	}

	resp.Header.ResCode = packet.RcodeNoError
	return "none"
}

func (h *Handler) applyRule(rule rules.Rule, question packet.DNSQuestion, resp *packet.DNSPacket) {
	switch rule.Action {
	case rules.Deny:
		resp.Header.ResCode = packet.RcodeNxDomain
	case rules.Append:
		resp.Header.ResCode = packet.RcodeNoError
		resp.Header.RecursionDesired = false
		resp.Header.RecursionAvailable = false

		raw := defaultSynthesizedAddr
		if rule.Value != nil && *rule.Value != "" {
			raw = *rule.Value
		}
		ip := net.ParseIP(raw)
		if ip == nil || ip.To4() == nil {
			ip = net.ParseIP(defaultSynthesizedAddr)
		}
		resp.Answers = append(resp.Answers, packet.DNSRecord{
			Name: question.Name,
			Type: packet.A,
			IP:   ip.To4(),
			TTL:  synthesizedTTL,
		})
	}
}

func rcodeLabel(code uint8) string {
	switch code {
	case packet.RcodeNoError:
		return "noerror"
	case packet.RcodeFormErr:
		return "formerr"
	case packet.RcodeServFail:
		return "servfail"
	case packet.RcodeNxDomain:
		return "nxdomain"
	case packet.RcodeNotImp:
		return "notimp"
	case packet.RcodeRefused:
		return "refused"
	default:
		return "unknown"
	}
}
