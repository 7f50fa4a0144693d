// Package packet provides functionality for parsing and serializing DNS packets.
package packet

import (
	"fmt"
	"math/rand"
	"net"
	"strings"

	"github.com/sammwyy/mindns-go/internal/dnserr"
)

// QueryType represents the DNS record type field (e.g., A, NS, MX).
type QueryType uint16

const (
	// UNKNOWN represents an unrecognized or unsupported DNS query type.
	UNKNOWN QueryType = 0
	// A represents an IPv4 address record.
	A QueryType = 1
	// NS represents an authoritative name server record.
	NS QueryType = 2
	// CNAME represents a canonical name for an alias.
	CNAME QueryType = 5
	// MX represents a mail exchange record.
	MX QueryType = 15
	// AAAA represents an IPv6 address record.
	AAAA QueryType = 28
)

// String returns the human-readable representation of a QueryType.
func (t QueryType) String() string {
	switch t {
	case A:
		return "A"
	case NS:
		return "NS"
	case CNAME:
		return "CNAME"
	case MX:
		return "MX"
	case AAAA:
		return "AAAA"
	default:
		return fmt.Sprintf("TYPE%d", t)
	}
}

// ParseQueryType maps a rule-file or config type token to a QueryType.
func ParseQueryType(s string) QueryType {
	switch strings.ToUpper(s) {
	case "A":
		return A
	case "NS":
		return NS
	case "CNAME":
		return CNAME
	case "MX":
		return MX
	case "AAAA":
		return AAAA
	default:
		return UNKNOWN
	}
}

const (
	// OpcodeQuery represents a standard DNS query.
	OpcodeQuery uint8 = 0
)

const (
	// RcodeNoError indicates no error condition.
	RcodeNoError uint8 = 0
	// RcodeFormErr indicates a format error in the request.
	RcodeFormErr uint8 = 1
	// RcodeServFail indicates a server failure.
	RcodeServFail uint8 = 2
	// RcodeNxDomain indicates the domain name does not exist.
	RcodeNxDomain uint8 = 3
	// RcodeNotImp indicates the request is not implemented.
	RcodeNotImp uint8 = 4
	// RcodeRefused indicates the server refuses to perform the operation.
	RcodeRefused uint8 = 5
)

// DNSHeader represents the header section of a DNS packet.
type DNSHeader struct {
	ID                   uint16
	RecursionDesired     bool
	TruncatedMessage     bool
	AuthoritativeAnswer  bool
	Opcode               uint8
	Response             bool
	ResCode              uint8 // RCODE
	Z                    uint8 // 3 reserved bits, MUST be zero on write
	RecursionAvailable   bool
	Questions            uint16
	Answers              uint16
	AuthoritativeEntries uint16
	ResourceEntries      uint16
}

// NewDNSHeader creates and returns a pointer to a new DNSHeader.
func NewDNSHeader() *DNSHeader {
	return &DNSHeader{}
}

// Read populates the DNSHeader fields by reading from the provided buffer.
func (h *DNSHeader) Read(buffer *BytePacketBuffer) error {
	var err error
	h.ID, err = buffer.Readu16()
	if err != nil {
		return err
	}

	flags, err := buffer.Readu16()
	if err != nil {
		return err
	}

	a := uint8(flags >> 8)   // #nosec G115
	b := uint8(flags & 0xFF) // #nosec G115

	h.RecursionDesired = (a & (1 << 0)) > 0
	h.TruncatedMessage = (a & (1 << 1)) > 0
	h.AuthoritativeAnswer = (a & (1 << 2)) > 0
	h.Opcode = (a >> 3) & 0x0F
	h.Response = (a & (1 << 7)) > 0

	h.ResCode = b & 0x0F
	h.Z = (b >> 4) & 0x07
	h.RecursionAvailable = (b & (1 << 7)) > 0

	h.Questions, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.Answers, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.AuthoritativeEntries, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.ResourceEntries, err = buffer.Readu16()
	if err != nil {
		return err
	}

	return nil
}

// Write serializes the DNSHeader into the provided buffer. The reserved Z
// bits are always emitted as zero regardless of what was read, per RFC 1035.
func (h *DNSHeader) Write(buffer *BytePacketBuffer) error {
	if err := buffer.Writeu16(h.ID); err != nil {
		return err
	}

	var flags uint16
	if h.Response {
		flags |= 1 << 15
	}
	flags |= uint16(h.Opcode) << 11
	if h.AuthoritativeAnswer {
		flags |= 1 << 10
	}
	if h.TruncatedMessage {
		flags |= 1 << 9
	}
	if h.RecursionDesired {
		flags |= 1 << 8
	}
	if h.RecursionAvailable {
		flags |= 1 << 7
	}
	flags |= uint16(h.ResCode)

	if err := buffer.Writeu16(flags); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.Questions); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.Answers); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.AuthoritativeEntries); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.ResourceEntries); err != nil {
		return err
	}

	return nil
}

// DNSQuestion represents a single question in the DNS question section.
type DNSQuestion struct {
	Name  string
	QType QueryType
}

// NewDNSQuestion creates and returns a pointer to a new DNSQuestion.
func NewDNSQuestion(name string, qtype QueryType) *DNSQuestion {
	return &DNSQuestion{
		Name:  name,
		QType: qtype,
	}
}

// Read populates the DNSQuestion fields by reading from the provided buffer.
func (q *DNSQuestion) Read(buffer *BytePacketBuffer) error {
	var err error
	q.Name, err = buffer.ReadName()
	if err != nil {
		return err
	}

	qtype, err := buffer.Readu16()
	if err != nil {
		return err
	}
	q.QType = QueryType(qtype)

	_, err = buffer.Readu16() // QCLASS
	if err != nil {
		return err
	}

	return nil
}

// Write serializes the DNSQuestion into the provided buffer.
func (q *DNSQuestion) Write(buffer *BytePacketBuffer) error {
	if err := buffer.WriteName(q.Name); err != nil {
		return err
	}
	if err := buffer.Writeu16(uint16(q.QType)); err != nil {
		return err
	}
	if err := buffer.Writeu16(1); err != nil {
		return err
	} // CLASS IN
	return nil
}

// DNSRecord represents a single DNS resource record, restricted to the
// record types this resolver understands (A, NS, CNAME, MX, AAAA). Any other
// wire type keeps its numeric code in Type; its RDATA is skipped and not
// retained.
type DNSRecord struct {
	Name     string
	Type     QueryType
	Class    uint16
	TTL      uint32
	IP       net.IP // A/AAAA
	Host     string // NS/CNAME
	Priority uint16 // MX
}

// Read populates the DNSRecord fields by reading from the provided buffer.
func (r *DNSRecord) Read(buffer *BytePacketBuffer) error {
	var err error
	r.Name, err = buffer.ReadName()
	if err != nil {
		return err
	}

	typeVal, err := buffer.Readu16()
	if err != nil {
		return err
	}
	r.Type = QueryType(typeVal)

	r.Class, err = buffer.Readu16()
	if err != nil {
		return err
	}

	r.TTL, err = buffer.Readu32()
	if err != nil {
		return err
	}

	dataLen, err := buffer.Readu16()
	if err != nil {
		return err
	}

	switch r.Type {
	case A:
		rawIP, err := buffer.ReadRange(buffer.Position(), 4)
		if err != nil {
			return err
		}
		r.IP = net.IP(rawIP)
		if err := buffer.Step(4); err != nil {
			return err
		}
	case AAAA:
		rawIP, err := buffer.ReadRange(buffer.Position(), 16)
		if err != nil {
			return err
		}
		r.IP = net.IP(rawIP)
		if err := buffer.Step(16); err != nil {
			return err
		}
	case NS, CNAME:
		r.Host, err = buffer.ReadName()
		if err != nil {
			return err
		}
	case MX:
		if r.Priority, err = buffer.Readu16(); err != nil {
			return err
		}
		if r.Host, err = buffer.ReadName(); err != nil {
			return err
		}
	default:
		// UNKNOWN: skip rdlength bytes, payload not retained.
		if err := buffer.Step(int(dataLen)); err != nil {
			return err
		}
	}
	return nil
}

// Write serializes the DNSRecord into the provided buffer.
func (r *DNSRecord) Write(buffer *BytePacketBuffer) (int, error) {
	startPos := buffer.Position()

	if err := buffer.WriteName(r.Name); err != nil {
		return 0, err
	}
	if err := buffer.Writeu16(uint16(r.Type)); err != nil {
		return 0, err
	}
	if err := buffer.Writeu16(1); err != nil { // CLASS IN
		return 0, err
	}
	if err := buffer.Writeu32(r.TTL); err != nil {
		return 0, err
	}

	switch r.Type {
	case A:
		if err := buffer.Writeu16(4); err != nil {
			return 0, err
		}
		ip4 := r.IP.To4()
		if ip4 == nil {
			return 0, dnserr.ErrBadPacket
		}
		for _, b := range ip4 {
			if err := buffer.Write(b); err != nil {
				return 0, err
			}
		}
	case AAAA:
		if err := buffer.Writeu16(16); err != nil {
			return 0, err
		}
		ip16 := r.IP.To16()
		if ip16 == nil {
			return 0, dnserr.ErrBadPacket
		}
		for _, b := range ip16 {
			if err := buffer.Write(b); err != nil {
				return 0, err
			}
		}
	case NS, CNAME:
		lenPos := buffer.Position()
		if err := buffer.Writeu16(0); err != nil {
			return 0, err
		}
		if err := buffer.WriteName(r.Host); err != nil {
			return 0, err
		}
		currPos := buffer.Position()
		if err := buffer.Seek(lenPos); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(currPos - (lenPos + 2))); err != nil { // #nosec G115
			return 0, err
		}
		if err := buffer.Seek(currPos); err != nil {
			return 0, err
		}
	case MX:
		lenPos := buffer.Position()
		if err := buffer.Writeu16(0); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(r.Priority); err != nil {
			return 0, err
		}
		if err := buffer.WriteName(r.Host); err != nil {
			return 0, err
		}
		currPos := buffer.Position()
		if err := buffer.Seek(lenPos); err != nil {
			return 0, err
		}
		if err := buffer.Writeu16(uint16(currPos - (lenPos + 2))); err != nil { // #nosec G115
			return 0, err
		}
		if err := buffer.Seek(currPos); err != nil {
			return 0, err
		}
	default:
		// UNKNOWN records are silently dropped on emit; callers should
		// filter them out of a section before writing (see DNSPacket.Write).
		return 0, dnserr.ErrBadPacket
	}

	return buffer.Position() - startPos, nil
}

// writableRecords returns recs with every record whose type is not one of
// A, NS, CNAME, MX or AAAA removed, since those are never re-emitted on the
// wire.
func writableRecords(recs []DNSRecord) []DNSRecord {
	out := make([]DNSRecord, 0, len(recs))
	for _, r := range recs {
		switch r.Type {
		case A, NS, CNAME, MX, AAAA:
			out = append(out, r)
		}
	}
	return out
}

// DNSPacket represents a complete DNS packet.
type DNSPacket struct {
	Header      DNSHeader
	Questions   []DNSQuestion
	Answers     []DNSRecord
	Authorities []DNSRecord
	Resources   []DNSRecord
}

// NewDNSPacket creates and returns a pointer to a new DNSPacket.
func NewDNSPacket() *DNSPacket {
	return &DNSPacket{
		Header:      DNSHeader{},
		Questions:   []DNSQuestion{},
		Answers:     []DNSRecord{},
		Authorities: []DNSRecord{},
		Resources:   []DNSRecord{},
	}
}

// FromBuffer populates the DNSPacket by reading from the provided buffer.
func (p *DNSPacket) FromBuffer(buffer *BytePacketBuffer) error {
	if err := p.Header.Read(buffer); err != nil {
		return err
	}
	for i := 0; i < int(p.Header.Questions); i++ {
		var q DNSQuestion
		if err := q.Read(buffer); err != nil {
			return err
		}
		p.Questions = append(p.Questions, q)
	}
	for i := 0; i < int(p.Header.Answers); i++ {
		var r DNSRecord
		if err := r.Read(buffer); err != nil {
			return err
		}
		p.Answers = append(p.Answers, r)
	}
	for i := 0; i < int(p.Header.AuthoritativeEntries); i++ {
		var r DNSRecord
		if err := r.Read(buffer); err != nil {
			return err
		}
		p.Authorities = append(p.Authorities, r)
	}
	for i := 0; i < int(p.Header.ResourceEntries); i++ {
		var r DNSRecord
		if err := r.Read(buffer); err != nil {
			return err
		}
		p.Resources = append(p.Resources, r)
	}
	return nil
}

// Write serializes the complete DNSPacket into the provided buffer, first
// recomputing the header's section counts from the slice lengths.
func (p *DNSPacket) Write(buffer *BytePacketBuffer) error {
	answers := writableRecords(p.Answers)
	authorities := writableRecords(p.Authorities)
	resources := writableRecords(p.Resources)

	p.Header.Questions = uint16(len(p.Questions))            // #nosec G115
	p.Header.Answers = uint16(len(answers))                  // #nosec G115
	p.Header.AuthoritativeEntries = uint16(len(authorities)) // #nosec G115
	p.Header.ResourceEntries = uint16(len(resources))        // #nosec G115

	if err := p.Header.Write(buffer); err != nil {
		return err
	}
	for _, q := range p.Questions {
		if err := q.Write(buffer); err != nil {
			return err
		}
	}
	for _, a := range answers {
		if _, err := a.Write(buffer); err != nil {
			return err
		}
	}
	for _, a := range authorities {
		if _, err := a.Write(buffer); err != nil {
			return err
		}
	}
	for _, a := range resources {
		if _, err := a.Write(buffer); err != nil {
			return err
		}
	}
	return nil
}

// RandomA returns a random A-record IP from the packet's answer section for
// the given name, or nil if none is present. Used by the resolver to turn a
// sub-resolved nameserver host into an address.
func (p *DNSPacket) RandomA(qname string) net.IP {
	var candidates []net.IP
	for _, a := range p.Answers {
		if a.Type == A && strings.EqualFold(a.Name, qname) && a.IP != nil {
			candidates = append(candidates, a.IP)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))] // #nosec G404
}

// GetNS returns an iterator-style slice of (domain, host) pairs for every NS
// record in the authority section whose owner name is a suffix of qname,
// i.e. the delegations that apply to the name being resolved.
func (p *DNSPacket) GetNS(qname string) []struct{ Domain, Host string } {
	var out []struct{ Domain, Host string }
	for _, a := range p.Authorities {
		if a.Type == NS && strings.HasSuffix(qname, a.Name) {
			out = append(out, struct{ Domain, Host string }{Domain: a.Name, Host: a.Host})
		}
	}
	return out
}

// GetResolvedNS returns the IP of the first NS delegation for qname that has
// a matching glue A record in the resources (additional) section.
func (p *DNSPacket) GetResolvedNS(qname string) net.IP {
	for _, ns := range p.GetNS(qname) {
		for _, res := range p.Resources {
			if res.Type == A && strings.EqualFold(res.Name, ns.Host) && res.IP != nil {
				return res.IP
			}
		}
	}
	return nil
}

// GetUnresolvedNS returns the hostname of the first NS delegation for qname
// that has no matching glue record, so the caller can resolve it separately.
func (p *DNSPacket) GetUnresolvedNS(qname string) string {
	for _, ns := range p.GetNS(qname) {
		resolved := false
		for _, res := range p.Resources {
			if res.Type == A && strings.EqualFold(res.Name, ns.Host) {
				resolved = true
				break
			}
		}
		if !resolved {
			return ns.Host
		}
	}
	return ""
}
