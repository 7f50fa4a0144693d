// Package dnserr defines the sentinel error kinds shared across mindns-go.
package dnserr

import "errors"

var (
	// ErrBufferOverflow is returned when a read or write would cross the
	// fixed packet buffer boundary.
	ErrBufferOverflow = errors.New("dnserr: buffer overflow")

	// ErrBadPacket is returned when a packet fails to decode: malformed
	// name compression, truncated sections, or a jump-count overrun.
	ErrBadPacket = errors.New("dnserr: malformed packet")

	// ErrLabelTooLong is returned when a domain label exceeds 63 bytes.
	ErrLabelTooLong = errors.New("dnserr: label exceeds 63 bytes")

	// ErrUpstreamTimeout is returned when an upstream query exceeds its
	// deadline without a response.
	ErrUpstreamTimeout = errors.New("dnserr: upstream query timed out")

	// ErrUpstreamIO is returned for socket-level failures talking to an
	// upstream server (dial, write, read errors other than timeout).
	ErrUpstreamIO = errors.New("dnserr: upstream I/O error")

	// ErrResolverLoop is returned when delegation-following exceeds the
	// hop cap without reaching an answer.
	ErrResolverLoop = errors.New("dnserr: resolver exceeded hop limit")

	// ErrBadRule is returned when a rule line fails to parse.
	ErrBadRule = errors.New("dnserr: malformed rule line")

	// ErrBindFailure is returned when a listening socket cannot be
	// created or configured.
	ErrBindFailure = errors.New("dnserr: failed to bind listening socket")

	// ErrConfigParse is returned when the TOML configuration fails to
	// parse or fails validation.
	ErrConfigParse = errors.New("dnserr: failed to parse configuration")

	// ErrPeerTimedOut is pushed onto a UDP peer's inbound queue by the idle
	// GC when the peer has been silent past the configured timeout.
	ErrPeerTimedOut = errors.New("dnserr: udp peer timed out")
)
