// Package dnsrecord re-exports the handful of DNS RR TYPE codes the
// protocol log parser understands, sourced from miekg/dns instead of
// hand-copied magic numbers.
package dnsrecord

import "github.com/miekg/dns"

// Type is a DNS RR TYPE code, as carried over the wire.
type Type = uint16

// Recognized RR types. Any other TYPE value seen in an answer or authority
// record is a decode error (spec: "any other | error").
const (
	A     Type = dns.TypeA
	AAAA  Type = dns.TypeAAAA
	NS    Type = dns.TypeNS
	DNAME Type = dns.TypeDNAME
	WKS   Type = dns.TypeWKS
	PTR   Type = dns.TypePTR
)

// Recognized reports whether t is one of the enumerated types above.
func Recognized(t Type) bool {
	switch t {
	case A, AAAA, NS, DNAME, WKS, PTR:
		return true
	default:
		return false
	}
}
