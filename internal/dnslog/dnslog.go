// Package dnslog turns raw DNS payloads, carried over UDP or TCP, into
// structured query/response log records. Decoding is stateless per call:
// a DnsLog is reset at the top of every Parse.
package dnslog

import (
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"flowcollector/internal/dnsrecord"
	"flowcollector/internal/flow"
)

// Protocol is the transport a DNS payload arrived on.
type Protocol uint8

const (
	ProtoUDP Protocol = iota
	ProtoTCP
)

// Direction is the packet direction the payload was observed on. The
// decoder does not currently branch on it, but callers pass it through for
// symmetry with the rest of the application-log decoders it sits beside.
type Direction uint8

const (
	DirectionClientToServer Direction = iota
	DirectionServerToClient
)

// DnsLog decodes one DNS message per Parse call into info.
type DnsLog struct {
	info flow.DnsInfo
}

// NewDnsLog returns a ready-to-use decoder.
func NewDnsLog() *DnsLog {
	return &DnsLog{}
}

// Info returns the most recently decoded record. Its zero value is
// meaningful only after a successful Parse.
func (d *DnsLog) Info() flow.DnsInfo {
	return d.info
}

func (d *DnsLog) reset() {
	d.info = flow.DnsInfo{}
}

// Parse decodes payload according to proto's framing rules and populates
// Info(). It resets all decoder state first, so a DnsLog can be reused
// across calls.
func (d *DnsLog) Parse(payload []byte, proto Protocol, direction Direction) error {
	d.reset()

	switch proto {
	case ProtoUDP:
		return d.decodePayload(payload)
	case ProtoTCP:
		if len(payload) <= tcpPayloadOffset {
			return newParseError(0, 0, "tcp payload shorter than length prefix")
		}
		declared := int(binary.BigEndian.Uint16(payload))
		remaining := len(payload) - tcpPayloadOffset
		if remaining > declared {
			return newParseError(tcpPayloadOffset, 0, "tcp declared length inconsistent with payload")
		}
		return d.decodePayload(payload[tcpPayloadOffset:])
	default:
		return newParseError(0, 0, "unsupported transport protocol")
	}
}

func (d *DnsLog) decodePayload(payload []byte) error {
	if len(payload) <= headerSize {
		return newParseError(0, 0, "dns payload too short for header")
	}

	d.info.TransID = binary.BigEndian.Uint16(payload[:headerFlagsOffset])
	d.info.QueryType = payload[headerFlagsOffset] & 0x80

	qdCount := binary.BigEndian.Uint16(payload[headerQDCountOffset:])
	anCount := binary.BigEndian.Uint16(payload[headerANCountOffset:])
	nsCount := binary.BigEndian.Uint16(payload[headerNSCountOffset:])

	gOffset := headerSize
	for i := 0; i < int(qdCount); i++ {
		off, err := d.decodeQuestion(payload, gOffset, i)
		if err != nil {
			return err
		}
		gOffset = off
	}

	if d.info.QueryType == dnsResponseFlag {
		d.info.QueryType = 1
		for i := 0; i < int(anCount)+int(nsCount); i++ {
			off, err := d.decodeResourceRecord(payload, gOffset)
			if err != nil {
				return err
			}
			gOffset = off
		}
		d.info.MsgType = flow.MsgTypeResponse
	}

	return nil
}

func (d *DnsLog) decodeQuestion(payload []byte, gOffset int, questionIndex int) (int, error) {
	name, offset, err := d.decodeName(payload, gOffset)
	if err != nil {
		return 0, err
	}
	if offset > len(payload) {
		return 0, newParseError(offset, 0, "question name ran past payload")
	}
	if len(payload)-offset < questionClassTypeSize {
		return 0, newParseError(offset, 0, "question section too short for QTYPE/QCLASS")
	}

	if d.info.QueryName != "" {
		d.info.QueryName += string(rune(domainNameSplit))
	}
	d.info.QueryName += name

	if d.info.QueryType == dnsRequestFlag && questionIndex == 0 {
		d.info.DomainType = binary.BigEndian.Uint16(payload[offset:])
		d.info.MsgType = flow.MsgTypeRequest
	}

	return offset + questionClassTypeSize, nil
}

func (d *DnsLog) decodeResourceRecord(payload []byte, gOffset int) (int, error) {
	_, offset, err := d.decodeName(payload, gOffset)
	if err != nil {
		return 0, err
	}
	if offset > len(payload) {
		return 0, newParseError(offset, 0, "resource record name ran past payload")
	}
	if len(payload)-offset < rrPreambleSize {
		return 0, newParseError(offset, 0, "resource record preamble too short")
	}

	d.info.DomainType = binary.BigEndian.Uint16(payload[offset:])
	dataLength := int(binary.BigEndian.Uint16(payload[offset+rrDataLengthOffset:]))

	if dataLength != 0 {
		rdataStart := offset + rrRDataOffset
		if rdataStart+dataLength > len(payload) {
			return 0, newParseError(rdataStart, 0, "rdata extends past payload")
		}
		if err := d.decodeRData(payload, rdataStart, dataLength); err != nil {
			return 0, err
		}
	}

	return offset + rrRDataOffset + dataLength, nil
}

func (d *DnsLog) decodeRData(payload []byte, rdataOffset, dataLength int) error {
	if n := len(d.info.Answers); n > 0 && d.info.Answers[n-1] != domainNameSplit {
		d.info.Answers += string(rune(domainNameSplit))
	}

	switch d.info.DomainType {
	case dnsrecord.A, dnsrecord.AAAA:
		if dataLength != ipv4AddrLen && dataLength != ipv6AddrLen {
			return newParseError(rdataOffset, 0, "address record has invalid rdata length")
		}
		d.info.Answers += formatIP(payload[rdataOffset : rdataOffset+dataLength])
	case dnsrecord.NS, dnsrecord.DNAME:
		if dataLength > dnsNameMaxSize {
			return newParseError(rdataOffset, 0, "name record rdata exceeds max name size")
		}
		name, _, err := d.decodeName(payload, rdataOffset)
		if err != nil {
			return err
		}
		d.info.Answers += name
	case dnsrecord.WKS:
		if dataLength < wksMinLength {
			return newParseError(rdataOffset, 0, "wks record rdata shorter than minimum")
		}
		d.info.Answers += formatIP(payload[rdataOffset : rdataOffset+ipv4AddrLen])
	case dnsrecord.PTR:
		if dataLength != ptrFixedLength {
			return newParseError(rdataOffset, 0, "ptr record has unexpected rdata length")
		}
	default:
		return newParseError(rdataOffset, byte(d.info.DomainType), "unsupported resource record type")
	}

	return nil
}

// decodeName decodes a (possibly compressed) domain name starting at
// gOffset, returning the dot-joined name and the offset of the byte
// following the name *on the original forward path* — following a pointer
// never advances the returned offset past the 2-byte pointer that triggered
// the jump.
func (d *DnsLog) decodeName(payload []byte, gOffset int) (string, int, error) {
	if gOffset >= len(payload) {
		return "", 0, newParseError(gOffset, 0, "payload too short for name")
	}
	if payload[gOffset] == nameTail {
		return "", gOffset + 1, nil
	}

	lOffset := gOffset
	index := gOffset
	hops := 0
	// end is the offset just past the first pointer followed; once set it is
	// the offset returned, wherever the pointer chain leads.
	end := -1
	var buf strings.Builder

	for payload[index] != nameTail {
		b := payload[index]
		switch {
		case b&nameCompressMask == nameReservedBits01, b&nameCompressMask == nameReservedBits10:
			return "", 0, newParseError(index, b, "reserved label type")

		case b&nameCompressMask == nameCompressPointer:
			hops++
			if hops > maxPointerHops {
				return "", 0, newParseError(index, b, "pointer chain too long")
			}
			if index+2 > len(payload) {
				return "", 0, newParseError(index, b, "pointer truncated")
			}
			ptr := int(binary.BigEndian.Uint16(payload[index:index+2])) & namePointerOffsetMask
			if ptr > len(payload) {
				return "", 0, newParseError(ptr, 0, "pointer offset out of range")
			}
			if end < 0 {
				end = index + 2
			}
			index = ptr
			if index >= len(payload) {
				return "", 0, newParseError(index, 0, "pointer target out of range")
			}

		default:
			size := index + 1 + int(b)
			if size > len(payload) || (size > gOffset && size-gOffset > dnsNameMaxSize) {
				return "", 0, newParseError(size, b, "label out of range")
			}
			label := payload[index+1 : size]
			if !utf8.Valid(label) {
				return "", 0, newParseError(index, b, "label is not valid utf-8")
			}
			if buf.Len() > 0 {
				buf.WriteByte('.')
			}
			buf.Write(label)

			index = size
			if index >= len(payload) {
				return "", 0, newParseError(index, 0, "label out of range")
			}

			// l_offset tracks forward progress along the original path and
			// gives the returned offset when no pointer was followed. The
			// doubling branch below reproduces an arithmetic curio from the
			// reference parser: it can only fire after a backward pointer
			// jump, and then the returned offset comes from end instead, so
			// it has no observable effect.
			if index > lOffset {
				lOffset = size
			} else if payload[index] == nameTail {
				lOffset += lOffset
			}
		}
	}

	if end >= 0 {
		return buf.String(), end, nil
	}
	return buf.String(), lOffset + 1, nil
}
