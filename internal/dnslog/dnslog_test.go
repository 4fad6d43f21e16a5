package dnslog_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowcollector/internal/dnslog"
	"flowcollector/internal/flow"
)

// buildName encodes a dot-separated domain name as length-prefixed labels
// terminated by a zero byte.
func buildName(name string) []byte {
	var out []byte
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			out = append(out, byte(len(label)))
			out = append(out, label...)
			start = i + 1
		}
	}
	out = append(out, 0x00)
	return out
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func buildHeader(id uint16, responseFlag bool, qd, an, ns uint16) []byte {
	flags := byte(0x00)
	if responseFlag {
		flags = 0x80
	}
	h := append([]byte{}, u16(id)...)
	h = append(h, flags, 0x00)
	h = append(h, u16(qd)...)
	h = append(h, u16(an)...)
	h = append(h, u16(ns)...)
	h = append(h, u16(0)...) // arcount, unused
	return h
}

func TestParseUDPRequestSingleQuestion(t *testing.T) {
	payload := buildHeader(0x1234, false, 1, 0, 0)
	payload = append(payload, buildName("example.com")...)
	payload = append(payload, u16(1)...) // QTYPE A
	payload = append(payload, u16(1)...) // QCLASS IN

	d := dnslog.NewDnsLog()
	err := d.Parse(payload, dnslog.ProtoUDP, dnslog.DirectionClientToServer)
	require.NoError(t, err)

	info := d.Info()
	assert.Equal(t, uint16(0x1234), info.TransID)
	assert.Equal(t, uint8(0), info.QueryType)
	assert.Equal(t, "example.com", info.QueryName)
	assert.Equal(t, flow.MsgTypeRequest, info.MsgType)
	assert.Equal(t, uint16(1), info.DomainType)
}

func TestParseResponseWithCompressionPointer(t *testing.T) {
	payload := buildHeader(0x1234, true, 1, 1, 0)
	questionStart := len(payload)
	payload = append(payload, buildName("example.com")...)
	payload = append(payload, u16(1)...) // QTYPE A
	payload = append(payload, u16(1)...) // QCLASS IN

	// Answer: name is a pointer back to the question's name.
	payload = append(payload, 0xC0, byte(questionStart))
	payload = append(payload, u16(1)...)      // TYPE A
	payload = append(payload, u16(1)...)      // CLASS IN
	payload = append(payload, 0, 0, 0, 60)    // TTL
	payload = append(payload, u16(4)...)      // RDLENGTH
	payload = append(payload, 93, 184, 216, 34) // RDATA = 93.184.216.34

	d := dnslog.NewDnsLog()
	err := d.Parse(payload, dnslog.ProtoUDP, dnslog.DirectionClientToServer)
	require.NoError(t, err)

	info := d.Info()
	assert.Equal(t, uint8(1), info.QueryType)
	assert.Equal(t, "93.184.216.34", info.Answers)
	assert.Equal(t, flow.MsgTypeResponse, info.MsgType)
}

func TestParsePointerOutOfRangeErrors(t *testing.T) {
	payload := buildHeader(0x1234, true, 1, 1, 0)
	payload = append(payload, buildName("example.com")...)
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)

	ptrOffset := len(payload)
	payload = append(payload, 0xC0, 0x00) // placeholder, patched below
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)
	payload = append(payload, 0, 0, 0, 60)
	payload = append(payload, u16(4)...)
	payload = append(payload, 1, 2, 3, 4)

	// Point well past the end of the fully assembled message.
	badPtr := len(payload) + 100
	payload[ptrOffset] = 0xC0 | byte(badPtr>>8)
	payload[ptrOffset+1] = byte(badPtr)

	d := dnslog.NewDnsLog()
	err := d.Parse(payload, dnslog.ProtoUDP, dnslog.DirectionClientToServer)
	require.Error(t, err)
	var perr *dnslog.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestDecodeNameTerminatesOnPointerCycle(t *testing.T) {
	// Two labels that point at each other: guaranteed to loop forever
	// without a hop counter.
	payload := buildHeader(0x1234, false, 1, 0, 0)
	nameOffset := len(payload)
	// A pointer at nameOffset that points to nameOffset+2, which in turn
	// points back to nameOffset.
	payload = append(payload, 0xC0, byte(nameOffset+2))
	payload = append(payload, 0xC0, byte(nameOffset))
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)

	d := dnslog.NewDnsLog()
	done := make(chan error, 1)
	go func() {
		done <- d.Parse(payload, dnslog.ProtoUDP, dnslog.DirectionClientToServer)
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("decode_name did not terminate on a pointer cycle")
	}
}

func TestDecodeNameEmptyPayloadReturnsOffsetPlusOne(t *testing.T) {
	// A name consisting solely of the terminator byte.
	payload := buildHeader(0x1234, false, 1, 0, 0)
	payload = append(payload, 0x00)
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)

	d := dnslog.NewDnsLog()
	err := d.Parse(payload, dnslog.ProtoUDP, dnslog.DirectionClientToServer)
	require.NoError(t, err)
	assert.Equal(t, "", d.Info().QueryName)
}

func TestParseReservedLabelTypeErrors(t *testing.T) {
	payload := buildHeader(0x1234, false, 1, 0, 0)
	payload = append(payload, 0x40) // reserved top bits 01
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)

	d := dnslog.NewDnsLog()
	err := d.Parse(payload, dnslog.ProtoUDP, dnslog.DirectionClientToServer)
	require.Error(t, err)
}

func TestParseOversizedNameRejected(t *testing.T) {
	payload := buildHeader(0x1234, false, 1, 0, 0)
	// A single label of 63 bytes repeated many times comfortably exceeds
	// dnsNameMaxSize (255) in decoded length.
	label := make([]byte, 63)
	for i := range label {
		label[i] = 'a'
	}
	var name []byte
	for i := 0; i < 6; i++ {
		name = append(name, byte(len(label)))
		name = append(name, label...)
	}
	name = append(name, 0x00)
	payload = append(payload, name...)
	payload = append(payload, u16(1)...)
	payload = append(payload, u16(1)...)

	d := dnslog.NewDnsLog()
	err := d.Parse(payload, dnslog.ProtoUDP, dnslog.DirectionClientToServer)
	require.Error(t, err)
}

func TestParseTCPFraming(t *testing.T) {
	msg := buildHeader(0x1234, false, 1, 0, 0)
	msg = append(msg, buildName("example.com")...)
	msg = append(msg, u16(1)...)
	msg = append(msg, u16(1)...)

	framed := append(u16(uint16(len(msg))), msg...)

	d := dnslog.NewDnsLog()
	err := d.Parse(framed, dnslog.ProtoTCP, dnslog.DirectionClientToServer)
	require.NoError(t, err)
	assert.Equal(t, "example.com", d.Info().QueryName)
}

func TestParseTCPFramingLengthMismatchErrors(t *testing.T) {
	msg := buildHeader(0x1234, false, 1, 0, 0)
	msg = append(msg, buildName("example.com")...)
	msg = append(msg, u16(1)...)
	msg = append(msg, u16(1)...)

	// Declare a length shorter than what's actually present.
	framed := append(u16(uint16(len(msg)-1)), msg...)

	d := dnslog.NewDnsLog()
	err := d.Parse(framed, dnslog.ProtoTCP, dnslog.DirectionClientToServer)
	require.Error(t, err)
}

func TestParseUnsupportedProtocolErrors(t *testing.T) {
	d := dnslog.NewDnsLog()
	err := d.Parse([]byte{1, 2, 3}, dnslog.Protocol(99), dnslog.DirectionClientToServer)
	require.Error(t, err)
}
