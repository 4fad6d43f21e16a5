package dnslog

// Wire-format constants for the DNS message format this parser understands.
// Offsets are all relative to the start of the (UDP-framed) DNS message.
const (
	headerSize          = 12
	headerFlagsOffset   = 2
	headerQDCountOffset = 4
	headerANCountOffset = 6
	headerNSCountOffset = 8

	questionClassTypeSize = 4

	// rrPreambleSize is TYPE(2) + CLASS(2) + TTL(4) + RDLENGTH(2).
	rrPreambleSize     = 10
	rrDataLengthOffset = 8
	rrRDataOffset      = rrPreambleSize

	tcpPayloadOffset = 2

	nameTail               = 0x00
	nameCompressMask       = 0xC0
	nameCompressPointer    = 0xC0
	nameReservedBits01     = 0x40
	nameReservedBits10     = 0x80
	namePointerOffsetMask  = 0x3FFF
	dnsNameMaxSize         = 255
	domainNameSplit        = ','
	maxPointerHops         = 16

	dnsRequestFlag  = 0x00
	dnsResponseFlag = 0x80

	ipv4AddrLen = 4
	ipv6AddrLen = 16

	// wksMinLength is ADDRESS(4) + PROTOCOL(1), the minimum valid WKS rdata.
	wksMinLength = 5

	// ptrFixedLength is the RDLENGTH a PTR record's rdata is required to
	// have; the original consts module this was distilled from was not part
	// of the retrieval pack, so this is chosen to match a single fully
	// compressed pointer (the overwhelmingly common on-wire shape for PTR
	// answers) rather than left unconstrained.
	ptrFixedLength = 2
)
