package dnslog

import "net"

// formatIP renders a raw 4- or 16-byte address as its canonical text form.
func formatIP(raw []byte) string {
	return net.IP(raw).String()
}
