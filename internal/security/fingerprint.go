package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// Fingerprint derives the device fingerprint that binds a session to a client.
//
// The hash covers the user agent and a coarse network prefix rather than the
// full address: carriers and corporate NATs rotate the low bits of client IPs
// mid-session, and a full-address binding would log those users out on every
// hop. IPv4 keeps the first three octets (/24), IPv6 the first four groups
// (/64, the standard end-site assignment).
func Fingerprint(userAgent, remoteIP string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + networkPrefix(remoteIP)))
	return hex.EncodeToString(sum[:])
}

func networkPrefix(remoteIP string) string {
	ip := net.ParseIP(strings.TrimSpace(remoteIP))
	if ip == nil {
		return remoteIP
	}

	if v4 := ip.To4(); v4 != nil {
		return (&net.IPNet{IP: v4.Mask(net.CIDRMask(24, 32)), Mask: net.CIDRMask(24, 32)}).IP.String()
	}

	return (&net.IPNet{IP: ip.Mask(net.CIDRMask(64, 128)), Mask: net.CIDRMask(64, 128)}).IP.String()
}
