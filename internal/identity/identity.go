// Package identity derives the STB device fingerprint a Ministra/Stalker portal
// expects from a MAC-form device address. The portal recomputes the same digests
// server-side and compares, so the algorithms here must match exactly.
package identity

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SerialLength is the number of leading hex chars of the serial digest used as
// the device serial number ("sn" query parameter / cookie).
const SerialLength = 13

// Identity is the derived device fingerprint. All fields are uppercase hex.
type Identity struct {
	SerialDigest string // MD5 of the uppercased address (32 chars)
	SerialNumber string // first SerialLength chars of SerialDigest
	DeviceID     string // SHA-256 of the uppercased address (64 chars)
	DeviceID2    string // SHA-256 of SerialNumber (64 chars)
	Signature    string // SHA-256 of SerialNumber + uppercased address (64 chars)
}

// Derive computes the fingerprint for address. Pure and total: the same address
// always yields the same Identity, and there is no failure mode. The address is
// uppercased before hashing, matching the portal's convention.
func Derive(address string) Identity {
	addr := strings.ToUpper(strings.TrimSpace(address))

	serialDigest := hexUpperMD5(addr)
	sn := serialDigest[:SerialLength]

	return Identity{
		SerialDigest: serialDigest,
		SerialNumber: sn,
		DeviceID:     hexUpperSHA256(addr),
		DeviceID2:    hexUpperSHA256(sn),
		Signature:    hexUpperSHA256(sn + addr),
	}
}

func hexUpperMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func hexUpperSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
