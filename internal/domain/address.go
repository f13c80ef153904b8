package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// InvalidAddressReason distinguishes the two ways an address string can fail
// validation.
type InvalidAddressReason string

const (
	ReasonMalformed        InvalidAddressReason = "malformed"
	ReasonChecksumMismatch InvalidAddressReason = "checksum_mismatch"
)

type InvalidAddressError struct {
	Reason InvalidAddressReason
	Input  string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// Address is a validated 20-byte Ethereum address. Checksummed holds the
// canonical EIP-55 mixed-case form used in responses; Bytes is the raw value.
type Address struct {
	Bytes       [20]byte
	Checksummed string
}

// ParseAddress validates a raw address string. The input must be a 0x- or
// 0X-prefixed 40-hex-digit string. Single-case input (all lower or all upper)
// is accepted as unchecksummed and re-cased to the canonical EIP-55 form;
// mixed-case input must match the checksum casing exactly.
func ParseAddress(raw string) (Address, error) {
	if len(raw) != 42 || (raw[:2] != "0x" && raw[:2] != "0X") {
		return Address{}, &InvalidAddressError{Reason: ReasonMalformed, Input: raw}
	}
	payload := raw[2:]

	bytes, err := hex.DecodeString(payload)
	if err != nil {
		return Address{}, &InvalidAddressError{Reason: ReasonMalformed, Input: raw}
	}

	canonical := checksumCase(strings.ToLower(payload))
	if isMixedCase(payload) && payload != canonical {
		return Address{}, &InvalidAddressError{Reason: ReasonChecksumMismatch, Input: raw}
	}

	addr := Address{Checksummed: "0x" + canonical}
	copy(addr.Bytes[:], bytes)
	return addr, nil
}

// checksumCase applies EIP-55 casing to a lowercase 40-char hex payload: a
// digit is uppercased when the matching nibble of Keccak-256(payload) is >= 8,
// high nibble first per digest byte.
func checksumCase(lower string) string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte(lower))
	digest := hasher.Sum(nil)

	cased := []byte(lower)
	for i, c := range cased {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2] >> 4
		if i%2 == 1 {
			nibble = digest[i/2] & 0x0f
		}
		if nibble >= 8 {
			cased[i] = c - ('a' - 'A')
		}
	}
	return string(cased)
}

func isMixedCase(payload string) bool {
	hasLower := strings.ContainsAny(payload, "abcdef")
	hasUpper := strings.ContainsAny(payload, "ABCDEF")
	return hasLower && hasUpper
}
