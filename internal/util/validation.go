package util

import (
	"regexp"
)

// tonAddressRegex matches user-friendly TON addresses: a two-character tag
// (mainnet/testnet x bounceable/non-bounceable) followed by 46 base64url
// characters encoding workchain, account id and checksum.
var tonAddressRegex = regexp.MustCompile(`^(EQ|UQ|kQ|0Q)[A-Za-z0-9_-]{46}$`)

func IsValidTONAddress(s string) bool {
	if s == "" {
		return false
	}
	return tonAddressRegex.MatchString(s)
}

// MaskAddress shortens an address for log output.
func MaskAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-4:]
}
