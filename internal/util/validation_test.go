package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTONAddress(t *testing.T) {
	valid := []string{
		"EQ" + strings.Repeat("A", 46),
		"UQ" + strings.Repeat("z", 45) + "-",
		"kQ" + strings.Repeat("9", 45) + "_",
		"0Q" + strings.Repeat("a", 46),
		"EQD4FPq-PRD4YtG87wgL7AErgQwHUMFQ-JxyYw8jzBPhqjfH",
	}
	for _, addr := range valid {
		assert.True(t, IsValidTONAddress(addr), "expected valid: %s", addr)
	}

	invalid := []string{
		"",
		"EQ",                            // too short
		"XX" + strings.Repeat("A", 46),  // unknown tag
		"eq" + strings.Repeat("A", 46),  // wrong case tag
		"EQ" + strings.Repeat("A", 45),  // 45 chars
		"EQ" + strings.Repeat("A", 47),  // 47 chars
		"EQ" + strings.Repeat("A", 44) + "+/", // non-url-safe base64
		"0:abcdef0123456789",            // raw form is not accepted here
	}
	for _, addr := range invalid {
		assert.False(t, IsValidTONAddress(addr), "expected invalid: %s", addr)
	}
}

func TestMaskAddress(t *testing.T) {
	t.Run("short strings pass through", func(t *testing.T) {
		assert.Equal(t, "EQabc", MaskAddress("EQabc"))
	})

	t.Run("long addresses are shortened", func(t *testing.T) {
		addr := "EQD4FPq-PRD4YtG87wgL7AErgQwHUMFQ-JxyYw8jzBPhqjfH"
		masked := MaskAddress(addr)
		assert.Equal(t, "EQD4FPq-...qjfH", masked)
		assert.Less(t, len(masked), len(addr))
	})
}
