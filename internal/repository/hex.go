package repository

import (
	"encoding/hex"
	"strings"
)

func normalizeHex(input string) string {
	if input == "" {
		return ""
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(input), "0x"), "\\x")
	return trimmed
}

func hexToBytes(input string) []byte {
	normalized := normalizeHex(input)
	if normalized == "" {
		return nil
	}
	if len(normalized)%2 == 1 {
		normalized = "0" + normalized
	}
	out, err := hex.DecodeString(normalized)
	if err != nil {
		return nil
	}
	return out
}

// bytesToHex renders stored bytes as 0x-prefixed lowercase hex.
func bytesToHex(input []byte) string {
	if len(input) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(input)
}

func hexToBytesOrNull(input string) interface{} {
	b := hexToBytes(input)
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
