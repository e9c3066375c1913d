package transport

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/golang-jwt/jwt/v5"
)

// NewJWTAuth returns an rpc.HTTPAuth that signs a fresh HS256 token with an
// "iat" claim for every request, as required by authenticated (engine) endpoints.
func NewJWTAuth(secret []byte) rpc.HTTPAuth {
	return func(h http.Header) error {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iat": time.Now().Unix(),
		})
		signed, err := token.SignedString(secret)
		if err != nil {
			return fmt.Errorf("failed to sign jwt: %w", err)
		}
		h.Set("Authorization", "Bearer "+signed)
		return nil
	}
}

// ParseJWTSecret decodes a 32-byte hex secret, with or without 0x prefix.
func ParseJWTSecret(raw string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt secret: %w", err)
	}
	if len(secret) != 32 {
		return nil, fmt.Errorf("invalid jwt secret length %d, want 32", len(secret))
	}
	return secret, nil
}

// LoadJWTSecret reads a jwt.hex file as written by execution clients.
func LoadJWTSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jwt secret file: %w", err)
	}
	return ParseJWTSecret(string(data))
}
