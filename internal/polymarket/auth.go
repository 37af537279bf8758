package polymarket

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials is the L2 API key triplet used to sign trading requests.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Valid reports whether all three parts are present.
func (c Credentials) Valid() bool {
	return c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// l2Headers builds the HMAC-SHA256 auth headers for a trading request.
// message = timestamp + method + requestPath [+ body]
func (c Credentials) l2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	secretBytes, err := decodeSecret(c.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}
	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    c.APIKey,
		"POLY_PASSPHRASE": c.Passphrase,
	}, nil
}

// decodeSecret tries the base64 variants the API has been observed to issue.
func decodeSecret(secret string) ([]byte, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, dec := range decoders {
		b, err := dec.DecodeString(secret)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
