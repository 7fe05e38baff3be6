package relay

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	uriScheme     = "wc:"
	uriVersion    = "2"
	relayProtocol = "walletgate"
	symKeySize    = 32
	topicSize     = 32
)

var ErrInvalidURI = errors.New("invalid pairing uri")

// URI is the out-of-band pairing payload a dapp shows as a QR code or link
type URI struct {
	Topic    string
	SymKey   []byte
	RelayURL string
}

// NewURI creates a pairing with a fresh topic and symmetric key
func NewURI(relayURL string) (URI, error) {
	topic := make([]byte, topicSize)
	if _, err := rand.Read(topic); err != nil {
		return URI{}, fmt.Errorf("failed to generate topic: %w", err)
	}
	key := make([]byte, symKeySize)
	if _, err := rand.Read(key); err != nil {
		return URI{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return URI{Topic: hex.EncodeToString(topic), SymKey: key, RelayURL: relayURL}, nil
}

func (u URI) String() string {
	q := url.Values{}
	q.Set("relay-protocol", relayProtocol)
	q.Set("relay-url", u.RelayURL)
	q.Set("symKey", hex.EncodeToString(u.SymKey))
	return uriScheme + u.Topic + "@" + uriVersion + "?" + q.Encode()
}

// ParseURI parses a pairing uri produced by URI.String
func ParseURI(s string) (URI, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), uriScheme)
	if !ok {
		return URI{}, fmt.Errorf("%w: missing %q scheme", ErrInvalidURI, uriScheme)
	}
	path, rawQuery, _ := strings.Cut(rest, "?")
	topic, version, ok := strings.Cut(path, "@")
	if !ok || topic == "" {
		return URI{}, fmt.Errorf("%w: missing topic", ErrInvalidURI)
	}
	if version != uriVersion {
		return URI{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidURI, version)
	}

	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	key, err := hex.DecodeString(q.Get("symKey"))
	if err != nil || len(key) != symKeySize {
		return URI{}, fmt.Errorf("%w: symKey must be %d hex bytes", ErrInvalidURI, symKeySize)
	}
	relayURL := q.Get("relay-url")
	if relayURL == "" {
		return URI{}, fmt.Errorf("%w: missing relay-url", ErrInvalidURI)
	}

	return URI{Topic: topic, SymKey: key, RelayURL: relayURL}, nil
}
