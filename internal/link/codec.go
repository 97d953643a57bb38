// Package link implements the opaque, URL-safe tokens which address a
// single media object inside a source channel. A token is the url-safe
// base64 encoding of "<channelID>_<messageID>" with padding stripped, so
// the links embedded in user-facing URLs stay compact.
package link

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedLink = errors.New("link token is malformed")

// Encode builds the opaque token for the given channel/message identity.
// The output is deterministic and reversible via Decode.
func Encode(channelID int64, messageID int64) string {
	raw := fmt.Sprintf("%d_%d", channelID, messageID)
	return strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(raw)), "=")
}

// Decode is the exact inverse of Encode. Any token which does not decode
// to the "<int>_<int>" shape is rejected with ErrMalformedLink; base64
// padding is restored before decoding as Encode strips it.
func Decode(token string) (int64, int64, error) {
	if token == "" {
		return 0, 0, ErrMalformedLink
	}

	if padding := len(token) % 4; padding != 0 {
		token += strings.Repeat("=", 4-padding)
	}

	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedLink, err)
	}

	channelRaw, messageRaw, found := strings.Cut(string(raw), "_")
	if !found {
		return 0, 0, ErrMalformedLink
	}

	channelID, err := strconv.ParseInt(channelRaw, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid channel ID: %v", ErrMalformedLink, err)
	}

	messageID, err := strconv.ParseInt(messageRaw, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid message ID: %v", ErrMalformedLink, err)
	}

	return channelID, messageID, nil
}
