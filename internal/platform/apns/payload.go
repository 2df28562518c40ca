// Package apns implements the Apple push backend: a persistent
// certificate-authenticated provider session, hex device tokens and a
// size-capped payload with a silent fallback.
package apns

import (
	"encoding/hex"
	"encoding/json"

	"github.com/sideshow/apns2/payload"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// MaxPayloadSize is the provider API limit for a notification payload.
const MaxPayloadSize = 4096

// HexToken renders a raw binary device token the way the provider expects it.
func HexToken(binaryToken string) string {
	return hex.EncodeToString([]byte(binaryToken))
}

// BuildPayload renders the payload fields as custom keys next to a
// content-available aps dictionary. If the result would exceed maxSize, the
// empty payload {"aps":{}} is returned instead and silent is true.
func BuildPayload(fields push.Payload, maxSize int) (body []byte, silent bool) {
	p := payload.NewPayload().ContentAvailable()
	for _, f := range fields {
		p.Custom(f.Key, f.Value)
	}

	body, err := json.Marshal(p)
	if err == nil && len(body) <= maxSize {
		return body, false
	}

	body, _ = json.Marshal(payload.NewPayload())
	return body, true
}
