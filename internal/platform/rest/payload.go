// Package rest implements the JSON-over-HTTPS push backends: the FCM legacy
// endpoint and the generic HTTP relay. Both share the request encoding and the
// response classification; they differ only in endpoint, auth header and TLS
// peer verification.
package rest

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// MaxPayloadSize is the largest serialized request body the providers accept.
const MaxPayloadSize = 4096

// Data encodes a payload as a JSON object preserving field order. Values that
// are entirely an unsigned integer fitting 32 bits become JSON numbers, all
// other values stay strings. A repeated key is written once, with its last value.
type Data push.Payload

func (d Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range push.Payload(d).Collapse() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(CoerceValue(f.Value))
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CoerceValue returns a uint32 for values like "0" or "4294967295" and the
// string itself for anything else, including "", "12a" and "4294967296".
func CoerceValue(s string) any {
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v)
	}
	return s
}

type requestBody struct {
	To         string `json:"to"`
	ExpiryTime int64  `json:"expiry_time"`
	Data       Data   `json:"data"`
}

// BuildPayload serializes the request body for one token. If the body would
// exceed maxSize it is rebuilt with empty data (a silent push) and silent is true.
func BuildPayload(token string, payload push.Payload, maxSize int) (body []byte, silent bool, err error) {
	req := requestBody{
		To:         token,
		ExpiryTime: int64(push.NotificationExpireTime.Seconds()),
		Data:       Data(payload),
	}
	body, err = json.Marshal(req)
	if err != nil {
		return nil, false, err
	}
	if len(body) <= maxSize {
		return body, false, nil
	}

	req.Data = Data{}
	body, err = json.Marshal(req)
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}
