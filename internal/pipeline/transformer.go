// Package pipeline turns ingested push records into notifications on the right
// backend, and carries unsubscribe signals back out to the XMPP side.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

var ErrInvalidRecord = errors.New("invalid push record")

// Record is one push request published by the XMPP component. Exactly one of
// Token and BinaryToken is set; BinaryToken carries raw device tokens (APNs)
// base64 encoded.
type Record struct {
	Backend     string       `json:"backend"`
	Recipient   string       `json:"recipient"`
	Token       string       `json:"token,omitempty"`
	BinaryToken string       `json:"binary_token,omitempty"`
	Payload     push.Payload `json:"payload"`
}

// DeviceToken returns the token in the form the backend expects.
func (r *Record) DeviceToken() (string, error) {
	if r.BinaryToken == "" {
		return r.Token, nil
	}
	raw, err := base64.StdEncoding.DecodeString(r.BinaryToken)
	if err != nil {
		return "", fmt.Errorf("%w: binary_token is not base64: %v", ErrInvalidRecord, err)
	}
	return string(raw), nil
}

func (r *Record) validate() error {
	switch {
	case r.Backend == "":
		return fmt.Errorf("%w: backend is required", ErrInvalidRecord)
	case r.Recipient == "":
		return fmt.Errorf("%w: recipient is required", ErrInvalidRecord)
	case r.Token == "" && r.BinaryToken == "":
		return fmt.Errorf("%w: one of token or binary_token is required", ErrInvalidRecord)
	case r.Token != "" && r.BinaryToken != "":
		return fmt.Errorf("%w: token and binary_token are mutually exclusive", ErrInvalidRecord)
	}
	if _, err := r.DeviceToken(); err != nil {
		return err
	}
	return nil
}

// RecordTransformer decodes and validates a raw message payload. Any failure
// sets skip so the StreamingService applies its Nack/DLQ handling.
func RecordTransformer(_ context.Context, msg *messagepipeline.Message) (*Record, bool, error) {
	var rec Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return nil, true, fmt.Errorf("%w: failed to unmarshal message %s: %v", ErrInvalidRecord, msg.ID, err)
	}
	if err := rec.validate(); err != nil {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	return &rec, false, nil
}
