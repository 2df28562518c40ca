package pipeline_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func message(id, payload string) *messagepipeline.Message {
	return &messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: id, Payload: []byte(payload)},
	}
}

func TestRecordTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	binary := base64.StdEncoding.EncodeToString([]byte{0x01, 0xff})

	testCases := []struct {
		name        string
		payload     string
		expectError bool
		check       func(t *testing.T, rec *pipeline.Record)
	}{
		{
			name:    "Happy Path - String Token",
			payload: `{"backend":"capulet.lit/chat","recipient":"juliet@capulet.lit","token":"abc","payload":[{"key":"message-count","value":"2"},{"key":"last-message-sender","value":"romeo@montague.lit"}]}`,
			check: func(t *testing.T, rec *pipeline.Record) {
				assert.Equal(t, "capulet.lit/chat", rec.Backend)
				assert.Equal(t, push.Payload{
					{Key: "message-count", Value: "2"},
					{Key: "last-message-sender", Value: "romeo@montague.lit"},
				}, rec.Payload)
				token, err := rec.DeviceToken()
				require.NoError(t, err)
				assert.Equal(t, "abc", token)
			},
		},
		{
			name:    "Happy Path - Binary Token",
			payload: `{"backend":"capulet.lit/ios","recipient":"juliet@capulet.lit","binary_token":"` + binary + `"}`,
			check: func(t *testing.T, rec *pipeline.Record) {
				token, err := rec.DeviceToken()
				require.NoError(t, err)
				assert.Equal(t, "\x01\xff", token)
			},
		},
		{name: "Failure - Malformed JSON", payload: "not-json", expectError: true},
		{name: "Failure - Missing Backend", payload: `{"recipient":"r","token":"t"}`, expectError: true},
		{name: "Failure - Missing Recipient", payload: `{"backend":"b","token":"t"}`, expectError: true},
		{name: "Failure - Missing Token", payload: `{"backend":"b","recipient":"r"}`, expectError: true},
		{name: "Failure - Both Tokens", payload: `{"backend":"b","recipient":"r","token":"t","binary_token":"` + binary + `"}`, expectError: true},
		{name: "Failure - Bad Base64", payload: `{"backend":"b","recipient":"r","binary_token":"%%%"}`, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, skip, err := pipeline.RecordTransformer(ctx, message("msg-1", tc.payload))

			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, pipeline.ErrInvalidRecord)
				assert.True(t, skip)
				assert.Nil(t, rec)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			tc.check(t, rec)
		})
	}
}
