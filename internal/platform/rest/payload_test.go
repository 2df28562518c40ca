package rest_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/platform/rest"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func TestCoerceValue(t *testing.T) {
	testCases := []struct {
		in   string
		want any
	}{
		{"123", uint32(123)},
		{"0", uint32(0)},
		{"4294967295", uint32(4294967295)},
		{"4294967296", "4294967296"},
		{"12a", "12a"},
		{"", ""},
		{"-1", "-1"},
		{"hello", "hello"},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, rest.CoerceValue(tc.in))
		})
	}
}

func TestData_MarshalJSON(t *testing.T) {
	data := rest.Data{
		{Key: "message-count", Value: "3"},
		{Key: "last-message-sender", Value: "juliet@capulet.lit"},
		{Key: "big", Value: "4294967296"},
	}

	out, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Equal(t, `{"message-count":3,"last-message-sender":"juliet@capulet.lit","big":"4294967296"}`, string(out))

	dup, err := json.Marshal(rest.Data{
		{Key: "message-count", Value: "1"},
		{Key: "sender", Value: "romeo"},
		{Key: "message-count", Value: "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"message-count":2,"sender":"romeo"}`, string(dup), "a repeated key keeps its last value")

	empty, err := json.Marshal(rest.Data(nil))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}

func TestBuildPayload(t *testing.T) {
	t.Run("Within limit", func(t *testing.T) {
		body, silent, err := rest.BuildPayload("device-token", push.Payload{{Key: "n", Value: "7"}}, rest.MaxPayloadSize)
		require.NoError(t, err)
		assert.False(t, silent)
		assert.JSONEq(t, `{"to":"device-token","expiry_time":86400,"data":{"n":7}}`, string(body))
	})

	t.Run("Oversized falls back to silent push", func(t *testing.T) {
		huge := push.Payload{{Key: "last-message-body", Value: strings.Repeat("x", rest.MaxPayloadSize)}}

		body, silent, err := rest.BuildPayload("device-token", huge, rest.MaxPayloadSize)
		require.NoError(t, err)
		assert.True(t, silent)
		assert.LessOrEqual(t, len(body), rest.MaxPayloadSize)
		assert.JSONEq(t, `{"to":"device-token","expiry_time":86400,"data":{}}`, string(body))
	})
}
