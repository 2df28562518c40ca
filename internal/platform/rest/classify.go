package rest

import (
	"encoding/json"
	"net/http"
)

// Outcome is how one delivery attempt resolved.
type Outcome int

const (
	Delivered Outcome = iota
	Retry
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Retry:
		return "retry"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Provider error codes that mean "try again later".
const (
	ErrorUnavailable         = "Unavailable"
	ErrorInternalServerError = "InternalServerError"
)

// Classify maps a provider response to an outcome. Each request addresses a
// single token, so only results[0] is inspected. The reason is for logging.
func Classify(status int, body []byte) (Outcome, string) {
	switch {
	case status == http.StatusOK:
		return classifyOK(body)
	case status >= 500 && status < 600:
		return Retry, "server error"
	default:
		return Permanent, "unexpected status"
	}
}

func classifyOK(body []byte) (Outcome, string) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return Permanent, "unparsable response"
	}

	failure := -1
	if raw, ok := root["failure"]; ok {
		// Only an integral count is accepted; 0.5 does not mean success.
		var n int
		if err := json.Unmarshal(raw, &n); err == nil {
			failure = n
		}
	}
	if failure == 0 {
		return Delivered, ""
	}
	if failure < 0 {
		return Permanent, "missing failure count"
	}

	var results any
	if raw, ok := root["results"]; ok {
		_ = json.Unmarshal(raw, &results)
	}
	arr, ok := results.([]any)
	if !ok {
		return Permanent, "results is not an array"
	}

	var code string
	if len(arr) > 0 {
		if first, ok := arr[0].(map[string]any); ok {
			code, _ = first["error"].(string)
		}
	}
	if code == ErrorUnavailable || code == ErrorInternalServerError {
		return Retry, code
	}
	if code == "" {
		return Permanent, "failure without error code"
	}
	return Permanent, code
}
