package rest_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tinywideclouds/go-push-relay/internal/platform/rest"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		want   rest.Outcome
	}{
		{"200 unparsable body", http.StatusOK, `not json`, rest.Permanent},
		{"200 non-object body", http.StatusOK, `[1,2]`, rest.Permanent},
		{"200 failure zero", http.StatusOK, `{"success":1,"failure":0}`, rest.Delivered},
		{"200 failure missing", http.StatusOK, `{"success":1}`, rest.Permanent},
		{"200 failure negative", http.StatusOK, `{"failure":-2}`, rest.Permanent},
		{"200 failure not a number", http.StatusOK, `{"failure":"1"}`, rest.Permanent},
		{"200 failure fractional", http.StatusOK, `{"failure":0.5}`, rest.Permanent},
		{"200 failure fractional above one", http.StatusOK, `{"failure":1.5,"results":[{"error":"Unavailable"}]}`, rest.Permanent},
		{"200 results missing", http.StatusOK, `{"failure":1}`, rest.Permanent},
		{"200 results not array", http.StatusOK, `{"failure":1,"results":{"error":"Unavailable"}}`, rest.Permanent},
		{"200 results null", http.StatusOK, `{"failure":1,"results":null}`, rest.Permanent},
		{"200 Unavailable", http.StatusOK, `{"failure":1,"results":[{"error":"Unavailable"}]}`, rest.Retry},
		{"200 InternalServerError", http.StatusOK, `{"failure":1,"results":[{"error":"InternalServerError"}]}`, rest.Retry},
		{"200 NotRegistered", http.StatusOK, `{"failure":1,"results":[{"error":"NotRegistered"}]}`, rest.Permanent},
		{"200 empty results", http.StatusOK, `{"failure":1,"results":[]}`, rest.Permanent},
		{"200 only first result counts", http.StatusOK, `{"failure":1,"results":[{"error":"InvalidRegistration"},{"error":"Unavailable"}]}`, rest.Permanent},
		{"500", http.StatusInternalServerError, ``, rest.Retry},
		{"503", http.StatusServiceUnavailable, `busy`, rest.Retry},
		{"599", 599, ``, rest.Retry},
		{"400", http.StatusBadRequest, `{"failure":0}`, rest.Permanent},
		{"401", http.StatusUnauthorized, ``, rest.Permanent},
		{"201", http.StatusCreated, `{"failure":0}`, rest.Permanent},
		{"600", 600, ``, rest.Permanent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := rest.Classify(tc.status, []byte(tc.body))
			assert.Equal(t, tc.want, got, "got %s", got)
		})
	}
}
