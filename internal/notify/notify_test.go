package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	header http.Header
	body   map[string]any
	method string
}

func relay(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.header = r.Header.Clone()
		got.method = r.Method
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got.body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestSendSignsAndPosts(t *testing.T) {
	srv, got := relay(t, http.StatusOK, `{"status":"sent"}`)

	s := New("AKIDEXAMPLE", "secret", WithEndpoint(srv.URL), WithClock(fixedClock))
	resp := s.Send(context.Background(), Message{
		Subject:    "S",
		Body:       "B",
		Email:      "e@x.com",
		Name:       "N",
		Occupation: "O",
	})

	assert.Equal(t, Response{"status": "sent"}, resp)
	assert.Empty(t, resp.ErrorMessage())

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "20240501T120000Z", got.header.Get("X-Amz-Date"))
	auth := got.header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240501/us-east-1/lambda/aws4_request"), auth)
	assert.Contains(t, auth, "SignedHeaders=")
	assert.Contains(t, auth, "Signature=")

	assert.Equal(t, map[string]any{
		"subject":    "S",
		"body":       "B",
		"email":      "e@x.com",
		"name":       "N",
		"occupation": "O",
	}, got.body)
	_, hasPhone := got.body["phone_number"]
	assert.False(t, hasPhone)
}

func TestSendIncludesPhoneNumber(t *testing.T) {
	srv, got := relay(t, http.StatusOK, `{}`)

	s := New("AKID", "secret", WithEndpoint(srv.URL))
	s.Send(context.Background(), Message{Subject: "S", Body: "B", Email: "e", Name: "N", Occupation: "O", PhoneNumber: "555-0100"})

	assert.Equal(t, "555-0100", got.body["phone_number"])
}

func TestSendCustomScope(t *testing.T) {
	srv, got := relay(t, http.StatusOK, `{}`)

	s := New("AKID", "secret", WithEndpoint(srv.URL), WithScope("execute-api", "eu-west-1"), WithClock(fixedClock))
	s.Send(context.Background(), Message{Subject: "S"})

	assert.Contains(t, got.header.Get("Authorization"), "/20240501/eu-west-1/execute-api/aws4_request")
}

func TestSendHTTPErrorBecomesErrorResponse(t *testing.T) {
	srv, _ := relay(t, http.StatusForbidden, `{"message":"Forbidden"}`)

	resp := New("AKID", "bad", WithEndpoint(srv.URL)).Send(context.Background(), Message{Subject: "S"})
	require.Contains(t, resp, "error")
	assert.Contains(t, resp.ErrorMessage(), "403")
}

func TestSendTransportErrorBecomesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	resp := New("AKID", "secret", WithEndpoint(url)).Send(context.Background(), Message{Subject: "S"})
	assert.NotEmpty(t, resp.ErrorMessage())
	assert.Len(t, resp, 1)
}

func TestSendNonJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resp := New("AKID", "secret", WithEndpoint(srv.URL)).Send(context.Background(), Message{})
	assert.Contains(t, resp.ErrorMessage(), "decode response")
}

func TestResponseIsNotAnError(t *testing.T) {
	var v any = Response{"status": "sent"}

	_, isErr := v.(error)
	assert.False(t, isErr)
	assert.Equal(t, "map[status:sent]", fmt.Sprint(v))
	assert.Equal(t, "denied", Response{"error": "denied"}.ErrorMessage())
	assert.Empty(t, Response(nil).ErrorMessage())
}
