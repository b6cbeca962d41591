package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factoid-api/internal/apierror"
)

func TestListFollowsCursor(t *testing.T) {
	pages := map[string]Page{
		"": {Items: []Factoid{{Topic: "go", ID: "1", Title: "one"}}, Count: 1, Cursor: "c1"},
		"c1": {Items: []Factoid{{Topic: "go", ID: "2"}, {Topic: "go", ID: "3", Body: "three"}}, Count: 2},
	}

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/factoids/go", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		page, ok := pages[r.URL.Query().Get("cursor")]
		require.True(t, ok)
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})

	page, err := c.List(context.Background(), "go", "")
	require.NoError(t, err)
	assert.Equal(t, "c1", page.Cursor)
	assert.Len(t, page.Items, 1)

	all, err := c.ListAll(context.Background(), "go")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	valid, err := c.ListValid(context.Background(), "go")
	require.NoError(t, err)
	require.Len(t, valid, 2)
	assert.Equal(t, "1", valid[0].ID)
	assert.Equal(t, "3", valid[1].ID)
	assert.Equal(t, 5, calls)
}

func TestAdd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/factoids/go%20lang", r.URL.EscapedPath())
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, map[string]any{"title": "Defer runs LIFO"}, in)

		in["topic"], in["id"] = "go lang", "abc"
		_ = json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	f, err := c.Add(context.Background(), "go lang", Factoid{ID: "ignored", Title: "Defer runs LIFO"})
	require.NoError(t, err)
	assert.Equal(t, &Factoid{Topic: "go lang", ID: "abc", Title: "Defer runs LIFO"}, f)
}

func TestSignedRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKID/"), auth)
		assert.Contains(t, auth, "/eu-west-1/execute-api/aws4_request")
		assert.NotEmpty(t, r.Header.Get("X-Amz-Date"))
		assert.Equal(t, "SESSION", r.Header.Get("X-Amz-Security-Token"))

		// the body must survive signing
		body, _ := io.ReadAll(r.Body)
		if r.Method == http.MethodPost {
			assert.JSONEq(t, `{"body":"signed"}`, string(body))
			_, _ = w.Write([]byte(`{"topic":"go","id":"1","body":"signed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[],"count":0}`))
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:     srv.URL,
		Region:      "eu-west-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", "SESSION"),
	})

	_, err := c.List(context.Background(), "go", "")
	require.NoError(t, err)

	f, err := c.Add(context.Background(), "go", Factoid{Body: "signed"})
	require.NoError(t, err)
	assert.Equal(t, "signed", f.Body)
}

func TestHTTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"json message", http.StatusBadRequest, `{"status":400,"message":"Invalid cursor"}`, "Invalid cursor"},
		{"plain text", http.StatusForbidden, "nope\n", "nope"},
		{"empty body", http.StatusServiceUnavailable, "", "Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).ListAll(context.Background(), "go")
			require.Error(t, err)

			var statusErr *apierror.StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.Code)
			assert.Equal(t, tt.message, statusErr.Message)
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).List(context.Background(), "go", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list request")
}
