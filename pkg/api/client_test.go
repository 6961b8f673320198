package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/groupchat/pkg/model"
)

var ctx = context.Background()

func TestClient_FetchMessages(t *testing.T) {
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("history", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/messages", r.URL.Path)
			assert.NotEmpty(t, r.Header.Get(requestIDHeader))
			_ = json.NewEncoder(w).Encode([]model.Message{{ID: "1", From: "bob", Text: "hi", CreatedAt: t0}})
		}))
		defer ts.Close()

		msgs, err := New(ts.URL + "/").FetchMessages(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, model.Message{ID: "1", From: "bob", Text: "hi", CreatedAt: t0}, msgs[0])
	})

	t.Run("null body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("null"))
		}))
		defer ts.Close()

		msgs, err := New(ts.URL).FetchMessages(ctx)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("server error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		_, err := New(ts.URL).FetchMessages(ctx)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.Code)
	})
}

func TestClient_Upload(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/upload", r.URL.Path)
			f, hdr, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			b, _ := io.ReadAll(f)
			assert.Equal(t, "cat.png", hdr.Filename)
			assert.Equal(t, "pixels", string(b))
			_ = json.NewEncoder(w).Encode(model.UploadResponse{URL: "https://cdn/cat.png"})
		}))
		defer ts.Close()

		u, err := New(ts.URL).Upload(ctx, "cat.png", strings.NewReader("pixels"))
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/cat.png", u)
	})

	t.Run("error body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			_ = json.NewEncoder(w).Encode(model.UploadResponse{Error: "too big"})
		}))
		defer ts.Close()

		_, err := New(ts.URL).Upload(ctx, "big.bin", strings.NewReader("x"))
		require.Error(t, err)
		assert.Equal(t, "too big", err.Error())
	})

	t.Run("error without body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer ts.Close()

		_, err := New(ts.URL).Upload(ctx, "a", strings.NewReader("x"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upload failed")
	})
}

func TestClient_DeleteMessage(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.Path
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := New(ts.URL)
	require.NoError(t, c.DeleteMessage(ctx, "abc"))
	assert.Equal(t, "/api/messages/abc", gotPath)
	assert.Error(t, c.DeleteMessage(ctx, "missing"))
}

func TestClient_RegisterToken(t *testing.T) {
	var got model.TokenRegistration
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/token", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer ts.Close()

	require.NoError(t, New(ts.URL).RegisterToken(ctx, "alice", "tok-1"))
	assert.Equal(t, model.TokenRegistration{Email: "alice", Token: "tok-1"}, got)
}
