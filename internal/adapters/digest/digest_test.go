package digest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Found(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/articles/00777", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"00777"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	body, found, err := client.Get(context.Background(), "00777")

	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"id":"00777"}`, string(body))
}

func TestGet_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, found, err := client.Get(context.Background(), "00777")

	require.NoError(t, err)
	assert.False(t, found)
}

func TestGet_UnexpectedStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, _, err := client.Get(context.Background(), "00777")
	assert.Error(t, err)
}

func TestPut_Upserts(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Put(context.Background(), "00777", []byte(`{"id":"00777"}`))

	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"00777"}`, string(gotBody))
}

func TestPut_UnexpectedStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.Put(context.Background(), "00777", []byte(`{}`))
	assert.Error(t, err)
}
