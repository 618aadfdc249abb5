package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	var gotBody, gotUpsert, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/generation-outputs/u1/gen-1/0.png", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		gotUpsert = r.Header.Get("x-upsert")
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "service-key")
	err := s.Upload(context.Background(), "generation-outputs", "u1/gen-1/0.png",
		strings.NewReader("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", gotBody)
	assert.Equal(t, "true", gotUpsert)
	assert.Equal(t, "image/png", gotContentType)
}

func TestCopyFromURL(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("provider-bytes"))
	}))
	defer origin.Close()

	var uploaded string
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		uploaded = string(b)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer store.Close()

	s := NewSupabaseStorage(store.URL, "service-key")
	url, err := s.CopyFromURL(context.Background(), origin.URL+"/img.png", "generation-outputs", "u1/gen-1/0.png")
	require.NoError(t, err)
	assert.Equal(t, "provider-bytes", uploaded)
	assert.Equal(t, store.URL+"/storage/v1/object/public/generation-outputs/u1/gen-1/0.png", url)
}

func TestCopyFromURLSourceFailure(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	s := NewSupabaseStorage("http://unused.invalid", "service-key")
	_, err := s.CopyFromURL(context.Background(), origin.URL+"/gone.png", "generation-outputs", "p")
	assert.Error(t, err)
}

func TestUploadFailureSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"bucket not found"}`))
	}))
	defer srv.Close()

	s := NewSupabaseStorage(srv.URL, "service-key")
	err := s.Upload(context.Background(), "missing", "p", strings.NewReader("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket not found")
}

func TestGetPublicURL(t *testing.T) {
	s := NewSupabaseStorage("https://proj.supabase.co", "k")
	assert.Equal(t,
		"https://proj.supabase.co/storage/v1/object/public/generation-outputs/a/b.png",
		s.GetPublicURL("generation-outputs", "a/b.png"),
	)
}
