package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSite(t *testing.T) string {
	t.Helper()
	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "data", "repositories", "acme"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(site, "repos.json"), []byte(`{"acme/widget": {}}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(site, "data", "repositories", "acme", "widget.json"), []byte(`{"slug": "widget"}`), 0644))
	return site
}

func TestRouter_ServesArchive(t *testing.T) {
	var logs bytes.Buffer
	srv := httptest.NewServer(NewRouter(newSite(t), zerolog.New(&logs).Level(zerolog.DebugLevel)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/data/repositories/acme/widget.json")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"slug": "widget"}`, string(body))
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	assert.Contains(t, logs.String(), `"status":200`)
	assert.Contains(t, logs.String(), `"url":"/data/repositories/acme/widget.json"`)
}

func TestRouter_MissingFileAndHealth(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newSite(t), zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/data/repositories/acme/missing.json")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServe_MissingSite(t *testing.T) {
	err := Serve(context.Background(), "127.0.0.1:0", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
