package crawlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticHeaders 固定头部提供者
type staticHeaders http.Header

func (h staticHeaders) GetHeaders() (http.Header, error) {
	return http.Header(h), nil
}

func newTestFetcher(t *testing.T, apiBase string, headers http.Header) *HTTPFetcher {
	t.Helper()
	fetcher, err := NewHTTPFetcher(FetcherConfig{
		APIBaseURL: apiBase,
		Timeout:    5 * time.Second,
		RetryDelay: 10 * time.Millisecond,
	}, staticHeaders(headers))
	require.NoError(t, err)
	return fetcher
}

func TestHTTPFetcher_RetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, server.URL+"/2.0/", nil)
	result, err := fetcher.Fetch(context.Background(), server.URL+"/2.0/repositories/acme/widget")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"ok": true}`, string(result.Body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPFetcher_ReturnsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t, server.URL+"/2.0/", nil)
	result, err := fetcher.Fetch(context.Background(), server.URL+"/2.0/repositories/acme/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
}

func TestHTTPFetcher_AuthorizationOnlyForAPIHost(t *testing.T) {
	var apiAuth, assetAuth atomic.Value
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiAuth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer apiServer.Close()
	assetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetAuth.Store(r.Header.Get("Authorization") + "|" + r.Header.Get("User-Agent"))
		w.Write([]byte("binary"))
	}))
	defer assetServer.Close()

	headers := http.Header{}
	headers.Set("Authorization", "Basic dXNlcjpwYXNz")
	headers.Set("User-Agent", "bbarchive-test")

	fetcher := newTestFetcher(t, apiServer.URL+"/2.0/", headers)

	_, err := fetcher.Fetch(context.Background(), apiServer.URL+"/2.0/repositories/acme/widget")
	require.NoError(t, err)
	_, err = fetcher.Fetch(context.Background(), assetServer.URL+"/avatar/abc")
	require.NoError(t, err)

	assert.Equal(t, "Basic dXNlcjpwYXNz", apiAuth.Load())
	assert.Equal(t, "|bbarchive-test", assetAuth.Load())
}

func TestHTTPFetcher_CancelStopsRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(FetcherConfig{
		APIBaseURL: server.URL + "/2.0/",
		Timeout:    5 * time.Second,
		RetryDelay: time.Hour,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = fetcher.Fetch(ctx, server.URL+"/2.0/repositories/acme/widget")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHTTPFetcher_PermanentErrorsReturnImmediately(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	tests := []struct {
		name   string
		rawURL string
	}{
		{"连接被拒绝", closedURL + "/avatar.png"},
		{"不支持的协议", "ftp://example.org/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher, err := NewHTTPFetcher(FetcherConfig{
				APIBaseURL: "https://api.example.org/2.0/",
				Timeout:    2 * time.Second,
				RetryDelay: time.Hour,
			}, nil)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			result, err := fetcher.Fetch(ctx, tt.rawURL)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.False(t, errors.Is(err, context.DeadlineExceeded), "不可恢复的错误不应重试到超时: %v", err)
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"连接重置", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, true},
		{"连接中断", io.ErrUnexpectedEOF, true},
		{"TLS告警", tls.AlertError(40), true},
		{"超时", &net.DNSError{Err: "i/o timeout", Name: "api.example.org", IsTimeout: true}, true},
		{"域名不存在", &net.DNSError{Err: "no such host", Name: "bytebucket.invalid", IsNotFound: true}, false},
		{"连接被拒绝", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, false},
		{"上下文取消", context.Canceled, false},
		{"其他错误", errors.New("unsupported protocol scheme"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestDecompressResponse(t *testing.T) {
	var compressed bytes.Buffer
	writer := brotli.NewWriter(&compressed)
	_, err := writer.Write([]byte(`{"compressed": "br"}`))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
		expected string
	}{
		{name: "brotli", encoding: "br", body: compressed.Bytes(), expected: `{"compressed": "br"}`},
		{name: "已解压的gzip", encoding: "gzip", body: []byte(`{"plain": true}`), expected: `{"plain": true}`},
		{name: "无编码", encoding: "", body: []byte("raw"), expected: "raw"},
		{name: "未知编码原样返回", encoding: "zstd", body: []byte("raw"), expected: "raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := decompressResponse(tt.encoding, tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(decoded))
		})
	}
}
