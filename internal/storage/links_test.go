package storage

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpm/internal/retry"
)

func gzipped(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zipped(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 2, Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 2}
}

func TestLinkFetcher_Fetch(t *testing.T) {
	gz := gzipped(t, "a,b\n1,2\n")
	zp := zipped(t, map[string]string{"inner/one.csv": "1", "two.csv": "2"})
	var flaky int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain.csv":
			_, _ = w.Write([]byte("x,y\n"))
		case "/data.csv.gz":
			_, _ = w.Write(gz)
		case "/bundle.zip":
			_, _ = w.Write(zp)
		case "/flaky.txt":
			flaky++
			if flaky == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	dst := NewMemoryStore()
	putString(t, dst, "landing", "old.csv", "stale")

	f := NewLinkFetcher(srv.Client(), fastRetry(), nil)
	report, err := f.Fetch(ctx, dst, []string{
		srv.URL + "/plain.csv",
		srv.URL + "/data.csv.gz",
		srv.URL + "/bundle.zip",
		srv.URL + "/flaky.txt",
		srv.URL + "/missing.csv",
	}, FetchOptions{Bucket: "landing", EraseExisting: true})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.Erased)
	sort.Strings(report.Uploaded)
	assert.Equal(t, []string{"bundle_one.csv", "bundle_two.csv", "data.csv", "flaky.txt", "plain.csv"}, report.Uploaded)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].URL, "missing.csv")

	data, err := ReadAll(ctx, dst, "landing", "data.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	ok, err := dst.Exists(ctx, "landing", "old.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLinkFetcher_Concurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	dst := NewMemoryStore()
	f := NewLinkFetcher(srv.Client(), fastRetry(), nil)
	report, err := f.Fetch(context.Background(), dst, []string{
		srv.URL + "/a.txt", srv.URL + "/b.txt", srv.URL + "/c.txt",
	}, FetchOptions{Bucket: "b", Prefix: "in/", Concurrency: 3})
	require.NoError(t, err)
	assert.Len(t, report.Uploaded, 3)
	assert.Empty(t, report.Failed)

	objs, err := dst.List(context.Background(), "b", "in/", true)
	require.NoError(t, err)
	assert.Len(t, objs, 3)
}

func TestLinkFetcher_Validation(t *testing.T) {
	f := NewLinkFetcher(nil, fastRetry(), nil)
	_, err := f.Fetch(context.Background(), NewMemoryStore(), []string{"http://x/a"}, FetchOptions{})
	require.Error(t, err)
	_, err = f.Fetch(context.Background(), NewMemoryStore(), []string{"file:///etc/passwd"}, FetchOptions{Bucket: "b"})
	require.Error(t, err)
}

func TestLinkFetcher_DuplicateNames(t *testing.T) {
	gz := gzipped(t, "from gz")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/z/data.csv.gz" {
			_, _ = w.Write(gz)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	ctx := context.Background()
	dst := NewMemoryStore()
	f := NewLinkFetcher(srv.Client(), fastRetry(), nil)
	report, err := f.Fetch(ctx, dst, []string{
		srv.URL + "/x/data.csv",
		srv.URL + "/y/data.csv",
		srv.URL + "/z/data.csv.gz",
	}, FetchOptions{Bucket: "b", Concurrency: 3})
	require.NoError(t, err)
	require.Empty(t, report.Failed)

	sort.Strings(report.Uploaded)
	assert.Equal(t, []string{"data.csv", "data_2.csv", "data_3.csv"}, report.Uploaded)

	for key, want := range map[string]string{
		"data.csv":   "/x/data.csv",
		"data_2.csv": "/y/data.csv",
		"data_3.csv": "from gz",
	} {
		got, err := ReadAll(ctx, dst, "b", key)
		require.NoError(t, err)
		assert.Equal(t, want, string(got), key)
	}
}

func TestLinkFileNames(t *testing.T) {
	names := linkFileNames([]string{
		"https://a.com/report",
		"https://b.com/report",
		"https://c.com/x/report_2",
		"https://d.com/bundle.zip",
		"https://e.com/bundle.zip",
	}, slog.Default())

	assert.Equal(t, []string{"report", "report_2", "report_2_2", "bundle.zip", "bundle_2.zip"}, names)
}
