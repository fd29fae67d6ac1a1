package light

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jbeaumont/fetchd/internal/fetch"
)

func TestFetchWithSessionReplaysArtifact(t *testing.T) {
	t.Parallel()

	var gotCookie, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title> Product Page </title></head><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	cookies := []fetch.Cookie{
		{Name: "cf_clearance", Value: "tok"},
		{Name: "session", Value: "abc"},
	}
	content, err := f.FetchWithSession(context.Background(), srv.URL, cookies, "solver-agent/1.0")
	require.NoError(t, err)

	require.Equal(t, "cf_clearance=tok; session=abc", gotCookie)
	require.Equal(t, "solver-agent/1.0", gotAgent)
	require.Equal(t, http.StatusOK, content.StatusCode)
	require.Contains(t, content.HTML, "ok")
	require.Equal(t, "Product Page", content.Title)
}

func TestFetchWithSessionNoCookies(t *testing.T) {
	t.Parallel()

	var sawCookieHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawCookieHeader = r.Header["Cookie"]
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "fallback-agent"})
	_, err := f.FetchWithSession(context.Background(), srv.URL, nil, "")
	require.NoError(t, err)
	require.False(t, sawCookieHeader)
}

func TestFetchWithSessionHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "go away", http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.FetchWithSession(context.Background(), srv.URL, nil, "")
	require.Error(t, err)
}

func TestFetchWithSessionContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 10 * time.Second})
	_, err := f.FetchWithSession(ctx, srv.URL, nil, "")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Hello", extractTitle("<html><head><title>Hello</title></head></html>"))
	require.Equal(t, "", extractTitle("<html><body>no title</body></html>"))
	require.Equal(t, "", extractTitle(""))
}
