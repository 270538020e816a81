package verifier

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func servePage(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyMatchedPage(t *testing.T) {
	srv := servePage(t, `<!doctype html><html><head>
		<meta property="og:title" content="Viral dance challenge compilation">
		<meta property="og:description" content="Best dance moves of 2024">
		<title>ignored fallback</title>
		</head><body><h1>dance challenge</h1></body></html>`)

	v := New(5*time.Second, discardLogger())
	res := v.Verify(context.Background(), srv.URL, "Dance Challenge 2024", "viral dance compilation")

	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Err)
	}
	if !res.Matched {
		t.Errorf("expected match, title=%q text=%q", res.PageTitle, res.PageText)
	}
	if res.PageTitle != "Viral dance challenge compilation" {
		t.Errorf("expected og:title to win, got %q", res.PageTitle)
	}
}

func TestVerifyTitlePriority(t *testing.T) {
	srv := servePage(t, `<html><head>
		<meta name="twitter:title" content="Twitter Card Title">
		<title>Document Title</title>
		</head></html>`)

	v := New(5*time.Second, discardLogger())
	res := v.Verify(context.Background(), srv.URL, "", "")
	if res.PageTitle != "Twitter Card Title" {
		t.Errorf("expected twitter:title over <title>, got %q", res.PageTitle)
	}

	srv2 := servePage(t, `<html><head><title>Only Document Title</title></head></html>`)
	res = v.Verify(context.Background(), srv2.URL, "", "")
	if res.PageTitle != "Only Document Title" {
		t.Errorf("expected <title> fallback, got %q", res.PageTitle)
	}
}

func TestVerifyJSONLDContributes(t *testing.T) {
	srv := servePage(t, `<html><head>
		<script type="application/ld+json">{"name":"Cooking tutorial","description":"pasta from scratch"}</script>
		</head></html>`)

	v := New(5*time.Second, discardLogger())
	res := v.Verify(context.Background(), srv.URL, "cooking pasta tutorial", "")
	if !res.Success || !res.Matched {
		t.Errorf("expected JSON-LD text to produce a match, got %+v", res)
	}
}

func TestVerifyMismatch(t *testing.T) {
	srv := servePage(t, `<html><head>
		<meta property="og:title" content="Cat compilation">
		</head><body><p>cats being cats</p></body></html>`)

	v := New(5*time.Second, discardLogger())
	res := v.Verify(context.Background(), srv.URL, "Crypto trading masterclass", "learn candlestick strategies today")

	if !res.Success {
		t.Fatalf("expected fetch success, got %q", res.Err)
	}
	if res.Matched {
		t.Error("expected mismatch for unrelated content")
	}
}

func TestVerifyEmptyKeywordsAutoPass(t *testing.T) {
	srv := servePage(t, `<html><body><p>whatever</p></body></html>`)

	v := New(5*time.Second, discardLogger())
	res := v.Verify(context.Background(), srv.URL, "", "")
	if !res.Success || !res.Matched {
		t.Errorf("expected auto-pass with no keywords, got %+v", res)
	}
}

func TestVerifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	v := New(100*time.Millisecond, discardLogger())
	res := v.Verify(context.Background(), srv.URL, "title", "desc")

	if res.Success {
		t.Fatal("expected failure on timeout")
	}
	if res.Err != "timeout" {
		t.Errorf("expected error %q, got %q", "timeout", res.Err)
	}
}

func TestVerifyNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	v := New(5*time.Second, discardLogger())
	res := v.Verify(context.Background(), srv.URL, "title", "desc")

	if res.Success {
		t.Fatal("expected failure on 404")
	}
	if !strings.Contains(res.Err, "404") {
		t.Errorf("expected status in error, got %q", res.Err)
	}
}

func TestVerifyConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	v := New(time.Second, discardLogger())
	res := v.Verify(context.Background(), url, "title", "desc")
	if res.Success {
		t.Fatal("expected failure for refused connection")
	}
	if res.Err == "" {
		t.Error("expected error message")
	}
}
