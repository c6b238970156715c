package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func testClient(t *testing.T, baseURL string, maxFrame int) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:       baseURL,
		User:          "svc-test",
		MaxFrameBytes: maxFrame,
	}, zap.NewNop())
}

func streamServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseMode != ModeStreaming {
			t.Errorf("expected streaming mode, got %s", req.ResponseMode)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
		}
	}))
}

func TestRunStreaming_ReconstructsFinalOutputs(t *testing.T) {
	srv := streamServer(t,
		"data: {\"event\":\"text_chunk\",\"data\":{\"text\":\"Hi\"}}\n\n",
		"data: {\"event\":\"workflow_finished\",\"data\":{\"outputs\":{\"text\":\"Hi\",\"resultCode\":\"answered\"}}}\n\n",
	)
	defer srv.Close()

	out, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if out.Text() != "Hi" {
		t.Errorf("expected text %q, got %q", "Hi", out.Text())
	}
	if out.ResultCode() != "answered" {
		t.Errorf("expected resultCode answered, got %q", out.ResultCode())
	}
}

func TestRunStreaming_NodeFinishedMergesLastWriterWins(t *testing.T) {
	srv := streamServer(t,
		"data: {\"event\":\"node_finished\",\"data\":{\"outputs\":{\"text\":\"first\",\"resultCode\":\"answered\"}}}\n\n",
		"data: {\"event\":\"node_finished\",\"data\":{\"outputs\":{\"text\":\"second\"}}}\n\n",
	)
	defer srv.Close()

	out, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if out.Text() != "second" {
		t.Errorf("later node output should win, got %q", out.Text())
	}
	if out.ResultCode() != "answered" {
		t.Errorf("earlier key should survive merge, got %q", out.ResultCode())
	}
}

func TestRunStreaming_WorkflowFinishedReplacesWholesale(t *testing.T) {
	srv := streamServer(t,
		"data: {\"event\":\"node_finished\",\"data\":{\"outputs\":{\"text\":\"partial\",\"stale\":\"yes\"}}}\n\n",
		"data: {\"event\":\"workflow_finished\",\"data\":{\"outputs\":{\"text\":\"final\"}}}\n\n",
	)
	defer srv.Close()

	out, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if out.Text() != "final" {
		t.Errorf("expected final text, got %q", out.Text())
	}
	if _, ok := out["stale"]; ok {
		t.Error("workflow_finished should replace earlier outputs wholesale")
	}
}

func TestRunStreaming_MalformedFrameSkipped(t *testing.T) {
	srv := streamServer(t,
		"data: {not json}\n\n",
		"event: ignored-not-data-prefixed\n\n",
		"data: {\"event\":\"workflow_finished\",\"data\":{\"outputs\":{\"text\":\"ok\",\"resultCode\":\"answered\"}}}\n\n",
	)
	defer srv.Close()

	out, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("malformed frames must be non-fatal: %v", err)
	}
	if out.Text() != "ok" {
		t.Errorf("expected text ok, got %q", out.Text())
	}
}

func TestRunStreaming_TrailingFrameParsedBestEffort(t *testing.T) {
	// Final frame never gets its double-newline divider.
	srv := streamServer(t,
		"data: {\"event\":\"text_chunk\",\"data\":{\"text\":\"partial\"}}\n\n",
		"data: {\"event\":\"workflow_finished\",\"data\":{\"outputs\":{\"text\":\"done\"}}}",
	)
	defer srv.Close()

	out, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if out.Text() != "done" {
		t.Errorf("expected trailing frame outputs, got %q", out.Text())
	}
}

func TestRunStreaming_SynthesizesOutputsFromText(t *testing.T) {
	srv := streamServer(t,
		"data: {\"event\":\"text_chunk\",\"data\":{\"text\":\"Hello \"}}\n\n",
		"data: {\"event\":\"text_chunk\",\"data\":{\"text\":\"world\"}}\n\n",
	)
	defer srv.Close()

	out, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if out.Text() != "Hello world" {
		t.Errorf("expected synthesized text, got %q", out.Text())
	}
	if _, ok := out["resultCode"]; ok {
		t.Error("resultCode must be omitted when no node event carried one")
	}
}

func TestRunStreaming_EmptyResultError(t *testing.T) {
	srv := streamServer(t,
		"data: {\"event\":\"workflow_started\",\"data\":{}}\n\n",
	)
	defer srv.Close()

	_, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, nil)
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestRunStreaming_OverflowRetriesBlockingOnce(t *testing.T) {
	var requests []ResponseMode
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req.ResponseMode)

		if req.ResponseMode == ModeStreaming {
			// One oversized frame with no divider.
			_, _ = w.Write([]byte("data: " + strings.Repeat("x", 8192)))
			return
		}
		_, _ = fmt.Fprint(w, `{"data":{"outputs":{"text":"recovered","resultCode":"answered"}}}`)
	}))
	defer srv.Close()

	out, err := testClient(t, srv.URL, 4096).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if out.Text() != "recovered" {
		t.Errorf("expected blocking retry outputs, got %q", out.Text())
	}
	if len(requests) != 2 || requests[0] != ModeStreaming || requests[1] != ModeBlocking {
		t.Errorf("expected streaming then one blocking retry, got %v", requests)
	}
}

func TestRunStreaming_OverflowKeepsAccumulatedWhenRetryFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.ResponseMode == ModeStreaming {
			// Two complete frames, then an oversized frame with no divider.
			_, _ = w.Write([]byte("data: {\"event\":\"text_chunk\",\"data\":{\"text\":\"partial \"}}\n\n"))
			_, _ = w.Write([]byte("data: {\"event\":\"node_finished\",\"data\":{\"outputs\":{\"text\":\"partial answer\",\"resultCode\":\"answered\"}}}\n\n"))
			_, _ = w.Write([]byte("data: " + strings.Repeat("x", 8192)))
			return
		}
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	out, err := testClient(t, srv.URL, 4096).RunStreaming(context.Background(), "key", nil, nil)
	if err != nil {
		t.Fatalf("pre-overflow output should survive a failed retry: %v", err)
	}
	if out.Text() != "partial answer" {
		t.Errorf("expected outputs accumulated before the overflow, got %q", out.Text())
	}
	if out.ResultCode() != "answered" {
		t.Errorf("expected pre-overflow resultCode, got %q", out.ResultCode())
	}
}

func TestRunStreaming_ObserverSeesEvents(t *testing.T) {
	srv := streamServer(t,
		"data: {\"event\":\"text_chunk\",\"data\":{\"text\":\"Hi\"}}\n\n",
		"data: {\"event\":\"workflow_finished\",\"data\":{\"outputs\":{\"text\":\"Hi\"}}}\n\n",
	)
	defer srv.Close()

	var seen []string
	_, err := testClient(t, srv.URL, 0).RunStreaming(context.Background(), "key", nil, func(event string, _ json.RawMessage) {
		seen = append(seen, event)
	})
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if len(seen) != 2 || seen[0] != "text_chunk" || seen[1] != "workflow_finished" {
		t.Errorf("observer missed events: %v", seen)
	}
}

func TestRunBlocking_ParsesOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req runRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseMode != ModeBlocking {
			t.Errorf("expected blocking mode, got %s", req.ResponseMode)
		}
		_, _ = fmt.Fprint(w, `{"data":{"outputs":{"keywords":["a","b"]}}}`)
	}))
	defer srv.Close()

	out, err := testClient(t, srv.URL, 0).RunBlocking(context.Background(), "key", map[string]any{"q": "test"})
	if err != nil {
		t.Fatalf("RunBlocking: %v", err)
	}
	keywords := out.StringList("keywords")
	if len(keywords) != 2 || keywords[0] != "a" {
		t.Errorf("unexpected keywords %v", keywords)
	}
}

func TestRunBlocking_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL, 0).RunBlocking(context.Background(), "key", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", apiErr.StatusCode)
	}
}

func TestOutputs_StringListNormalizesScalar(t *testing.T) {
	out := Outputs{"hearingEmails": "solo@example.com"}
	got := out.StringList("hearingEmails")
	if len(got) != 1 || got[0] != "solo@example.com" {
		t.Errorf("scalar should normalize to single-element slice, got %v", got)
	}
	if got := (Outputs{}).StringList("hearingEmails"); got != nil {
		t.Errorf("missing key should return nil, got %v", got)
	}
}
