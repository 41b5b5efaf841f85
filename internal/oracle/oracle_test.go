package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// chatServer returns a test server that answers every chat request with the
// given content, plus a pointer to the request count.
func chatServer(t *testing.T, content string) (*httptest.Server, *int) {
	t.Helper()
	calls := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func testOracle(url string) *Oracle {
	o := New(url, "test-model", "ORACLE_TEST_KEY", 256, 280)
	o.apiKey = "test-key"
	o.sleep = func(time.Duration) {}
	return o
}

func TestScoreRelevance(t *testing.T) {
	srv, _ := chatServer(t, "0.85")
	o := testOracle(srv.URL)

	score := o.ScoreRelevance(context.Background(), "Bitcoin ETF inflows hit a record")
	if score != 0.85 {
		t.Errorf("expected 0.85, got %g", score)
	}
}

func TestScoreRelevanceNonNumericDefaults(t *testing.T) {
	srv, _ := chatServer(t, "I cannot rate this post")
	o := testOracle(srv.URL)

	score := o.ScoreRelevance(context.Background(), "gm")
	if score != neutralRelevance {
		t.Errorf("expected neutral default %g, got %g", neutralRelevance, score)
	}
}

func TestScoreRelevanceRemoteErrorDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()
	o := testOracle(srv.URL)

	score := o.ScoreRelevance(context.Background(), "gm")
	if score != neutralRelevance {
		t.Errorf("expected neutral default on remote error, got %g", score)
	}
}

func TestScoreRelevanceClamped(t *testing.T) {
	srv, _ := chatServer(t, "1.7")
	o := testOracle(srv.URL)

	if score := o.ScoreRelevance(context.Background(), "x"); score != 1 {
		t.Errorf("expected clamp to 1, got %g", score)
	}
}

func TestGenerateReply(t *testing.T) {
	srv, _ := chatServer(t, "Interesting take! Layer 2 fees keep dropping.")
	o := testOracle(srv.URL)

	reply := o.GenerateReply(context.Background(), "L2s are getting cheap", nil)
	if reply != "Interesting take! Layer 2 fees keep dropping." {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestGenerateReplyTruncation(t *testing.T) {
	long := strings.Repeat("a", 400)
	srv, _ := chatServer(t, long)
	o := testOracle(srv.URL)

	reply := o.GenerateReply(context.Background(), "x", nil)
	if utf8.RuneCountInString(reply) != 280 {
		t.Errorf("expected truncated length 280, got %d", utf8.RuneCountInString(reply))
	}
	if !strings.HasSuffix(reply, "...") {
		t.Error("expected truncated reply to end with ellipsis marker")
	}
}

func TestGenerateReplyRetriesThenEmpty(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "flaky", http.StatusBadGateway)
	}))
	defer srv.Close()

	o := testOracle(srv.URL)
	var sleeps []time.Duration
	o.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	reply := o.GenerateReply(context.Background(), "x", nil)
	if reply != "" {
		t.Errorf("expected empty reply after exhausted retries, got %q", reply)
	}
	if calls != generateAttempts {
		t.Errorf("expected %d attempts, got %d", generateAttempts, calls)
	}
	if len(sleeps) != generateAttempts-1 {
		t.Fatalf("expected %d backoff sleeps, got %d", generateAttempts-1, len(sleeps))
	}
	if sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Errorf("expected doubling backoff [1s 2s], got %v", sleeps)
	}
}

func TestGenerateReplyIncludesSentiment(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotBody = req.Messages[len(req.Messages)-1].Content
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	o := testOracle(srv.URL)
	o.GenerateReply(context.Background(), "moon soon", &Sentiment{Label: "positive", Score: 0.9})

	if !strings.Contains(gotBody, "positive") {
		t.Errorf("expected sentiment passed to the model, got %q", gotBody)
	}
}

func TestAnalyzeSentiment(t *testing.T) {
	srv, _ := chatServer(t, "```json\n{\"label\": \"negative\", \"score\": 0.8}\n```")
	o := testOracle(srv.URL)

	s, err := o.AnalyzeSentiment(context.Background(), "rug pull again")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Label != "negative" || s.Score != 0.8 {
		t.Errorf("unexpected sentiment %+v", s)
	}
}

func TestAnalyzeSentimentRejectsBadLabel(t *testing.T) {
	srv, _ := chatServer(t, `{"label": "euphoric", "score": 0.8}`)
	o := testOracle(srv.URL)

	if _, err := o.AnalyzeSentiment(context.Background(), "x"); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in       string
		max      int
		expected string
	}{
		{"short", 280, "short"},
		{strings.Repeat("x", 280), 280, strings.Repeat("x", 280)},
		{strings.Repeat("x", 281), 280, strings.Repeat("x", 277) + "..."},
		{"héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.max)
		if got != tt.expected {
			t.Errorf("Truncate(%d-rune input, %d): got %q", utf8.RuneCountInString(tt.in), tt.max, got)
		}
		if utf8.RuneCountInString(got) > tt.max {
			t.Errorf("Truncate result exceeds max: %d > %d", utf8.RuneCountInString(got), tt.max)
		}
	}
}

func TestParseScoreVariants(t *testing.T) {
	tests := []struct {
		in    string
		score float64
		ok    bool
	}{
		{"0.7", 0.7, true},
		{" 0.3\n", 0.3, true},
		{"Score: 0.9.", 0.9, true},
		{"no number here", 0, false},
	}
	for _, tt := range tests {
		score, ok := parseScore(tt.in)
		if ok != tt.ok || (ok && score != tt.score) {
			t.Errorf("parseScore(%q) = %g, %v; expected %g, %v", tt.in, score, ok, tt.score, tt.ok)
		}
	}
}
