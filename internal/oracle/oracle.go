// Package oracle wraps the chat-completions API behind the three calls the
// pipeline needs: relevance scoring, reply generation and sentiment tagging.
// Scoring is never fatal; generation has its own small retry budget.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	relevanceSystemPrompt = `You rate how relevant a social media post is to cryptocurrency discussion. Respond with ONLY a number between 0.0 and 1.0. 1.0 means the post is squarely about cryptocurrency markets, technology or adoption; 0.0 means unrelated. Spam, giveaways and engagement bait score low.`

	replySystemPrompt = `You are a friendly, knowledgeable cryptocurrency bot replying on a social platform. Reply to the post briefly and informatively. No hashtags, no financial advice, no emoji spam.`

	sentimentSystemPrompt = `You classify the sentiment of a cryptocurrency-related post. Respond with ONLY this JSON:
{"label": "positive" | "negative" | "neutral", "score": 0.0-1.0}
score is your confidence in the label.`
)

// neutralRelevance is returned whenever scoring fails; an unknown post is
// treated as borderline rather than dropped or auto-passed.
const neutralRelevance = 0.5

// generateAttempts bounds the reply-generation retry budget. This is separate
// from (and smaller than) the throttle retry bound on the post API.
const generateAttempts = 3

// Sentiment is a label with a confidence score.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Oracle is a stateless chat-completions client.
type Oracle struct {
	BaseURL       string
	Model         string
	apiKey        string
	maxTokens     int
	maxPostLength int
	client        *http.Client
	sleep         func(time.Duration)
}

// New creates an Oracle reading the API key from the named env var.
func New(baseURL, model, apiKeyEnv string, maxTokens, maxPostLength int) *Oracle {
	return &Oracle{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Model:         model,
		apiKey:        os.Getenv(apiKeyEnv),
		maxTokens:     maxTokens,
		maxPostLength: maxPostLength,
		client:        &http.Client{Timeout: 120 * time.Second},
		sleep:         time.Sleep,
	}
}

// IsConfigured checks if the API key is set.
func (o *Oracle) IsConfigured() bool {
	return o.apiKey != ""
}

// ScoreRelevance rates text in [0,1]. Any remote or parse failure yields the
// neutral default; scoring never fails the pipeline.
func (o *Oracle) ScoreRelevance(ctx context.Context, text string) float64 {
	response, err := o.chat(ctx, relevanceSystemPrompt,
		"Rate this post: "+text, 0.1, 8)
	if err != nil {
		log.Printf("Relevance scoring failed, using neutral default: %v", err)
		return neutralRelevance
	}

	score, ok := parseScore(response)
	if !ok {
		log.Printf("Relevance response not numeric (%q), using neutral default", response)
		return neutralRelevance
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// GenerateReply produces reply text for a post, truncated to the sink's
// maximum length. Returns "" after the retry budget is exhausted.
func (o *Oracle) GenerateReply(ctx context.Context, text string, sentiment *Sentiment) string {
	user := "Reply briefly and concisely to this post: " + text
	if sentiment != nil {
		user += fmt.Sprintf("\n\nThe post's sentiment is %s (confidence %.2f); match your tone to it.",
			sentiment.Label, sentiment.Score)
	}

	backoff := time.Second
	for attempt := 1; attempt <= generateAttempts; attempt++ {
		response, err := o.chat(ctx, replySystemPrompt, user, 0.7, o.maxTokens)
		if err == nil {
			return Truncate(strings.TrimSpace(response), o.maxPostLength)
		}
		log.Printf("Reply generation attempt %d/%d failed: %v", attempt, generateAttempts, err)
		if attempt < generateAttempts {
			o.sleep(backoff)
			backoff *= 2
		}
	}
	return ""
}

// AnalyzeSentiment tags text with a sentiment label and confidence.
func (o *Oracle) AnalyzeSentiment(ctx context.Context, text string) (*Sentiment, error) {
	response, err := o.chat(ctx, sentimentSystemPrompt,
		"Classify this post: "+text, 0.1, 64)
	if err != nil {
		return nil, err
	}

	parsed := parseJSONResponse(response)
	if parsed == nil {
		return nil, fmt.Errorf("sentiment response could not be parsed: %q", response)
	}

	label, _ := parsed["label"].(string)
	switch label {
	case "positive", "negative", "neutral":
	default:
		return nil, fmt.Errorf("unexpected sentiment label %q", label)
	}

	score := 0.5
	if v, ok := parsed["score"].(float64); ok {
		score = v
	}
	return &Sentiment{Label: label, Score: score}, nil
}

// chat performs a single chat-completions request.
func (o *Oracle) chat(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("oracle API key not configured")
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("oracle API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in oracle response")
	}
	return result.Choices[0].Message.Content, nil
}

// Truncate hard-cuts s to max characters, reserving three for the ellipsis
// marker when a cut happens. Lengths are counted in runes, matching how the
// sink counts post length.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune("...")[:max])
	}
	return string(runes[:max-3]) + "..."
}
