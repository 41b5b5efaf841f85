// Package xapi is a minimal client for the post-search API: recent search,
// user lookup and reply creation. Throttling responses are surfaced as
// *ThrottleError so callers can decide how long to wait.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Post is one search result.
type Post struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

// User is the author of a post.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Client talks to the post-search API. The bearer token covers read calls;
// the write token is only needed for CreateReply.
type Client struct {
	BaseURL    string
	bearer     string
	writeToken string
	client     *http.Client
}

// New creates a client reading credentials from the named env vars.
func New(baseURL, bearerEnv, writeTokenEnv string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		bearer:     os.Getenv(bearerEnv),
		writeToken: os.Getenv(writeTokenEnv),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured reports whether the read credential is available.
func (c *Client) IsConfigured() bool {
	return c.bearer != ""
}

// CanWrite reports whether the write credential is available.
func (c *Client) CanWrite() bool {
	return c.writeToken != ""
}

// BuildQuery assembles a search query from a topic plus retweet and language
// filters.
func BuildQuery(topic string, languages []string, excludeRetweets bool) string {
	parts := []string{topic}
	if excludeRetweets {
		parts = append(parts, "-is:retweet")
	}
	switch len(languages) {
	case 0:
	case 1:
		parts = append(parts, "lang:"+languages[0])
	default:
		langs := make([]string, len(languages))
		for i, l := range languages {
			langs[i] = "lang:" + l
		}
		parts = append(parts, "("+strings.Join(langs, " OR ")+")")
	}
	return strings.Join(parts, " ")
}

// SearchRecent searches recent posts matching query. maxResults below the API
// minimum of 10 is raised to 10.
func (c *Client) SearchRecent(ctx context.Context, query string, maxResults int) ([]Post, error) {
	if maxResults < 10 {
		maxResults = 10
	}
	if maxResults > 100 {
		maxResults = 100
	}

	params := url.Values{
		"query":        {query},
		"max_results":  {strconv.Itoa(maxResults)},
		"tweet.fields": {"author_id,created_at"},
	}

	var result struct {
		Data []Post `json:"data"`
	}
	if err := c.get(ctx, "search", "/tweets/search/recent?"+params.Encode(), &result); err != nil {
		return nil, err
	}
	return result.Data, nil
}

// GetUser looks up a user by ID.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var result struct {
		Data User `json:"data"`
	}
	if err := c.get(ctx, "get_user", "/users/"+url.PathEscape(id), &result); err != nil {
		return nil, err
	}
	if result.Data.ID == "" {
		return nil, fmt.Errorf("user %s not found", id)
	}
	return &result.Data, nil
}

// CreateReply posts text as a reply to the given post and returns the new
// post's ID.
func (c *Client) CreateReply(ctx context.Context, text, inReplyTo string) (string, error) {
	if c.writeToken == "" {
		return "", fmt.Errorf("write credential not configured")
	}

	body, err := json.Marshal(map[string]any{
		"text":  text,
		"reply": map[string]string{"in_reply_to_tweet_id": inReplyTo},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/tweets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.writeToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create reply: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "create_reply"); err != nil {
		return "", err
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return result.Data.ID, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, endpoint); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func checkStatus(resp *http.Response, endpoint string) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return throttleFromResponse(resp, endpoint)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return nil
}
