package store

import "time"

// schemaVersion identifies the on-disk layout. Older files without the field
// are read as version 0 and upgraded on the next write.
const schemaVersion = 1

// historyLimit bounds the rate-limit event ring.
const historyLimit = 10

// Sentiment is an optional tag attached to a record at processing time.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Record is the stored state for one processed post.
type Record struct {
	ProcessedAt  time.Time  `json:"processed_at"`
	Responded    bool       `json:"responded"`
	Author       string     `json:"author"`
	TweetText    string     `json:"tweet_text"`
	ResponseText *string    `json:"response_text"`
	Sentiment    *Sentiment `json:"sentiment,omitempty"`
}

// Item is a Record paired with its ID, as returned by Recent.
type Item struct {
	ID string `json:"id"`
	Record
}

// Stats holds the maintained aggregate counters.
type Stats struct {
	TotalProcessed int `json:"total_processed"`
	TotalResponded int `json:"total_responded"`
}

// RateLimitEvent is one recorded throttling encounter.
type RateLimitEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	WaitSeconds int       `json:"wait_seconds"`
	Endpoint    string    `json:"endpoint"`
}

// RateLimitInfo is the ledger of the most recent throttling events.
type RateLimitInfo struct {
	LastEncounter *time.Time       `json:"last_encounter"`
	WaitSeconds   int              `json:"wait_seconds"`
	History       []RateLimitEvent `json:"history"`
}

// document is the full on-disk layout.
type document struct {
	SchemaVersion int               `json:"schema_version"`
	Processed     map[string]Record `json:"processed_tweets"`
	Stats         Stats             `json:"stats"`
	RateLimits    RateLimitInfo     `json:"rate_limits"`
}

func emptyDocument() *document {
	return &document{
		SchemaVersion: schemaVersion,
		Processed:     map[string]Record{},
		RateLimits:    RateLimitInfo{History: []RateLimitEvent{}},
	}
}
