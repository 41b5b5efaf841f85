// Package pipeline implements the per-cycle processing flow: search for
// candidate posts, sample a few, and for each one gate on relevance, generate
// a reply, optionally publish it and record the outcome. A cycle never lets
// an item failure escape; the worst case is a cleanly aborted cycle.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/cryptopulse/cryptobot/internal/config"
	"github.com/cryptopulse/cryptobot/internal/oracle"
	"github.com/cryptopulse/cryptobot/internal/store"
	"github.com/cryptopulse/cryptobot/internal/xapi"
)

// Source is the post-search API surface the pipeline consumes.
type Source interface {
	SearchRecent(ctx context.Context, query string, maxResults int) ([]xapi.Post, error)
	GetUser(ctx context.Context, id string) (*xapi.User, error)
	CreateReply(ctx context.Context, text, inReplyTo string) (string, error)
}

// Scorer produces relevance scores, replies and sentiment tags.
type Scorer interface {
	ScoreRelevance(ctx context.Context, text string) float64
	GenerateReply(ctx context.Context, text string, sentiment *oracle.Sentiment) string
	AnalyzeSentiment(ctx context.Context, text string) (*oracle.Sentiment, error)
}

// RecordStore is the slice of the store the pipeline writes through.
type RecordStore interface {
	Exists(id string) bool
	Upsert(id string, rec store.Record) error
}

// Caller routes outbound post-API calls through the rate-limit wrapper.
type Caller interface {
	Do(ctx context.Context, endpoint string, call func() error) error
}

// Outcome is the terminal state of one processed item.
type Outcome int

const (
	// OutcomeSkipped: the id was already recorded; nothing was done.
	OutcomeSkipped Outcome = iota
	// OutcomeIgnored: relevance below threshold; recorded without a reply.
	OutcomeIgnored
	// OutcomeGenerationFailed: the oracle produced no reply text.
	OutcomeGenerationFailed
	// OutcomeGeneratedNotPublished: reply text recorded but not posted,
	// either because live mode is off or because publishing failed.
	OutcomeGeneratedNotPublished
	// OutcomeResponded: reply posted successfully.
	OutcomeResponded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeGenerationFailed:
		return "generation_failed"
	case OutcomeGeneratedNotPublished:
		return "generated_not_published"
	case OutcomeResponded:
		return "responded"
	}
	return "unknown"
}

// Result summarizes one cycle.
type Result struct {
	Aborted   bool
	Found     int
	Sampled   int
	Skipped   int
	Ignored   int
	Responded int
	Generated int // generated but not published
	Failed    int // generation produced nothing
	Errors    int
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Source Source
	Oracle Scorer
	Store  RecordStore
	Caller Caller
}

// Pipeline drives one processing cycle at a time.
type Pipeline struct {
	source Source
	oracle Scorer
	store  RecordStore
	caller Caller

	query      string
	maxResults int
	sampleSize int
	threshold  float64
	live       bool
	sentiment  bool
	minDelay   time.Duration
	maxDelay   time.Duration

	rand  *rand.Rand
	sleep func(time.Duration)
}

// New creates a Pipeline from config and collaborators.
func New(cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		source:     deps.Source,
		oracle:     deps.Oracle,
		store:      deps.Store,
		caller:     deps.Caller,
		query:      xapi.BuildQuery(cfg.Search.Topic, cfg.Search.Languages, cfg.Search.ExcludeRetweets),
		maxResults: cfg.Search.MaxResults,
		sampleSize: cfg.Processing.SampleSize,
		threshold:  cfg.Processing.RelevanceThreshold,
		live:       cfg.Processing.Live,
		sentiment:  cfg.Processing.Sentiment,
		minDelay:   time.Duration(cfg.Processing.MinDelaySeconds * float64(time.Second)),
		maxDelay:   time.Duration(cfg.Processing.MaxDelaySeconds * float64(time.Second)),
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      time.Sleep,
	}
}

// Run executes one full cycle. It never returns an error: a failed search
// aborts the cycle with Aborted set, and item failures are counted.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{}

	log.Printf("Searching recent posts: %q", p.query)
	var posts []xapi.Post
	err := p.caller.Do(ctx, "search", func() error {
		var serr error
		posts, serr = p.source.SearchRecent(ctx, p.query, p.maxResults)
		return serr
	})
	if err != nil {
		log.Printf("Search failed, aborting cycle: %v", err)
		r.Aborted = true
		return r
	}

	if len(posts) == 0 {
		log.Println("No recent posts found")
		return r
	}
	r.Found = len(posts)

	sample := p.samplePosts(posts)
	r.Sampled = len(sample)
	log.Printf("Processing sample of %d/%d posts", len(sample), len(posts))

	for i, post := range sample {
		log.Printf("Processing post %d/%d (id %s)", i+1, len(sample), post.ID)
		p.sleep(p.interItemDelay())

		outcome, err := p.processPost(ctx, post)
		if err != nil {
			log.Printf("Error processing post %s: %v", post.ID, err)
			r.Errors++
			continue
		}
		switch outcome {
		case OutcomeSkipped:
			r.Skipped++
		case OutcomeIgnored:
			r.Ignored++
		case OutcomeGenerationFailed:
			r.Failed++
		case OutcomeGeneratedNotPublished:
			r.Generated++
		case OutcomeResponded:
			r.Responded++
		}
	}

	log.Printf("Cycle complete: %d sampled, %d responded, %d generated, %d ignored, %d skipped, %d failed, %d errors",
		r.Sampled, r.Responded, r.Generated, r.Ignored, r.Skipped, r.Failed, r.Errors)
	return r
}

// processPost runs the gate/generate/publish/record stages for one post.
// Unexpected panics inside item processing are converted to errors so a bad
// item cannot take down the batch.
func (p *Pipeline) processPost(ctx context.Context, post xapi.Post) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic processing post %s: %v", post.ID, rec)
		}
	}()

	// Presence of the id is the sole dedup signal; reprocessing is a strict
	// no-op and never refreshes the existing record.
	if p.store.Exists(post.ID) {
		log.Printf("Post %s already processed, skipping", post.ID)
		return OutcomeSkipped, nil
	}

	author := p.resolveAuthor(ctx, post)

	relevance := p.oracle.ScoreRelevance(ctx, post.Text)
	if relevance < p.threshold {
		log.Printf("Post %s from @%s ignored (relevance %.2f)", post.ID, author, relevance)
		return OutcomeIgnored, p.record(post, author, nil, nil, false)
	}

	var sentiment *oracle.Sentiment
	if p.sentiment {
		s, serr := p.oracle.AnalyzeSentiment(ctx, post.Text)
		if serr != nil {
			log.Printf("Sentiment analysis failed for post %s: %v", post.ID, serr)
		} else {
			sentiment = s
		}
	}

	reply := p.oracle.GenerateReply(ctx, post.Text, sentiment)
	if reply == "" {
		log.Printf("No reply generated for post %s", post.ID)
		return OutcomeGenerationFailed, p.record(post, author, nil, sentiment, false)
	}
	log.Printf("Reply generated for @%s: %s", author, reply)

	responded := false
	if p.live {
		perr := p.caller.Do(ctx, "create_reply", func() error {
			_, cerr := p.source.CreateReply(ctx, reply, post.ID)
			return cerr
		})
		if perr != nil {
			// A generated-but-unpublished reply is a valid terminal state.
			log.Printf("Publish failed for post %s: %v", post.ID, perr)
		} else {
			responded = true
		}
	}

	outcome = OutcomeGeneratedNotPublished
	if responded {
		outcome = OutcomeResponded
	}
	return outcome, p.record(post, author, &reply, sentiment, responded)
}

// resolveAuthor looks up the author's display name through the call wrapper,
// falling back to a placeholder. Lookup failure never aborts the item.
func (p *Pipeline) resolveAuthor(ctx context.Context, post xapi.Post) string {
	author := "user_" + post.AuthorID
	err := p.caller.Do(ctx, "get_user", func() error {
		user, uerr := p.source.GetUser(ctx, post.AuthorID)
		if uerr != nil {
			return uerr
		}
		author = user.Username
		return nil
	})
	if err != nil {
		log.Printf("Author lookup failed for post %s: %v (using placeholder)", post.ID, err)
	}
	return author
}

func (p *Pipeline) record(post xapi.Post, author string, reply *string, sentiment *oracle.Sentiment, responded bool) error {
	rec := store.Record{
		Responded:    responded,
		Author:       author,
		TweetText:    post.Text,
		ResponseText: reply,
	}
	if sentiment != nil {
		rec.Sentiment = &store.Sentiment{Label: sentiment.Label, Score: sentiment.Score}
	}
	if err := p.store.Upsert(post.ID, rec); err != nil {
		return fmt.Errorf("recording post %s: %w", post.ID, err)
	}
	return nil
}

// samplePosts picks a uniform random subset capped at sampleSize.
func (p *Pipeline) samplePosts(posts []xapi.Post) []xapi.Post {
	if len(posts) <= p.sampleSize {
		return posts
	}
	shuffled := make([]xapi.Post, len(posts))
	copy(shuffled, posts)
	p.rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:p.sampleSize]
}

// interItemDelay returns a random delay in [minDelay, maxDelay] to spread
// API load across the cycle.
func (p *Pipeline) interItemDelay() time.Duration {
	if p.maxDelay <= p.minDelay {
		return p.minDelay
	}
	return p.minDelay + time.Duration(p.rand.Int63n(int64(p.maxDelay-p.minDelay)))
}
