// Package server exposes the read-only reporting surface: an HTML dashboard
// and JSON endpoints projecting the store's stats, rate-limit ledger and
// recent records. It carries no write capability.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/cryptopulse/cryptobot/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var md = goldmark.New()

const defaultRecent = 10

// Server is the HTTP server for the dashboard.
type Server struct {
	store *store.Store
	page  *template.Template
	mux   *http.ServeMux
}

// New creates a new Server over the given store.
func New(st *store.Store) (*Server, error) {
	page, err := template.New("base.html").ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}

	s := &Server{store: st, page: page, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleDashboard)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/recent", s.handleRecent)
	s.mux.HandleFunc("/api/ratelimit", s.handleRateLimit)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	report := buildReport(s.store.Stats(), s.store.RateLimitInfo(), s.store.Recent(defaultRecent))

	var buf bytes.Buffer
	if err := md.Convert([]byte(report), &buf); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := s.page.Execute(w, map[string]any{
		"Content": template.HTML(buf.String()), //nolint: gosec
	})
	if err != nil {
		log.Printf("Error rendering dashboard: %v", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Stats())
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecent
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, s.store.Recent(limit))
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.RateLimitInfo())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// buildReport renders the dashboard body as markdown.
func buildReport(stats store.Stats, rl store.RateLimitInfo, recent []store.Item) string {
	var b strings.Builder

	b.WriteString("# Processing Stats\n\n")
	fmt.Fprintf(&b, "- **Total processed:** %d\n", stats.TotalProcessed)
	fmt.Fprintf(&b, "- **Total responded:** %d\n\n", stats.TotalResponded)

	b.WriteString("## Rate Limits\n\n")
	if rl.LastEncounter == nil {
		b.WriteString("No rate limits encountered.\n\n")
	} else {
		fmt.Fprintf(&b, "- **Last encounter:** %s\n", rl.LastEncounter.Format(time.RFC3339))
		fmt.Fprintf(&b, "- **Wait:** %ds\n", rl.WaitSeconds)
		fmt.Fprintf(&b, "- **Recent events:** %d\n\n", len(rl.History))
	}

	b.WriteString("## Recent Posts\n\n")
	if len(recent) == 0 {
		b.WriteString("Nothing processed yet.\n")
	}
	for _, item := range recent {
		status := "ignored"
		if item.Responded {
			status = "responded"
		} else if item.ResponseText != nil {
			status = "generated"
		}
		fmt.Fprintf(&b, "### @%s (%s)\n\n", item.Author, status)
		fmt.Fprintf(&b, "%s\n\n", item.TweetText)
		if item.ResponseText != nil {
			fmt.Fprintf(&b, "> %s\n\n", *item.ResponseText)
		}
		if item.Sentiment != nil {
			fmt.Fprintf(&b, "*Sentiment: %s (%.2f)*\n\n", item.Sentiment.Label, item.Sentiment.Score)
		}
		fmt.Fprintf(&b, "*Processed %s*\n\n", item.ProcessedAt.Format("2006-01-02 15:04"))
	}

	return b.String()
}

// Serve starts the HTTP server on the given port.
func Serve(st *store.Store, port int) error {
	srv, err := New(st)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Dashboard listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
