package supervisor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agusx1211/spindle/internal/spool"
)

// SearchMatch is one hit from Search, with context snippets around the
// matched text.
type SearchMatch struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	PromptMatch string `json:"prompt_match,omitempty"`
	ResultMatch string `json:"result_match,omitempty"`
}

// Search does a case-insensitive substring search over prompts and/or
// results. field is "prompt", "result", or "both".
func (s *Supervisor) Search(query, field string) ([]SearchMatch, error) {
	if field == "" {
		field = "both"
	}
	if field != "prompt" && field != "result" && field != "both" {
		return nil, fmt.Errorf("invalid field %q (want prompt, result, or both)", field)
	}

	all, err := s.store.List(nil)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	var matches []SearchMatch
	for _, sp := range all {
		m := SearchMatch{
			ID:        sp.ID,
			Status:    string(sp.Status),
			CreatedAt: sp.CreatedAt.Format(time.RFC3339),
		}
		hit := false
		if field != "result" {
			if snip := snippet(sp.Prompt, lower, 30); snip != "" {
				m.PromptMatch = snip
				hit = true
			}
		}
		if field != "prompt" {
			if snip := snippet(sp.Result, lower, 50); snip != "" {
				m.ResultMatch = snip
				hit = true
			}
		}
		if hit {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// snippet returns "...context..." around the first case-insensitive match of
// lowerQuery in text, or "".
func snippet(text, lowerQuery string, pad int) string {
	if text == "" || lowerQuery == "" {
		return ""
	}
	idx := strings.Index(strings.ToLower(text), lowerQuery)
	if idx < 0 {
		return ""
	}
	start := idx - pad
	if start < 0 {
		start = 0
	}
	end := idx + len(lowerQuery) + pad
	if end > len(text) {
		end = len(text)
	}
	return "..." + text[start:end] + "..."
}

// GrepMatch is one hit from Grep.
type GrepMatch struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Prompt     string   `json:"prompt"`
	Matches    []string `json:"matches"`
	MatchCount int      `json:"match_count"`
}

// Grep runs a case-insensitive regex over all spool results.
func (s *Supervisor) Grep(pattern string) ([]GrepMatch, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}

	all, err := s.store.List(nil)
	if err != nil {
		return nil, err
	}

	var matches []GrepMatch
	for _, sp := range all {
		found := re.FindAllString(sp.Result, -1)
		if len(found) == 0 {
			continue
		}
		seen := make(map[string]bool)
		var unique []string
		for _, f := range found {
			if seen[f] {
				continue
			}
			seen[f] = true
			unique = append(unique, f)
			if len(unique) == 10 {
				break
			}
		}
		matches = append(matches, GrepMatch{
			ID:         sp.ID,
			Status:     string(sp.Status),
			Prompt:     spool.Truncate(sp.Prompt, 80),
			Matches:    unique,
			MatchCount: len(found),
		})
	}
	return matches, nil
}

// sinceWindows maps the since filter values of Results.
var sinceWindows = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
}

// ResultEntry is one row of a bulk Results fetch.
type ResultEntry struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Prompt    string `json:"prompt"`
	Result    string `json:"result,omitempty"`
	CreatedAt string `json:"created_at"`
	SessionID string `json:"session_id,omitempty"`
}

// Results bulk-fetches spools filtered by status ("all" disables the
// filter) and an optional time window, newest first, capped at limit.
func (s *Supervisor) Results(status, since string, limit int) ([]ResultEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if status == "" {
		status = string(spool.StatusComplete)
	}

	var cutoff time.Time
	if since != "" {
		window, ok := sinceWindows[since]
		if !ok {
			return nil, fmt.Errorf("invalid since value %q (use 1h, 6h, 12h, 1d, 7d)", since)
		}
		cutoff = time.Now().Add(-window)
	}

	all, err := s.store.List(func(sp *spool.Spool) bool {
		if status != "all" && string(sp.Status) != status {
			return false
		}
		if !cutoff.IsZero() && sp.CreatedAt.Before(cutoff) {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if len(all) > limit {
		all = all[:limit]
	}

	entries := make([]ResultEntry, 0, len(all))
	for _, sp := range all {
		entries = append(entries, ResultEntry{
			ID:        sp.ID,
			Status:    string(sp.Status),
			Prompt:    spool.Truncate(sp.Prompt, 100),
			Result:    spool.Truncate(sp.Result, 500),
			CreatedAt: sp.CreatedAt.Format(time.RFC3339),
			SessionID: sp.SessionID,
		})
	}
	return entries, nil
}

// Stats summarizes counts by status and the creation time range.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Oldest   string         `json:"oldest,omitempty"`
	Newest   string         `json:"newest,omitempty"`
}

// BuildStats computes summary statistics over all spools.
func (s *Supervisor) BuildStats() (*Stats, error) {
	all, err := s.store.List(nil)
	if err != nil {
		return nil, err
	}
	st := &Stats{Total: len(all), ByStatus: make(map[string]int)}
	for i, sp := range all {
		st.ByStatus[string(sp.Status)]++
		if i == 0 {
			st.Oldest = sp.CreatedAt.Format(time.RFC3339)
		}
		if i == len(all)-1 {
			st.Newest = sp.CreatedAt.Format(time.RFC3339)
		}
	}
	return st, nil
}
