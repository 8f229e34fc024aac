package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/fisler/internal/logging"
)

// SearchStrategy records which path produced a SearchResult.
type SearchStrategy string

const (
	// StrategyNone means no search text was supplied.
	StrategyNone SearchStrategy = ""
	// StrategyFullText means the search procedure answered; IDs is
	// authoritative even when empty.
	StrategyFullText SearchStrategy = "full_text"
	// StrategyFallback means the procedure was unavailable and the search
	// degraded to a fis_no substring match.
	StrategyFallback SearchStrategy = "fallback"
)

// SearchResult is the outcome of resolving free-text search input.
type SearchResult struct {
	Strategy SearchStrategy `json:"strategy"`
	IDs      []string       `json:"-"`
	Pattern  string         `json:"-"`
	// Cause is why the full-text path was abandoned.
	Cause error `json:"-"`
}

// Predicate converts the result into a query predicate, or nil for
// StrategyNone.
func (r SearchResult) Predicate() Predicate {
	switch r.Strategy {
	case StrategyFullText:
		if len(r.IDs) == 0 {
			return IDIn{IDs: []string{ImpossibleID}}
		}
		return IDIn{IDs: r.IDs}
	case StrategyFallback:
		return FisNoILike{Substring: r.Pattern}
	default:
		return nil
	}
}

// SearchSelector picks between the full-text procedure and the fis_no
// fallback.
type SearchSelector struct {
	searcher FullTextSearcher
}

func NewSearchSelector(searcher FullTextSearcher) *SearchSelector {
	return &SearchSelector{searcher: searcher}
}

// Resolve trims term and runs the full-text procedure. Any error, or a
// panic inside the attempt, selects the fallback. Never fails.
func (s *SearchSelector) Resolve(ctx context.Context, term string) SearchResult {
	term = strings.TrimSpace(term)
	if term == "" {
		return SearchResult{Strategy: StrategyNone}
	}

	ids, err := s.fullText(ctx, term)
	if err != nil {
		logging.FromContext(ctx).Warn("full-text search unavailable, using fis_no match",
			"term", term,
			"error", err,
		)
		return SearchResult{Strategy: StrategyFallback, Pattern: term, Cause: err}
	}
	return SearchResult{Strategy: StrategyFullText, IDs: ids}
}

func (s *SearchSelector) fullText(ctx context.Context, term string) (ids []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			ids, err = nil, fmt.Errorf("search procedure panicked: %v", r)
		}
	}()
	if s.searcher == nil {
		return nil, fmt.Errorf("search procedure not configured")
	}
	return s.searcher.SearchFullText(ctx, term)
}
