package digest

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"veille/internal/types"
)

// ContentRepository is the data-layer collaborator for article selection.
// Implementations return rows grouped by the given discipline order and
// ranked by surfacing recency within each group, already capped per
// discipline, in a single round trip.
type ContentRepository interface {
	ListRankedForDisciplines(ctx context.Context, disciplines []string, since, now time.Time, perCategoryCap int) ([]types.Article, error)
}

// Selector retrieves and deduplicates the candidate articles for one user's
// digest.
type Selector struct {
	content ContentRepository
	logger  *slog.Logger
}

// NewSelector creates a Selector over the given content repository.
func NewSelector(content ContentRepository, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{content: content, logger: logger}
}

// Select returns the articles for the user's digest, newest surfaced first.
//
// An empty result is the "eligible but nothing to send" outcome and is
// expected whenever the user has no subscriptions or their frequency derives
// a zero lookback or cap. An article that matched several of the user's
// disciplines appears once: the user's stored discipline order is stable, so
// the first-occurrence rule yields a reproducible winner.
func (s *Selector) Select(ctx context.Context, user types.UserProfile, now time.Time) ([]types.Article, error) {
	rule := user.Frequency.Rule()
	if len(user.Disciplines) == 0 || rule.LookbackDays == 0 || rule.PerCategoryCap == 0 {
		return nil, nil
	}

	since := now.Add(-time.Duration(rule.LookbackDays) * 24 * time.Hour)
	rows, err := s.content.ListRankedForDisciplines(ctx, user.Disciplines, since, now, rule.PerCategoryCap)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// Keep the first occurrence per article ID. Rows arrive in the user's
	// discipline order, so the earliest-listed discipline claims the article.
	seen := make(map[int64]struct{}, len(rows))
	articles := make([]types.Article, 0, len(rows))
	for _, a := range rows {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		articles = append(articles, a)
	}

	// Present the merged digest newest-first across disciplines.
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].AddedAt.After(articles[j].AddedAt)
	})

	s.logger.DebugContext(ctx, "content selected",
		"user_id", user.ID,
		"disciplines", len(user.Disciplines),
		"articles", len(articles),
		"lookback_days", rule.LookbackDays,
	)
	return articles, nil
}
