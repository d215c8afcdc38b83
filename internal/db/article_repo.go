package db

import (
	"context"
	"time"

	"veille/internal/types"
)

// maxPublishAge excludes articles whose journal publication date is ancient
// even when they were recently (re)surfaced. Matches the product's two-year
// guard on the article feed.
const maxPublishAge = 2 * 365 * 24 * time.Hour

// ArticleRepository provides data access for the showed_articles feed and
// its backing articles table.
type ArticleRepository struct {
	db DBTX
}

// NewArticleRepository creates an ArticleRepository backed by the given
// database connection.
func NewArticleRepository(db DBTX) *ArticleRepository {
	return &ArticleRepository{db: db}
}

// ListRankedForDisciplines returns, for each discipline in order, up to
// perCategoryCap articles surfaced since the given time, most recently
// surfaced first. One round trip covers all of a user's disciplines: the
// per-category capping happens in a LATERAL subquery, so the digest run
// never issues one query per category per user.
//
// Rows come back grouped by the caller's discipline order and ranked by
// added_at descending within each group. Cross-category deduplication is
// the selector's concern; category order determines which occurrence wins.
func (r *ArticleRepository) ListRankedForDisciplines(
	ctx context.Context,
	disciplines []string,
	since time.Time,
	now time.Time,
	perCategoryCap int,
) ([]types.Article, error) {
	if len(disciplines) == 0 || perCategoryCap == 0 {
		return nil, nil
	}

	publishedAfter := now.Add(-maxPublishAge)

	rows, err := r.db.Query(ctx,
		`SELECT s.article_id, a.title, COALESCE(a.journal, ''), s.discipline,
		        s.added_at, a.published_at, COALESCE(s.link, '')
		 FROM unnest($1::text[]) WITH ORDINALITY AS d(discipline, ord)
		 JOIN LATERAL (
		     SELECT sa.article_id, sa.discipline, sa.added_at, sa.link
		     FROM showed_articles sa
		     JOIN articles ar ON ar.id = sa.article_id
		     WHERE sa.discipline = d.discipline
		       AND sa.added_at >= $2
		       AND ar.published_at >= $3
		     ORDER BY sa.added_at DESC
		     LIMIT $4
		 ) s ON true
		 JOIN articles a ON a.id = s.article_id
		 ORDER BY d.ord ASC, s.added_at DESC`,
		disciplines, since, publishedAfter, perCategoryCap,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query ranked articles", err)
	}
	defer rows.Close()

	var articles []types.Article
	for rows.Next() {
		var a types.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Journal, &a.Discipline,
			&a.AddedAt, &a.PublishedAt, &a.Link); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan article row", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate article rows", err)
	}
	return articles, nil
}
