package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"veille/internal/types"
)

// UserRepository provides data access for the user_profiles table.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// profileColumns is the standard column set for profile queries. Kept as a
// constant so every query scans the same shape.
const profileColumns = `id, email, COALESCE(first_name, ''), COALESCE(disciplines, '{}'),
	COALESCE(notification_frequency, ''), last_notification_sent_at`

// scanProfile scans a single user_profiles row.
//
// last_notification_sent_at is a legacy ISO-8601 text column written by the
// original edge functions. A value that fails to parse is surfaced via
// LastNotifiedRaw with a nil LastNotifiedAt so the eligibility evaluator can
// fail closed instead of treating the user as never-notified.
func scanProfile(row pgx.Row) (types.UserProfile, error) {
	var (
		p   types.UserProfile
		raw *string
		f   string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.FirstName, &p.Disciplines, &f, &raw); err != nil {
		return types.UserProfile{}, err
	}
	p.Frequency = types.ParseFrequency(f)
	if raw != nil && *raw != "" {
		if ts, err := time.Parse(time.RFC3339, *raw); err == nil {
			utc := ts.UTC()
			p.LastNotifiedAt = &utc
		} else {
			p.LastNotifiedRaw = *raw
		}
	}
	return p, nil
}

// ListProfilesAfter returns up to limit profiles with id > afterID, ordered
// by id ascending. This is the keyset-pagination primitive behind the digest
// run's user walk: a page shorter than limit is the last page.
func (r *UserRepository) ListProfilesAfter(ctx context.Context, afterID string, limit int) ([]types.UserProfile, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+profileColumns+`
		 FROM user_profiles
		 WHERE id > $1
		 ORDER BY id ASC
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list user profiles", err)
	}
	defer rows.Close()

	var profiles []types.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan user profile", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate user profiles", err)
	}
	return profiles, nil
}

// BulkSetLastNotified advances last_notification_sent_at for exactly the
// given user IDs in one statement. The timestamp is written as RFC3339 UTC
// text to stay compatible with the legacy column shape.
//
// The update is atomic for the whole set: if it fails, no user is advanced
// and every successfully delivered user will be re-notified next run. That
// over-notification risk is accepted; duplicate email beats silent loss.
func (r *UserRepository) BulkSetLastNotified(ctx context.Context, userIDs []string, sentAt time.Time) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE user_profiles
		 SET last_notification_sent_at = $1
		 WHERE id = ANY($2)`,
		sentAt.UTC().Format(time.RFC3339), userIDs,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to update last notification timestamps", err)
	}
	return tag.RowsAffected(), nil
}
