package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"veille/internal/types"
)

// UserRepository is the data-layer collaborator for the user walk and the
// final timestamp write-back.
type UserRepository interface {
	// ListProfilesAfter returns up to limit profiles with id > afterID,
	// ordered by id ascending.
	ListProfilesAfter(ctx context.Context, afterID string, limit int) ([]types.UserProfile, error)

	// BulkSetLastNotified advances the last-notified timestamp for exactly
	// the given users in one statement.
	BulkSetLastNotified(ctx context.Context, userIDs []string, sentAt time.Time) (int64, error)
}

// Runner orchestrates one digest run: paginate users, evaluate eligibility,
// select content, deliver, write back.
type Runner struct {
	users    UserRepository
	selector *Selector
	batcher  *Batcher

	pageSize    int
	concurrency int // per-page fan-out of evaluation + selection
	logger      *slog.Logger
}

// NewRunner wires the run pipeline. pageSize is the keyset page size over
// user profiles; concurrency bounds per-user work within a page.
func NewRunner(users UserRepository, selector *Selector, batcher *Batcher, pageSize, concurrency int, logger *slog.Logger) *Runner {
	if pageSize < 1 {
		pageSize = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		users:       users,
		selector:    selector,
		batcher:     batcher,
		pageSize:    pageSize,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run executes one digest run evaluated entirely at the given now. The
// timestamp is captured once by the caller and threaded through every stage
// so all pages agree on "now"; re-reading the wall clock mid-run would let
// eligibility decisions drift between pages.
//
// A user-page fetch failure aborts the run (nothing durable has happened
// yet). Per-user and per-batch failures are contained and reported through
// the statistics instead.
func (r *Runner) Run(ctx context.Context, now time.Time) (types.RunStats, error) {
	started := time.Now()
	stats := types.RunStats{
		RunID:     uuid.New().String(),
		StartedAt: now.UTC(),
	}
	logger := r.logger.With("run_id", stats.RunID)

	outcomes := map[types.Outcome]int{}
	var recipients []Recipient

	// Walk every profile exactly once, keyed by id ascending. A page
	// shorter than pageSize is the last one; an exact-multiple total costs
	// one extra empty fetch, which is cheap relative to correctness.
	lastSeenID := ""
	for {
		page, err := r.users.ListProfilesAfter(ctx, lastSeenID, r.pageSize)
		if err != nil {
			return stats, fmt.Errorf("fetching user page after %q: %w", lastSeenID, err)
		}
		if len(page) == 0 {
			break
		}
		lastSeenID = page[len(page)-1].ID
		stats.UsersScanned += len(page)

		pageRecipients, pageOutcomes := r.processPage(ctx, logger, page, now)
		recipients = append(recipients, pageRecipients...)
		for outcome, n := range pageOutcomes {
			outcomes[outcome] += n
		}

		if len(page) < r.pageSize {
			break
		}
	}

	stats.UsersEligible = stats.UsersScanned - outcomes[types.OutcomeSkipped]

	logger.InfoContext(ctx, "user walk complete",
		"scanned", stats.UsersScanned,
		"eligible", stats.UsersEligible,
		"with_content", len(recipients),
	)

	// Deliver, then write back once. The success set is final after
	// Deliver returns; only those users advance.
	result := r.batcher.Deliver(ctx, recipients)
	stats.UsersNotified = len(result.SentUserIDs)
	stats.ItemsSent = result.ItemsSent
	outcomes[types.OutcomeNotified] = len(result.SentUserIDs)
	outcomes[types.OutcomeEligibleUnsent] = len(recipients) - len(result.SentUserIDs)

	if len(result.SentUserIDs) > 0 {
		if _, err := r.users.BulkSetLastNotified(ctx, result.SentUserIDs, now); err != nil {
			// The emails are out but no timestamp advanced: every notified
			// user will be re-selected next run. Duplicate notification is
			// the accepted failure mode; losing sends silently is not.
			logger.ErrorContext(ctx, "bulk last-notified update failed; notified users will be re-selected",
				"users", len(result.SentUserIDs),
				"error", err,
			)
		}
	}

	stats.Duration = time.Since(started).Round(time.Millisecond).String()
	logger.InfoContext(ctx, "digest run complete",
		"stats", stats.String(),
		"failed_batches", result.FailedBatches,
		"eligible_empty", outcomes[types.OutcomeEligibleEmpty],
	)
	return stats, nil
}

// processPage fans out evaluation and content selection for one page of
// users and joins before returning, so pages stay sequential while per-user
// work inside a page runs concurrently. Recipients come back ordered by user
// ID to keep batch composition deterministic.
func (r *Runner) processPage(ctx context.Context, logger *slog.Logger, page []types.UserProfile, now time.Time) ([]Recipient, map[types.Outcome]int) {
	var (
		mu         sync.Mutex
		recipients []Recipient
		outcomes   = map[types.Outcome]int{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, user := range page {
		g.Go(func() error {
			recipient, outcome := r.processUser(gctx, logger, user, now)
			mu.Lock()
			defer mu.Unlock()
			outcomes[outcome]++
			if recipient != nil {
				recipients = append(recipients, *recipient)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(recipients, func(i, j int) bool {
		return recipients[i].UserID < recipients[j].UserID
	})
	return recipients, outcomes
}

// processUser classifies one user for this run. Pending users end in exactly
// one terminal state; at this stage the candidates are "skipped", "eligible
// empty", or (provisionally) a recipient, which the delivery outcome later
// resolves to notified or eligible-unsent.
func (r *Runner) processUser(ctx context.Context, logger *slog.Logger, user types.UserProfile, now time.Time) (*Recipient, types.Outcome) {
	// A stored timestamp that failed to parse fails closed: skipping one
	// cycle beats risking a double send against an unknowable last-sent.
	if user.LastNotifiedRaw != "" {
		logger.WarnContext(ctx, "unparseable last-notified timestamp; skipping user",
			"user_id", user.ID,
			"raw", user.LastNotifiedRaw,
		)
		return nil, types.OutcomeSkipped
	}

	if !user.Frequency.Known() {
		logger.WarnContext(ctx, "unknown notification frequency; user is never due",
			"user_id", user.ID,
			"frequency", string(user.Frequency),
		)
		return nil, types.OutcomeSkipped
	}

	if !IsDue(user.Frequency, user.LastNotifiedAt, now) {
		return nil, types.OutcomeSkipped
	}

	articles, err := r.selector.Select(ctx, user, now)
	if err != nil {
		// One user's content lookup must not abort the run. No content
		// means no send and no timestamp advance, so the user stays due.
		logger.WarnContext(ctx, "content selection failed; treating as no content this run",
			"user_id", user.ID,
			"error", err,
		)
		return nil, types.OutcomeEligibleEmpty
	}
	if len(articles) == 0 {
		return nil, types.OutcomeEligibleEmpty
	}

	return &Recipient{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		Articles:  articles,
	}, types.OutcomeNotified
}
