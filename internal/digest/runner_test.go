package digest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veille/internal/types"
)

// mockUserRepo implements UserRepository over an in-memory profile slice,
// reproducing the keyset contract: id > afterID, ordered, limited.
type mockUserRepo struct {
	profiles []types.UserProfile

	pageCalls     int
	bulkErr       error
	bulkUserIDs   []string
	bulkSentAt    time.Time
	bulkCallCount int
}

func (m *mockUserRepo) ListProfilesAfter(ctx context.Context, afterID string, limit int) ([]types.UserProfile, error) {
	m.pageCalls++
	var page []types.UserProfile
	for _, p := range m.profiles {
		if p.ID > afterID {
			page = append(page, p)
			if len(page) == limit {
				break
			}
		}
	}
	return page, nil
}

func (m *mockUserRepo) BulkSetLastNotified(ctx context.Context, userIDs []string, sentAt time.Time) (int64, error) {
	m.bulkCallCount++
	m.bulkUserIDs = userIDs
	m.bulkSentAt = sentAt
	if m.bulkErr != nil {
		return 0, m.bulkErr
	}
	return int64(len(userIDs)), nil
}

func newTestRunner(users *mockUserRepo, content *mockContentRepo, gw *mockGateway, pageSize int) *Runner {
	selector := NewSelector(content, nil)
	batcher := NewBatcher(gw, "tmpl-digest", 10, 2, nil)
	return NewRunner(users, selector, batcher, pageSize, 3, nil)
}

func dueProfile(id string) types.UserProfile {
	return types.UserProfile{
		ID:          id,
		Email:       id + "@example.com",
		FirstName:   "User " + id,
		Disciplines: []string{"cardiologie"},
		Frequency:   types.FrequencyDaily,
		// Never notified: always due.
	}
}

func freshArticle(id int64, now time.Time) types.Article {
	return types.Article{
		ID:         id,
		Title:      "Article",
		Discipline: "cardiologie",
		AddedAt:    now.Add(-2 * time.Hour),
		Link:       fmt.Sprintf("https://example.com/%d", id),
	}
}

func TestRunWalksEveryPage(t *testing.T) {
	now := ts("2026-03-10T06:00:00Z")

	var profiles []types.UserProfile
	for i := 0; i < 25; i++ {
		profiles = append(profiles, dueProfile(fmt.Sprintf("u%02d", i)))
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

	users := &mockUserRepo{profiles: profiles}
	content := &mockContentRepo{rows: []types.Article{freshArticle(1, now)}}
	gw := &mockGateway{}

	stats, err := newTestRunner(users, content, gw, 10).Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 25, stats.UsersScanned)
	assert.Equal(t, 25, stats.UsersEligible)
	assert.Equal(t, 25, stats.UsersNotified)
	assert.Equal(t, 25, stats.ItemsSent)
	// Three pages; the short last page stops the walk without an extra
	// empty fetch.
	assert.Equal(t, 3, users.pageCalls)
	assert.NotEmpty(t, stats.RunID)
}

func TestRunSkipsNotDueUsers(t *testing.T) {
	now := ts("2026-03-10T06:00:00Z")

	recent := dueProfile("u1")
	recent.LastNotifiedAt = tsp("2026-03-10T05:00:00Z") // an hour ago, not due

	users := &mockUserRepo{profiles: []types.UserProfile{recent, dueProfile("u2")}}
	content := &mockContentRepo{rows: []types.Article{freshArticle(1, now)}}
	gw := &mockGateway{}

	stats, err := newTestRunner(users, content, gw, 10).Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 2, stats.UsersScanned)
	assert.Equal(t, 1, stats.UsersEligible)
	assert.Equal(t, 1, stats.UsersNotified)
	assert.Equal(t, []string{"u2"}, users.bulkUserIDs)
}

func TestRunSkipsUnparseableTimestamp(t *testing.T) {
	now := ts("2026-03-10T06:00:00Z")

	corrupt := dueProfile("u1")
	corrupt.LastNotifiedRaw = "not-a-date"

	users := &mockUserRepo{profiles: []types.UserProfile{corrupt}}
	content := &mockContentRepo{rows: []types.Article{freshArticle(1, now)}}
	gw := &mockGateway{}

	stats, err := newTestRunner(users, content, gw, 10).Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsersScanned)
	assert.Zero(t, stats.UsersEligible)
	assert.Zero(t, stats.UsersNotified)
	assert.Zero(t, users.bulkCallCount, "no timestamps should advance")
}

func TestRunEligibleWithoutContentIsNotNotified(t *testing.T) {
	now := ts("2026-03-10T06:00:00Z")

	noSubs := dueProfile("u1")
	noSubs.Disciplines = nil

	users := &mockUserRepo{profiles: []types.UserProfile{noSubs}}
	content := &mockContentRepo{}
	gw := &mockGateway{}

	stats, err := newTestRunner(users, content, gw, 10).Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsersEligible)
	assert.Zero(t, stats.UsersNotified)
	assert.Empty(t, gw.batches, "nothing to deliver")
	assert.Zero(t, users.bulkCallCount)
}

func TestRunWritesBackOnlySuccessfulSends(t *testing.T) {
	now := ts("2026-03-10T06:00:00Z")

	users := &mockUserRepo{profiles: []types.UserProfile{
		dueProfile("u1"), dueProfile("u2"), dueProfile("u3"),
	}}
	content := &mockContentRepo{rows: []types.Article{freshArticle(1, now)}}
	gw := &mockGateway{failFor: map[string]bool{"u2@example.com": true}}

	selector := NewSelector(content, nil)
	// Batch size 1 so each user is its own batch and u2 fails alone.
	batcher := NewBatcher(gw, "tmpl-digest", 1, 1, nil)
	runner := NewRunner(users, selector, batcher, 10, 3, nil)

	stats, err := runner.Run(context.Background(), now)

	require.NoError(t, err)
	assert.Equal(t, 3, stats.UsersEligible)
	assert.Equal(t, 2, stats.UsersNotified)
	assert.ElementsMatch(t, []string{"u1", "u3"}, users.bulkUserIDs)
	assert.Equal(t, now, users.bulkSentAt)
}

func TestRunSucceedsWhenBulkWriteFails(t *testing.T) {
	now := ts("2026-03-10T06:00:00Z")

	users := &mockUserRepo{
		profiles: []types.UserProfile{dueProfile("u1")},
		bulkErr:  errors.New("write timeout"),
	}
	content := &mockContentRepo{rows: []types.Article{freshArticle(1, now)}}
	gw := &mockGateway{}

	stats, err := newTestRunner(users, content, gw, 10).Run(context.Background(), now)

	// Emails went out; the run reports success and the next run re-selects.
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsersNotified)
	assert.Equal(t, 1, users.bulkCallCount)
}
