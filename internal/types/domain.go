// Package types defines the shared domain model of the veille notification
// platform: user profiles, articles, the frequency cadence table, run
// statistics, and the application error taxonomy. It has no dependencies on
// other internal packages so that every layer can import it.
package types

import (
	"fmt"
	"time"
)

// UserProfile is one row of the user_profiles table as seen by the digest
// engine. Only the Delivery stage mutates it, and only the last-notified
// timestamp, and only after a confirmed send.
type UserProfile struct {
	ID          string
	Email       string
	FirstName   string
	Disciplines []string
	Frequency   Frequency

	// LastNotifiedAt is nil when the user has never been notified. Once
	// set it is monotonically non-decreasing across successful runs.
	LastNotifiedAt *time.Time

	// LastNotifiedRaw preserves the stored ISO-8601 text when it could not
	// be parsed. A non-empty value with a nil LastNotifiedAt marks a
	// malformed timestamp, which the evaluator treats as "not due" (fail
	// closed: skipping beats risking a double send).
	LastNotifiedRaw string
}

// Article is one candidate content item for a user's digest. Identity (ID)
// drives deduplication: within one user's digest the same article appears at
// most once even when it matched several subscribed disciplines.
type Article struct {
	ID         int64
	Title      string
	Journal    string
	Discipline string

	// AddedAt is when the article was surfaced to the platform, which is
	// deliberately distinct from PublishedAt: a reshown older article still
	// counts as fresh.
	AddedAt     time.Time
	PublishedAt time.Time
	Link        string
}

// DisplayJournal returns the journal name with the product's French default
// applied when the source is unknown.
func (a Article) DisplayJournal() string {
	if a.Journal == "" {
		return "Inconnu"
	}
	return a.Journal
}

// DisplayDiscipline returns the discipline label with the product's French
// default applied when unset.
func (a Article) DisplayDiscipline() string {
	if a.Discipline == "" {
		return "Non spécifié"
	}
	return a.Discipline
}

// RunStats is the externally observable result of one digest run. It exists
// only for the duration of the invocation and is returned as the job output.
type RunStats struct {
	RunID         string    `json:"runId"`
	StartedAt     time.Time `json:"startedAt"`
	Duration      string    `json:"duration"`
	UsersScanned  int       `json:"usersScanned"`
	UsersEligible int       `json:"usersEligible"`
	UsersNotified int       `json:"usersNotified"`
	ItemsSent     int       `json:"itemsSent"`
}

// String renders the counters for log lines.
func (s RunStats) String() string {
	return fmt.Sprintf("scanned=%d eligible=%d notified=%d items=%d",
		s.UsersScanned, s.UsersEligible, s.UsersNotified, s.ItemsSent)
}

// EmailMessage is the payload enqueued for the transactional email worker.
// Kind selects the template family; Data carries the dynamic template fields.
type EmailMessage struct {
	ReferenceID string            `json:"reference_id"`
	Kind        EmailKind         `json:"kind"`
	Recipient   string            `json:"recipient"`
	TemplateID  string            `json:"template_id,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}

// EmailKind identifies a transactional email family.
type EmailKind string

const (
	EmailKindWelcome   EmailKind = "welcome"
	EmailKindBroadcast EmailKind = "broadcast"
)
