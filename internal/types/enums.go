package types

// Frequency is a user's configured notification cadence. The set is closed:
// values coming from the database that are not listed here are treated as
// FrequencyUnknown, which is never due and selects no content.
type Frequency string

const (
	FrequencyDaily      Frequency = "daily"
	FrequencyEvery2Days Frequency = "every_2_days"
	FrequencyEvery3Days Frequency = "every_3_days"
	FrequencyWeekly     Frequency = "weekly"
	FrequencyBiweekly   Frequency = "biweekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyUnknown    Frequency = "unknown"
)

// FrequencyRule bundles the three values derived from a Frequency: the
// minimum number of elapsed UTC calendar days before a user is due again,
// the content lookback window, and the per-category fetch cap.
//
// Earlier revisions of the product spread these mappings across three
// switch statements that drifted apart (weekly sometimes required Monday,
// caps disagreed). This table is the single authority consumed by the
// eligibility evaluator and the content selector alike.
type FrequencyRule struct {
	// MinDays is the number of elapsed UTC calendar days after which the
	// user is due. Zero means never due.
	MinDays int

	// LookbackDays is how far back (in days) content is considered fresh.
	LookbackDays int

	// PerCategoryCap is the maximum number of items fetched per subscribed
	// category.
	PerCategoryCap int
}

// frequencyRules is the canonical cadence table. Daily users get a single
// fresh item per category; lower cadences accumulate proportionally more.
var frequencyRules = map[Frequency]FrequencyRule{
	FrequencyDaily:      {MinDays: 1, LookbackDays: 1, PerCategoryCap: 1},
	FrequencyEvery2Days: {MinDays: 2, LookbackDays: 2, PerCategoryCap: 1},
	FrequencyEvery3Days: {MinDays: 3, LookbackDays: 3, PerCategoryCap: 1},
	FrequencyWeekly:     {MinDays: 7, LookbackDays: 7, PerCategoryCap: 7},
	FrequencyBiweekly:   {MinDays: 15, LookbackDays: 15, PerCategoryCap: 15},
	FrequencyMonthly:    {MinDays: 30, LookbackDays: 30, PerCategoryCap: 30},
}

// Rule returns the derived values for the frequency. Unlisted frequencies
// (including FrequencyUnknown) return the zero rule: never due, no lookback,
// no cap, which short-circuits content selection.
func (f Frequency) Rule() FrequencyRule {
	return frequencyRules[f]
}

// Known reports whether the frequency is a member of the closed enum.
func (f Frequency) Known() bool {
	_, ok := frequencyRules[f]
	return ok
}

// ParseFrequency maps a raw database value onto the closed enum, returning
// FrequencyUnknown for anything unrecognized.
func ParseFrequency(raw string) Frequency {
	f := Frequency(raw)
	if f.Known() {
		return f
	}
	return FrequencyUnknown
}

// Outcome is the terminal classification of one user within one digest run.
// Every scanned user ends in exactly one of these states; there are no
// transitions out of a terminal state within a run.
type Outcome string

const (
	// OutcomeSkipped: not yet due per the user's frequency.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeEligibleEmpty: due, but no subscriptions or no fresh content.
	// Counts toward eligible, never toward notified.
	OutcomeEligibleEmpty Outcome = "eligible_empty"

	// OutcomeNotified: due, had content, and the batch send succeeded.
	// Only these users get their last-notified timestamp advanced.
	OutcomeNotified Outcome = "notified"

	// OutcomeEligibleUnsent: due, had content, but the batch send failed.
	// The timestamp is not advanced, so the next run re-selects the user.
	OutcomeEligibleUnsent Outcome = "eligible_unsent"
)
