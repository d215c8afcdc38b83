package digest

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"veille/internal/external"
	"veille/internal/types"
)

// Recipient is one eligible user together with the deduplicated articles
// selected for their digest. Recipients without articles never reach the
// batcher.
type Recipient struct {
	UserID    string
	Email     string
	FirstName string
	Articles  []types.Article
}

// EmailGateway is the delivery collaborator. One SendBatch call carries one
// whole delivery batch; its error is the whole batch's error.
type EmailGateway interface {
	SendBatch(ctx context.Context, personalizations []external.Personalization, templateID string) error
}

// DeliveryResult reports what the batcher actually accomplished. The success
// set (SentUserIDs) is the only input to the last-notified write-back: users
// in failed batches keep their old timestamp and are naturally re-selected
// by the next run, which is the system's sole retry mechanism.
type DeliveryResult struct {
	SentUserIDs   []string
	ItemsSent     int
	FailedBatches int
}

// Batcher groups recipients into fixed-size batches and submits each batch
// independently to the email gateway.
type Batcher struct {
	gateway     EmailGateway
	templateID  string
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// NewBatcher creates a Batcher. batchSize is bounded by the gateway's
// accepted personalization count; concurrency bounds in-flight sends.
func NewBatcher(gateway EmailGateway, templateID string, batchSize, concurrency int, logger *slog.Logger) *Batcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		gateway:     gateway,
		templateID:  templateID,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Deliver sends every batch and returns once all have settled, so the caller
// can treat the result's success set as final before writing timestamps.
//
// Batches fail independently: a gateway error marks that batch's users as
// unsent and the remaining batches still go out. There is no within-run
// retry; a failed batch's users stay due and the next scheduled run picks
// them up again.
func (b *Batcher) Deliver(ctx context.Context, recipients []Recipient) DeliveryResult {
	var (
		mu     sync.Mutex
		result DeliveryResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(recipients); start += b.batchSize {
		batch := recipients[start:min(start+b.batchSize, len(recipients))]
		batchIndex := start / b.batchSize

		g.Go(func() error {
			personalizations := make([]external.Personalization, 0, len(batch))
			items := 0
			for _, r := range batch {
				personalizations = append(personalizations, external.Personalization{
					Email: r.Email,
					Name:  r.FirstName,
					Data:  digestTemplateData(r),
				})
				items += len(r.Articles)
			}

			if err := b.gateway.SendBatch(ctx, personalizations, b.templateID); err != nil {
				b.logger.ErrorContext(ctx, "digest batch send failed",
					"batch", batchIndex,
					"recipients", len(batch),
					"error", err,
				)
				mu.Lock()
				result.FailedBatches++
				mu.Unlock()
				// Failure is recorded in the result, not propagated: one
				// batch must not cancel its siblings.
				return nil
			}

			ids := make([]string, 0, len(batch))
			for _, r := range batch {
				ids = append(ids, r.UserID)
			}
			mu.Lock()
			result.SentUserIDs = append(result.SentUserIDs, ids...)
			result.ItemsSent += items
			mu.Unlock()

			b.logger.InfoContext(ctx, "digest batch sent",
				"batch", batchIndex,
				"recipients", len(batch),
				"items", items,
			)
			return nil
		})
	}

	// Barrier: the success set must be complete before the caller's bulk
	// timestamp write. Workers never return errors, so Wait only joins.
	_ = g.Wait()
	return result
}

// digestTemplateData builds the dynamic template payload for one recipient.
// Field names match the SendGrid dynamic template.
func digestTemplateData(r Recipient) map[string]any {
	articles := make([]map[string]any, 0, len(r.Articles))
	for _, a := range r.Articles {
		articles = append(articles, map[string]any{
			"id":         strconv.FormatInt(a.ID, 10),
			"title":      a.Title,
			"journal":    a.DisplayJournal(),
			"discipline": a.DisplayDiscipline(),
			"link":       a.Link,
		})
	}
	return map[string]any{
		"first_name": r.FirstName,
		"articles":   articles,
	}
}
