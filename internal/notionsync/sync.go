package notionsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/jomei/notionapi"
)

// SyncResult counts what a sync did, or would do on a dry run.
type SyncResult struct {
	Created  int
	Updated  int
	Archived int
	Failed   int
}

// SyncRecurringPayments mirrors a user's recurring payments into a Notion
// database. Pages are matched by payment key: existing pages are updated,
// missing ones created, and pages of this user whose payment no longer exists
// are archived. A failed page write is logged and counted, not fatal.
func SyncRecurringPayments(ctx context.Context, source PaymentSource, notionClient NotionService, notionDBID, userID string, dryRun bool) (SyncResult, error) {
	var res SyncResult
	log := logger.FromContext(ctx).With().Str("user_id", userID).Bool("dry_run", dryRun).Logger()

	payments, err := source.ListRecurringPayments(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("SyncRecurringPayments: listing payments: %w", err)
	}
	log.Info().Int("payments", len(payments)).Msg("Starting recurring payment sync to Notion")

	pages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return res, fmt.Errorf("SyncRecurringPayments: %w", err)
	}

	prefix := userID + ":"
	existing := make(map[string]string)
	for _, page := range pages {
		if key := extractPaymentKey(page); strings.HasPrefix(key, prefix) {
			existing[key] = string(page.ID)
		}
	}

	current := make(map[string]bool, len(payments))
	for _, p := range payments {
		key := PaymentKey(p)
		current[key] = true
		props := PaymentToNotionProperties(p)

		if pageID, ok := existing[key]; ok {
			if dryRun {
				log.Info().Str("payment_key", key).Str("page_id", pageID).Msg("[DRY RUN] Would update Notion page")
				res.Updated++
				continue
			}
			if _, err := notionClient.UpdatePage(ctx, pageID, props); err != nil {
				log.Warn().Err(err).Str("payment_key", key).Str("page_id", pageID).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		if dryRun {
			log.Info().Str("payment_key", key).Msg("[DRY RUN] Would create Notion page")
			res.Created++
			continue
		}
		page, err := notionClient.CreatePage(ctx, notionDBID, props)
		if err != nil {
			log.Warn().Err(err).Str("payment_key", key).Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		log.Debug().Str("payment_key", key).Str("page_id", string(page.ID)).Msg("Created Notion page")
		res.Created++
	}

	for key, pageID := range existing {
		if current[key] {
			continue
		}
		if dryRun {
			log.Info().Str("payment_key", key).Str("page_id", pageID).Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := notionClient.ArchivePage(ctx, pageID); err != nil {
			log.Warn().Err(err).Str("payment_key", key).Str("page_id", pageID).Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		res.Archived++
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Recurring payment sync completed")
	return res, nil
}

// queryAllNotionPages queries all pages from a Notion database.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
