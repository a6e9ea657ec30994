package export

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/rs/zerolog"
)

// Property names of the Notion transactions database.
const (
	notionIDProperty          = "Transaction ID"
	notionDescriptionProperty = "Description"
)

// NotionService is the subset of the Notion API the mirror uses.
type NotionService interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	ArchivePage(ctx context.Context, pageID string) error
}

// NotionClient implements NotionService with the notionapi SDK.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a client authenticated with token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{client: notionapi.NewClient(notionapi.Token(token))}
}

// CreatePage creates a page in a database.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := n.client.Page.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}
	return page, nil
}

// UpdatePage replaces the given properties of a page.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: properties})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}
	return page, nil
}

// QueryDatabase runs one page of a database query.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}
	return resp, nil
}

// ArchivePage archives a page, Notion's form of deletion.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	if _, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Archived: true}); err != nil {
		return fmt.Errorf("ArchivePage: %w", err)
	}
	return nil
}

// TransactionProperties maps a transaction to Notion page properties.
func TransactionProperties(tx domain.Transaction) notionapi.Properties {
	title := tx.Description
	if title == "" {
		title = tx.Category
	}

	props := notionapi.Properties{
		notionDescriptionProperty: notionapi.TitleProperty{
			Title: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: title}}},
		},
		notionIDProperty: notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: tx.ID}}},
		},
		"Amount": notionapi.NumberProperty{
			Number: tx.Amount.InexactFloat64(),
		},
		"Type": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Type)},
		},
		"Recurring": notionapi.CheckboxProperty{
			Checkbox: tx.IsRecurring,
		},
	}

	if tx.Category != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.Category},
		}
	}

	if tx.Date.IsValid() {
		d := notionapi.Date(tx.Date.In(time.UTC))
		props["Date"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}

	return props
}

// MirrorResult counts what a mirror run changed.
type MirrorResult struct {
	Created  int
	Updated  int
	Archived int
	Failed   int
}

// NotionMirror upserts transactions into a Notion database keyed by the
// Transaction ID property.
type NotionMirror struct {
	svc        NotionService
	databaseID string
	log        zerolog.Logger
}

// NewNotionMirror creates a mirror for databaseID.
func NewNotionMirror(svc NotionService, databaseID string, log zerolog.Logger) *NotionMirror {
	return &NotionMirror{svc: svc, databaseID: databaseID, log: log.With().Str("component", "notion").Logger()}
}

// DatabaseID returns the target database.
func (m *NotionMirror) DatabaseID() string {
	return m.databaseID
}

// Mirror creates or updates a page for each transaction. With prune, pages
// whose Transaction ID is not in txs are archived. Individual page failures
// are logged and counted; only listing the database is fatal.
func (m *NotionMirror) Mirror(ctx context.Context, txs []domain.Transaction, prune bool) (MirrorResult, error) {
	var res MirrorResult

	pages, err := m.allPages(ctx)
	if err != nil {
		return res, fmt.Errorf("Mirror: %w", err)
	}

	existing := make(map[string]string, len(pages))
	for _, p := range pages {
		if id := pageTransactionID(p); id != "" {
			existing[id] = string(p.ID)
		}
	}

	wanted := make(map[string]bool, len(txs))
	for _, tx := range txs {
		wanted[tx.ID] = true
		props := TransactionProperties(tx)

		if pageID, ok := existing[tx.ID]; ok {
			if _, err := m.svc.UpdatePage(ctx, pageID, props); err != nil {
				m.log.Warn().Err(err).Str("transaction_id", tx.ID).Str("page_id", pageID).Msg("Failed to update Notion page")
				res.Failed++
				continue
			}
			res.Updated++
			continue
		}

		page, err := m.svc.CreatePage(ctx, m.databaseID, props)
		if err != nil {
			m.log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		m.log.Debug().Str("transaction_id", tx.ID).Str("page_id", string(page.ID)).Msg("Created Notion page")
		res.Created++
	}

	if prune {
		for _, p := range pages {
			if id := pageTransactionID(p); id != "" && wanted[id] {
				continue
			}
			if err := m.svc.ArchivePage(ctx, string(p.ID)); err != nil {
				m.log.Warn().Err(err).Str("page_id", string(p.ID)).Msg("Failed to archive stale Notion page")
				res.Failed++
				continue
			}
			res.Archived++
		}
	}

	m.log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Notion mirror completed")
	return res, nil
}

// allPages follows the query cursor until the database is exhausted.
func (m *NotionMirror) allPages(ctx context.Context) ([]notionapi.Page, error) {
	var (
		pages  []notionapi.Page
		cursor notionapi.Cursor
	)
	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: 100}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := m.svc.QueryDatabase(ctx, m.databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("allPages: %w", err)
		}
		pages = append(pages, resp.Results...)

		if !resp.HasMore {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

func pageTransactionID(page notionapi.Page) string {
	var texts []notionapi.RichText
	switch p := page.Properties[notionIDProperty].(type) {
	case *notionapi.RichTextProperty:
		texts = p.RichText
	case notionapi.RichTextProperty:
		texts = p.RichText
	}
	if len(texts) == 0 {
		return ""
	}
	if texts[0].PlainText != "" {
		return texts[0].PlainText
	}
	if texts[0].Text != nil {
		return texts[0].Text.Content
	}
	return ""
}

var _ NotionService = (*NotionClient)(nil)
