// Package export renders snapshots of a user's data as downloadable documents
// and delivers them to a local directory, a GCS bucket or a Notion database.
package export

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/views"
)

// ErrInvalidOptions is returned for unknown formats, report types or ranges.
var ErrInvalidOptions = errors.New("invalid export options")

// Format is the document encoding.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}

// ReportType selects what is exported.
type ReportType string

const (
	ReportTransactions ReportType = "transactions"
	ReportBudgets      ReportType = "budgets"
	ReportAccounts     ReportType = "accounts"
	ReportSummary      ReportType = "summary"
)

// Options control rendering. From and To bound transaction dates, inclusive;
// zero values leave that side open.
type Options struct {
	Format      Format
	Type        ReportType
	From        civil.Date
	To          civil.Date
	GeneratedAt time.Time
}

// Validate checks the format, report type and date range.
func (o Options) Validate() error {
	switch o.Format {
	case FormatCSV, FormatJSON, FormatMarkdown, FormatHTML:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidOptions, o.Format)
	}
	switch o.Type {
	case ReportTransactions, ReportBudgets, ReportAccounts, ReportSummary:
	default:
		return fmt.Errorf("%w: unknown report type %q", ErrInvalidOptions, o.Type)
	}
	if o.From != (civil.Date{}) && o.To != (civil.Date{}) && o.To.Before(o.From) {
		return fmt.Errorf("%w: range ends before it starts", ErrInvalidOptions)
	}
	return nil
}

// Bounded reports whether the options restrict the date range.
func (o Options) Bounded() bool {
	return o.From != (civil.Date{}) || o.To != (civil.Date{})
}

// Snapshot is the in-memory data an export is built from.
type Snapshot struct {
	Transactions []domain.Transaction
	Budgets      []domain.Budget
	Accounts     []domain.Account
}

// InRange returns the snapshot transactions inside the options' date range.
func (s Snapshot) InRange(o Options) []domain.Transaction {
	return views.FilterTransactions(s.Transactions, views.TransactionFilter{From: o.From, To: o.To})
}

// Document is a rendered export.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileName returns pocketpilot-<type>-<YYYYMMDD>.<ext>.
func FileName(o Options) string {
	return fmt.Sprintf("pocketpilot-%s-%s.%s", o.Type, o.GeneratedAt.Format("20060102"), o.Format.Ext())
}

// Render encodes the snapshot as described by opts.
func Render(snap Snapshot, opts Options) (Document, error) {
	if err := opts.Validate(); err != nil {
		return Document{}, fmt.Errorf("Render: %w", err)
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now()
	}

	var (
		data []byte
		err  error
	)
	switch opts.Format {
	case FormatCSV:
		data, err = renderCSV(snap, opts)
	case FormatJSON:
		data, err = renderJSON(snap, opts)
	case FormatMarkdown:
		data = []byte(renderMarkdown(snap, opts))
	case FormatHTML:
		data, err = renderHTML(snap, opts)
	}
	if err != nil {
		return Document{}, fmt.Errorf("Render: encoding %s: %w", opts.Format, err)
	}

	return Document{
		Name:        FileName(opts),
		ContentType: opts.Format.ContentType(),
		Data:        data,
	}, nil
}
