package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/jobs"
	"github.com/dvloznov/pocketpilot/internal/logger"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/remote/memory"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

func d(s string) civil.Date {
	date, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return date
}

var generated = time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)

func testSnapshot() Snapshot {
	return Snapshot{
		Transactions: []domain.Transaction{
			{ID: "t1", Type: domain.TransactionExpense, Amount: decimal.NewFromInt(40), Category: "Comida", Description: "Super | mercado", Date: d("2024-03-02")},
			{ID: "t2", Type: domain.TransactionIncome, Amount: decimal.NewFromInt(1000), Category: "Sueldo", Description: "Nómina", Date: d("2024-02-28")},
			{ID: "t3", Type: domain.TransactionExpense, Amount: decimal.NewFromInt(10), Category: "Transporte", Description: "Metro", Date: d("2024-01-15")},
		},
		Budgets: []domain.Budget{
			{ID: "b1", Name: "Comida", Amount: decimal.NewFromInt(200), Category: "Comida", Period: domain.PeriodMonthly},
		},
		Accounts: []domain.Account{
			{ID: "a1", Name: "Banco", Type: domain.AccountBank, Balance: decimal.NewFromInt(1500), Currency: "USD", IsActive: true},
		},
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Format: FormatCSV, Type: ReportTransactions}, false},
		{"valid range", Options{Format: FormatJSON, Type: ReportSummary, From: d("2024-01-01"), To: d("2024-01-31")}, false},
		{"same day", Options{Format: FormatJSON, Type: ReportSummary, From: d("2024-01-01"), To: d("2024-01-01")}, false},
		{"unknown format", Options{Format: "pdf", Type: ReportTransactions}, true},
		{"unknown type", Options{Format: FormatCSV, Type: "goals"}, true},
		{"reversed range", Options{Format: FormatCSV, Type: ReportTransactions, From: d("2024-02-01"), To: d("2024-01-01")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Validate() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{Format: FormatCSV, Type: ReportTransactions, GeneratedAt: generated}, "pocketpilot-transactions-20240305.csv"},
		{Options{Format: FormatMarkdown, Type: ReportSummary, GeneratedAt: generated}, "pocketpilot-summary-20240305.md"},
		{Options{Format: FormatHTML, Type: ReportBudgets, GeneratedAt: generated}, "pocketpilot-budgets-20240305.html"},
	}
	for _, tt := range tests {
		if got := FileName(tt.opts); got != tt.want {
			t.Errorf("FileName() = %q, want %q", got, tt.want)
		}
	}
}

func TestRender_CSVTransactionsInRange(t *testing.T) {
	doc, err := Render(testSnapshot(), Options{
		Format:      FormatCSV,
		Type:        ReportTransactions,
		From:        d("2024-02-01"),
		To:          d("2024-03-31"),
		GeneratedAt: generated,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if doc.ContentType != "text/csv; charset=utf-8" {
		t.Errorf("ContentType = %q", doc.ContentType)
	}

	records, err := csv.NewReader(strings.NewReader(string(doc.Data))).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2", len(records))
	}
	if records[1][0] != "2024-03-02" || records[1][3] != "Super | mercado" || records[1][4] != "40.00" {
		t.Errorf("first row = %v", records[1])
	}
	if records[2][1] != "income" {
		t.Errorf("second row = %v", records[2])
	}
}

func TestRender_JSONBudgets(t *testing.T) {
	doc, err := Render(testSnapshot(), Options{Format: FormatJSON, Type: ReportBudgets, GeneratedAt: generated})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got struct {
		Type    string `json:"type"`
		Budgets []struct {
			Spent   decimal.Decimal `json:"spent"`
			Percent float64         `json:"percent"`
		} `json:"budgets"`
		Transactions []any `json:"transactions"`
	}
	if err := json.Unmarshal(doc.Data, &got); err != nil {
		t.Fatalf("decoding json: %v", err)
	}
	if got.Type != "budgets" || len(got.Budgets) != 1 {
		t.Fatalf("report = %+v", got)
	}
	if !got.Budgets[0].Spent.Equal(decimal.NewFromInt(40)) || got.Budgets[0].Percent != 20 {
		t.Errorf("budget status = %+v", got.Budgets[0])
	}
	if got.Transactions != nil {
		t.Error("budgets report includes transactions")
	}
}

func TestRender_MarkdownAndHTML(t *testing.T) {
	snap := testSnapshot()

	md, err := Render(snap, Options{Format: FormatMarkdown, Type: ReportSummary, GeneratedAt: generated})
	if err != nil {
		t.Fatalf("Render(markdown) error = %v", err)
	}
	for _, want := range []string{"# PocketPilot: Resumen", "$1,500.00", "| Comida | $40.00 | 80.0 |", "| 2024-03 |"} {
		if !strings.Contains(string(md.Data), want) {
			t.Errorf("markdown missing %q:\n%s", want, md.Data)
		}
	}

	html, err := Render(snap, Options{Format: FormatHTML, Type: ReportTransactions, GeneratedAt: generated})
	if err != nil {
		t.Fatalf("Render(html) error = %v", err)
	}
	for _, want := range []string{"<!DOCTYPE html>", "<title>PocketPilot: Transacciones</title>", "<table>", "Metro"} {
		if !strings.Contains(string(html.Data), want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestRender_EmptySnapshot(t *testing.T) {
	doc, err := Render(Snapshot{}, Options{Format: FormatMarkdown, Type: ReportAccounts, GeneratedAt: generated})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(string(doc.Data), "No hay cuentas.") {
		t.Errorf("markdown = %s", doc.Data)
	}
}

func TestDirDestination(t *testing.T) {
	dir := t.TempDir()
	doc := Document{Name: "pocketpilot-accounts-20240305.csv", Data: []byte("name\n")}

	loc, err := DirDestination{Dir: dir}.Deliver(context.Background(), "user-1", doc)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if want := filepath.Join(dir, "user-1", doc.Name); loc != want {
		t.Errorf("location = %q, want %q", loc, want)
	}
	data, err := os.ReadFile(loc)
	if err != nil || string(data) != "name\n" {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}

// mockNotion is a mock for testing
type mockNotion struct {
	pages    []notionapi.Page
	created  []notionapi.Properties
	updated  map[string]notionapi.Properties
	archived []string
	queries  int
	failFor  string
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
	if id := propText(props); id == m.failFor {
		return nil, errors.New("rate limited")
	}
	m.created = append(m.created, props)
	return &notionapi.Page{ID: notionapi.ObjectID("new-page")}, nil
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, props notionapi.Properties) (*notionapi.Page, error) {
	if m.updated == nil {
		m.updated = make(map[string]notionapi.Properties)
	}
	m.updated[pageID] = props
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

// QueryDatabase serves one page per call to exercise the cursor loop.
func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	m.queries++
	i := 0
	if req.StartCursor != "" {
		i = 1
	}
	if i >= len(m.pages) {
		return &notionapi.DatabaseQueryResponse{}, nil
	}
	return &notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{m.pages[i]},
		HasMore:    i+1 < len(m.pages),
		NextCursor: notionapi.Cursor("next"),
	}, nil
}

func (m *mockNotion) ArchivePage(ctx context.Context, pageID string) error {
	m.archived = append(m.archived, pageID)
	return nil
}

func propText(props notionapi.Properties) string {
	p, ok := props[notionIDProperty].(notionapi.RichTextProperty)
	if !ok || len(p.RichText) == 0 {
		return ""
	}
	return p.RichText[0].Text.Content
}

func notionPage(pageID, txID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			notionIDProperty: &notionapi.RichTextProperty{RichText: []notionapi.RichText{{PlainText: txID}}},
		},
	}
}

func TestNotionMirror(t *testing.T) {
	svc := &mockNotion{pages: []notionapi.Page{notionPage("p1", "t1"), notionPage("p-stale", "gone")}}
	m := NewNotionMirror(svc, "db-1", logger.NewWithWriter(io.Discard))

	res, err := m.Mirror(context.Background(), testSnapshot().Transactions, true)
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}

	if svc.queries != 2 {
		t.Errorf("queries = %d, want 2", svc.queries)
	}
	if res.Updated != 1 || svc.updated["p1"] == nil {
		t.Errorf("updated = %d (%v), want p1", res.Updated, svc.updated)
	}
	if res.Created != 2 || len(svc.created) != 2 {
		t.Errorf("created = %d", res.Created)
	}
	if res.Archived != 1 || len(svc.archived) != 1 || svc.archived[0] != "p-stale" {
		t.Errorf("archived = %v", svc.archived)
	}
}

func TestNotionMirror_NoPruneAndFailures(t *testing.T) {
	svc := &mockNotion{pages: []notionapi.Page{notionPage("p-stale", "gone")}, failFor: "t2"}
	m := NewNotionMirror(svc, "db-1", logger.NewWithWriter(io.Discard))

	res, err := m.Mirror(context.Background(), testSnapshot().Transactions, false)
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	if res.Created != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 created 1 failed", res)
	}
	if len(svc.archived) != 0 {
		t.Errorf("archived without prune: %v", svc.archived)
	}
}

func TestTransactionProperties(t *testing.T) {
	tx := testSnapshot().Transactions[0]
	props := TransactionProperties(tx)

	if got := propText(props); got != "t1" {
		t.Errorf("Transaction ID = %q", got)
	}
	amount, ok := props["Amount"].(notionapi.NumberProperty)
	if !ok || amount.Number != 40 {
		t.Errorf("Amount = %+v", props["Amount"])
	}
	date, ok := props["Date"].(notionapi.DateProperty)
	if !ok || time.Time(*date.Date.Start).Format("2006-01-02") != "2024-03-02" {
		t.Errorf("Date = %+v", props["Date"])
	}
}

// fakeDestination is a mock for testing
type fakeDestination struct {
	docs []Document
	err  error
}

func (f *fakeDestination) Deliver(ctx context.Context, userID string, doc Document) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.docs = append(f.docs, doc)
	return "mem://" + userID + "/" + doc.Name, nil
}

func TestRunner_Handle(t *testing.T) {
	dest := &fakeDestination{}
	var requested string
	r := NewRunner(func(ctx context.Context, userID string) (Snapshot, error) {
		requested = userID
		return testSnapshot(), nil
	}, logger.NewWithWriter(io.Discard))
	r.now = func() time.Time { return generated }
	r.Register(jobs.DestinationDir, dest)

	job := &jobs.ExportJob{JobID: "j1", UserID: "user-1", Format: "csv", ReportType: "accounts", Destination: jobs.DestinationDir}
	if err := r.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if requested != "user-1" {
		t.Errorf("snapshot requested for %q", requested)
	}
	if job.Location != "mem://user-1/pocketpilot-accounts-20240305.csv" {
		t.Errorf("Location = %q", job.Location)
	}
	if len(dest.docs) != 1 || !strings.Contains(string(dest.docs[0].Data), "Banco,bank,USD,1500.00,true") {
		t.Errorf("delivered = %+v", dest.docs)
	}
}

func TestRunner_HandleErrors(t *testing.T) {
	snapErr := errors.New("session changed")
	deliverErr := errors.New("disk full")

	tests := []struct {
		name     string
		job      *jobs.ExportJob
		snapshot SnapshotFunc
		dest     Destination
		wantErr  error
	}{
		{
			name:    "invalid format",
			job:     &jobs.ExportJob{Format: "pdf", ReportType: "accounts", Destination: jobs.DestinationDir},
			wantErr: ErrInvalidOptions,
		},
		{
			name:     "snapshot failure",
			job:      &jobs.ExportJob{Format: "csv", ReportType: "accounts", Destination: jobs.DestinationDir},
			snapshot: func(context.Context, string) (Snapshot, error) { return Snapshot{}, snapErr },
			wantErr:  snapErr,
		},
		{
			name:    "delivery failure",
			job:     &jobs.ExportJob{Format: "csv", ReportType: "accounts", Destination: jobs.DestinationDir},
			dest:    &fakeDestination{err: deliverErr},
			wantErr: deliverErr,
		},
		{
			name: "unknown destination",
			job:  &jobs.ExportJob{Format: "csv", ReportType: "accounts", Destination: "ftp"},
		},
		{
			name: "notion not configured",
			job:  &jobs.ExportJob{Format: "csv", ReportType: "transactions", Destination: jobs.DestinationNotion},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := tt.snapshot
			if snapshot == nil {
				snapshot = func(context.Context, string) (Snapshot, error) { return testSnapshot(), nil }
			}
			r := NewRunner(snapshot, logger.NewWithWriter(io.Discard))
			dest := tt.dest
			if dest == nil {
				dest = &fakeDestination{}
			}
			r.Register(jobs.DestinationDir, dest)

			err := r.Handle(context.Background(), tt.job)
			if err == nil {
				t.Fatal("Handle() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Handle() error = %v, want %v", err, tt.wantErr)
			}
			if tt.job.Location != "" {
				t.Errorf("Location set on failure: %q", tt.job.Location)
			}
		})
	}
}

func TestRunner_NotionDestination(t *testing.T) {
	svc := &mockNotion{}
	r := NewRunner(func(context.Context, string) (Snapshot, error) { return testSnapshot(), nil }, logger.NewWithWriter(io.Discard))
	r.SetMirror(NewNotionMirror(svc, "db-9", logger.NewWithWriter(io.Discard)))

	job := &jobs.ExportJob{
		UserID:      "user-1",
		Format:      "json",
		ReportType:  "transactions",
		From:        d("2024-03-01"),
		Destination: jobs.DestinationNotion,
	}
	if err := r.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if job.Location != "notion:db-9" {
		t.Errorf("Location = %q", job.Location)
	}
	if len(svc.created) != 1 {
		t.Errorf("created %d pages, want only the in-range transaction", len(svc.created))
	}
	if got := r.Destinations(); len(got) != 1 || got[0] != jobs.DestinationNotion {
		t.Errorf("Destinations() = %v", got)
	}
}

func TestBackendSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewClient()
	defer backend.Close()

	rows := []struct {
		table  string
		userID string
		row    remote.Row
	}{
		{remote.TableTransactions, "u1", remote.Row{"id": "t1", "type": "expense", "amount": decimal.RequireFromString("5"), "category": "Comida", "date": civil.Date{Year: 2024, Month: 3, Day: 1}}},
		{remote.TableTransactions, "u2", remote.Row{"id": "t2", "type": "income", "amount": decimal.RequireFromString("9"), "category": "Sueldo", "date": civil.Date{Year: 2024, Month: 3, Day: 2}}},
		{remote.TableAccounts, "u1", remote.Row{"id": "a1", "name": "Main", "type": "bank", "balance": decimal.RequireFromString("10"), "currency": "USD"}},
	}
	for _, r := range rows {
		if err := backend.Table(r.table).Insert(ctx, r.userID, r.row); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := BackendSnapshot(backend)(ctx, "u1")
	if err != nil {
		t.Fatalf("BackendSnapshot() error = %v", err)
	}
	if len(snap.Transactions) != 1 || snap.Transactions[0].ID != "t1" {
		t.Errorf("Transactions = %+v, want only t1", snap.Transactions)
	}
	if len(snap.Accounts) != 1 || !snap.Accounts[0].IsActive {
		t.Errorf("Accounts = %+v, want one active account", snap.Accounts)
	}
	if len(snap.Budgets) != 0 {
		t.Errorf("Budgets = %+v, want none", snap.Budgets)
	}

	if _, err := BackendSnapshot(backend)(ctx, ""); err == nil {
		t.Error("BackendSnapshot(\"\") error = nil, want error")
	}
}
