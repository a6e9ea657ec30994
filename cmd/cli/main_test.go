package main

import (
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/export"
)

func TestExportOptions(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		typ      string
		from     string
		to       string
		wantErr  bool
		wantFrom civil.Date
		wantTo   civil.Date
	}{
		{name: "open range", format: "csv", typ: "transactions"},
		{
			name: "bounded", format: "json", typ: "summary", from: "2024-01-01", to: "2024-01-31",
			wantFrom: civil.Date{Year: 2024, Month: 1, Day: 1},
			wantTo:   civil.Date{Year: 2024, Month: 1, Day: 31},
		},
		{name: "bad date", format: "csv", typ: "transactions", from: "01/02/2024", wantErr: true},
		{name: "unknown format", format: "pdf", typ: "transactions", wantErr: true},
		{name: "reversed range", format: "csv", typ: "transactions", from: "2024-02-01", to: "2024-01-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exportOptions(tt.format, tt.typ, tt.from, tt.to)
			if tt.wantErr {
				if err == nil {
					t.Fatal("exportOptions() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("exportOptions() error = %v", err)
			}
			if got.From != tt.wantFrom || got.To != tt.wantTo {
				t.Errorf("range = %v..%v, want %v..%v", got.From, got.To, tt.wantFrom, tt.wantTo)
			}
			if got.GeneratedAt.IsZero() {
				t.Error("GeneratedAt not set")
			}
		})
	}
}

func TestExportOptionsInvalidIsTyped(t *testing.T) {
	_, err := exportOptions("pdf", "transactions", "", "")
	if !errors.Is(err, export.ErrInvalidOptions) {
		t.Errorf("error = %v, want ErrInvalidOptions", err)
	}
}
