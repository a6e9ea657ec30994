package bigquery

import (
	"math/big"
	"reflect"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/shopspring/decimal"
)

func TestDialectInsert(t *testing.T) {
	row := remote.Row{
		"id":         "t1",
		"amount":     decimal.RequireFromString("12.5"),
		"account_id": nil,
		"recurrence": &domain.Recurrence{Frequency: domain.FrequencyMonthly, EndDate: civil.Date{Year: 2024, Month: 6, Day: 30}},
	}

	sql, args, err := Dialect.Insert("proj.ds.transactions", "u1", row)
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	want := "INSERT INTO `proj.ds.transactions` (`account_id`, `amount`, `id`, `recurrence`, `user_id`) VALUES (NULL, @p1, @p2, @p3, @p4)"
	if sql != want {
		t.Errorf("Insert() = %s\nwant %s", sql, want)
	}
	if len(args) != 4 {
		t.Fatalf("args = %v", args)
	}
	if r, ok := args[0].(*big.Rat); !ok || r.Cmp(big.NewRat(25, 2)) != 0 {
		t.Errorf("amount arg = %#v, want 25/2", args[0])
	}
	if args[2] != `{"frequency":"monthly","endDate":"2024-06-30"}` {
		t.Errorf("recurrence arg = %v", args[2])
	}

	params := Params(args)
	if params[3].Name != "p4" || params[3].Value != "u1" {
		t.Errorf("params[3] = %+v", params[3])
	}
}

func TestValue(t *testing.T) {
	date := civil.Date{Year: 2024, Month: 1, Day: 2}
	var nilDate *civil.Date

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"string", "x", "x"},
		{"int", 3, int64(3)},
		{"date", date, date},
		{"date pointer", &date, date},
		{"nil date pointer", nilDate, nil},
		{"bytes", []byte("raw"), "raw"},
		{"nil map", map[string]any(nil), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Value(tt.in)
			if err != nil {
				t.Fatalf("Value() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Value() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
