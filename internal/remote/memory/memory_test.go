package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/shopspring/decimal"
)

func TestTable_ScopedCRUD(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	defer c.Close()
	tbl := c.Table(remote.TableTransactions)

	mustInsert := func(userID string, row remote.Row) {
		t.Helper()
		if err := tbl.Insert(ctx, userID, row); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	mustInsert("u1", remote.Row{"id": "t1", "amount": decimal.NewFromInt(10), "date": civil.Date{Year: 2024, Month: 1, Day: 1}})
	mustInsert("u1", remote.Row{"id": "t2", "amount": decimal.NewFromInt(20), "date": civil.Date{Year: 2024, Month: 3, Day: 1}})
	mustInsert("u2", remote.Row{"id": "t3", "amount": decimal.NewFromInt(30), "date": civil.Date{Year: 2024, Month: 2, Day: 1}})

	rows, err := tbl.Select(ctx, remote.Query{UserID: "u1", Order: remote.Order{Column: "date", Desc: true}})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 2 || rows[0]["id"] != "t2" || rows[1]["id"] != "t1" {
		t.Fatalf("Select() = %v, want [t2 t1]", rows)
	}

	// Another user's row is untouched by scoped writes.
	if err := tbl.Update(ctx, "u1", "t3", remote.Row{"amount": decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := tbl.Delete(ctx, "u1", "t3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	other := c.Rows(remote.TableTransactions, "u2")
	if len(other) != 1 || !other[0]["amount"].(decimal.Decimal).Equal(decimal.NewFromInt(30)) {
		t.Fatalf("u2 rows changed: %v", other)
	}

	if err := tbl.Update(ctx, "u1", "t1", remote.Row{"amount": decimal.NewFromInt(11), "user_id": "u2"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	own := c.Rows(remote.TableTransactions, "u1")
	if own[0]["user_id"] != "u1" || !own[0]["amount"].(decimal.Decimal).Equal(decimal.NewFromInt(11)) {
		t.Fatalf("Update() applied wrongly: %v", own[0])
	}

	if err := tbl.DeleteAll(ctx, "u1"); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if n := len(c.Rows(remote.TableTransactions, "u1")); n != 0 {
		t.Errorf("rows after DeleteAll = %d, want 0", n)
	}
	if n := len(c.Rows(remote.TableTransactions, "u2")); n != 1 {
		t.Errorf("u2 rows after u1 DeleteAll = %d, want 1", n)
	}
}

func TestTable_FiltersAndLimit(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	defer c.Close()
	tbl := c.Table(remote.TableNotifications)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		row := remote.Row{
			"title":       "n",
			"is_archived": i%2 == 0,
			"created_at":  base.Add(time.Duration(i) * time.Hour),
		}
		if err := tbl.Insert(ctx, "u1", row); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	rows, err := tbl.Select(ctx, remote.Query{
		UserID:  "u1",
		Order:   remote.Order{Column: "created_at", Desc: true},
		Filters: []remote.Filter{{Column: "is_archived", Value: false}},
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Select() returned %d rows, want 1", len(rows))
	}
	got, _ := remote.Time(rows[0], "created_at")
	if !got.Equal(base.Add(3 * time.Hour)) {
		t.Errorf("newest non-archived created_at = %v", got)
	}
}

func TestClient_PublishesChanges(t *testing.T) {
	ctx := context.Background()
	c := NewClient()
	defer c.Close()

	events := make(chan remote.ChangeEvent, 4)
	sub, err := c.Subscribe(ctx, remote.TableAccounts, remote.UserFilter("u1"), func(ev remote.ChangeEvent) {
		events <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()

	if err := c.Table(remote.TableAccounts).Insert(ctx, "u1", remote.Row{"name": "Main"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != remote.ChangeInsert || ev.Table != remote.TableAccounts {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
	}

	if s := c.Stats(); s.Writes != 1 {
		t.Errorf("Stats().Writes = %d, want 1", s.Writes)
	}
}

func TestClient_Users(t *testing.T) {
	c := NewClient()
	id := c.AddUser("Ana@Example.com", "hash")

	u, err := c.FindUserByEmail(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail() error = %v", err)
	}
	if u.ID != id || u.PasswordHash != "hash" {
		t.Errorf("FindUserByEmail() = %+v", u)
	}

	if _, err := c.FindUserByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("FindUserByEmail(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestClient_ClosedAndUnknownTable(t *testing.T) {
	c := NewClient()
	if _, err := c.Table("ledgers").Select(context.Background(), remote.Query{}); !errors.Is(err, remote.ErrUnknownTable) {
		t.Errorf("unknown table error = %v", err)
	}
	c.Close()
	if err := c.Table(remote.TableBudgets).Insert(context.Background(), "u1", remote.Row{}); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("Insert after Close error = %v, want ErrClosed", err)
	}
}
