package notify

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/logger"
	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/remote/memory"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/dvloznov/pocketpilot/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
)

// recordingSink keeps every notification it receives.
type recordingSink struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (r *recordingSink) Send(ctx context.Context, userID string, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingSink) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Title)
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	txs      []domain.Transaction
	budgets  []domain.Budget
	accounts []domain.Account
	notes    []domain.Notification
	userID   string
}

func (f *fixture) sources() Sources {
	return Sources{
		UserID:        func() string { return f.userID },
		Transactions:  func() []domain.Transaction { return f.txs },
		Budgets:       func() []domain.Budget { return f.budgets },
		Accounts:      func() []domain.Account { return f.accounts },
		Notifications: func() []domain.Notification { return f.notes },
	}
}

func testLogger() zerolog.Logger {
	return logger.NewWithWriter(io.Discard)
}

func newTestEngine(f *fixture, sink Sink, now time.Time) *Engine {
	e := NewEngine(f.sources(), sink, NewSettingsStore(memory.NewClient(), testLogger()), dec("100"), testLogger())
	e.now = func() time.Time { return now }
	return e
}

var noon = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestEngine_LowBalance(t *testing.T) {
	f := &fixture{userID: "u1", accounts: []domain.Account{
		{ID: "a1", Name: "Efectivo", Balance: dec("45.5"), Currency: "USD", IsActive: true},
		{ID: "a2", Name: "Cero", Balance: dec("0"), Currency: "USD", IsActive: true},
		{ID: "a3", Name: "Inactiva", Balance: dec("10"), Currency: "USD", IsActive: false},
		{ID: "a4", Name: "Banco", Balance: dec("100"), Currency: "USD", IsActive: true},
	}}
	sink := &recordingSink{}
	e := newTestEngine(f, sink, noon)

	e.CheckAlerts(context.Background())
	e.CheckAlerts(context.Background())

	if len(sink.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1: %v", len(sink.sent), sink.titles())
	}
	n := sink.sent[0]
	if n.Title != TitleLowBalance || n.Type != domain.NotificationWarning || n.Category != domain.CategoryLowBalance {
		t.Errorf("notification = %+v", n)
	}
	if !strings.Contains(n.Message, "$45.50") {
		t.Errorf("Message = %q, want formatted balance", n.Message)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Error("notification id or timestamp missing")
	}
}

func TestEngine_BudgetThresholds(t *testing.T) {
	tests := []struct {
		name      string
		spent     string
		wantTitle string
		wantText  string
	}{
		{"below warning", "79", "", ""},
		{"warning", "85", TitleBudgetAlert, "Has gastado el 85% de tu presupuesto \"Comida\". Te quedan $15.00"},
		{"exactly full", "100", "", ""},
		{"exceeded", "120", TitleBudgetAlert, "Has excedido tu presupuesto \"Comida\" por $20.00"},
		{"untouched", "0", TitleGoal, "¡Felicitaciones! Has alcanzado tu meta: Comida"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fixture{userID: "u1", budgets: []domain.Budget{{ID: "b1", Name: "Comida", Amount: dec("100"), Category: "Comida"}}}
			if tt.spent != "0" {
				f.txs = []domain.Transaction{
					{ID: "t1", Type: domain.TransactionExpense, Amount: dec(tt.spent), Category: "Comida", BudgetID: "b1"},
					// Category-only spending does not count towards alerts.
					{ID: "t2", Type: domain.TransactionExpense, Amount: dec("1000"), Category: "Comida"},
				}
			}
			sink := &recordingSink{}
			newTestEngine(f, sink, noon).CheckAlerts(context.Background())

			if tt.wantTitle == "" {
				if len(sink.sent) != 0 {
					t.Errorf("sent %v, want nothing", sink.titles())
				}
				return
			}
			if len(sink.sent) != 1 {
				t.Fatalf("sent %v, want one notification", sink.titles())
			}
			if sink.sent[0].Title != tt.wantTitle || sink.sent[0].Message != tt.wantText {
				t.Errorf("got %q / %q, want %q / %q", sink.sent[0].Title, sink.sent[0].Message, tt.wantTitle, tt.wantText)
			}
		})
	}
}

func TestEngine_TransactionReminders(t *testing.T) {
	tests := []struct {
		name      string
		lastDate  string
		notes     []domain.Notification
		wantTitle string
		wantURL   string
		wantLabel string
	}{
		{"recent expense", "2024-03-09", nil, "", "", ""},
		{"two days ago", "2024-03-08", nil, TitleReminder, "/transactions", "Ver Transacciones"},
		{"no expenses", "", nil, TitleWelcome, "/dashboard", "Añadir Transacción"},
		{"already welcomed", "", []domain.Notification{{Title: TitleWelcome}}, "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fixture{userID: "u1", notes: tt.notes}
			if tt.lastDate != "" {
				f.txs = []domain.Transaction{
					{Type: domain.TransactionExpense, Amount: dec("1"), Category: "Comida", Date: day("2024-01-01")},
					{Type: domain.TransactionExpense, Amount: dec("1"), Category: "Comida", Date: day(tt.lastDate)},
					{Type: domain.TransactionIncome, Amount: dec("1"), Category: "Sueldo", Date: day("2024-03-10")},
				}
			}
			sink := &recordingSink{}
			newTestEngine(f, sink, noon).CheckReminders(context.Background())

			got := sink.titles()
			if tt.wantTitle == "" {
				if len(got) != 0 {
					t.Errorf("sent %v, want nothing", got)
				}
				return
			}
			if len(got) != 1 || got[0] != tt.wantTitle {
				t.Fatalf("sent %v, want [%s]", got, tt.wantTitle)
			}
			n := sink.sent[0]
			if n.Type != domain.NotificationReminder || n.Category != domain.CategoryTransactionReminder {
				t.Errorf("type/category = %s/%s, want reminder/transaction_reminder", n.Type, n.Category)
			}
			if n.ActionURL != tt.wantURL || n.ActionLabel != tt.wantLabel {
				t.Errorf("action = %q %q, want %q %q", n.ActionURL, n.ActionLabel, tt.wantURL, tt.wantLabel)
			}
		})
	}
}

func TestEngine_ReminderMessageCountsDays(t *testing.T) {
	f := &fixture{userID: "u1", txs: []domain.Transaction{
		{Type: domain.TransactionExpense, Amount: dec("1"), Category: "Comida", Date: day("2024-03-05")},
	}}
	sink := &recordingSink{}
	newTestEngine(f, sink, noon).CheckReminders(context.Background())

	if len(sink.sent) != 1 || !strings.HasPrefix(sink.sent[0].Message, "Han pasado 5 días") {
		t.Errorf("sent %+v", sink.sent)
	}
}

func TestEngine_RecurringReminder(t *testing.T) {
	f := &fixture{userID: "u1", txs: []domain.Transaction{
		{ID: "r1", Type: domain.TransactionExpense, Amount: dec("9.99"), Category: "Entretenimiento", Date: day("2024-03-10"),
			IsRecurring: true, Recurrence: &domain.Recurrence{Frequency: domain.FrequencyMonthly, EndDate: day("2024-03-11")}},
		{ID: "r2", Type: domain.TransactionExpense, Amount: dec("5"), Category: "Transporte", Date: day("2024-03-10"),
			IsRecurring: true, Recurrence: &domain.Recurrence{Frequency: domain.FrequencyWeekly, EndDate: day("2024-03-20")}},
	}}
	sink := &recordingSink{}
	newTestEngine(f, sink, noon).CheckReminders(context.Background())

	var recurring []domain.Notification
	for _, n := range sink.sent {
		if n.Category == domain.CategoryRecurringPayment {
			recurring = append(recurring, n)
		}
	}
	if len(recurring) != 1 || recurring[0].Metadata["transactionId"] != "r1" {
		t.Fatalf("recurring notifications = %+v", recurring)
	}
	n := recurring[0]
	want := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	if n.ScheduledFor == nil || !n.ScheduledFor.Equal(want) {
		t.Errorf("ScheduledFor = %v, want %v", n.ScheduledFor, want)
	}
	if n.ActionURL != "/transactions" || n.ActionLabel != "Ver Transacciones" {
		t.Errorf("action = %q %q", n.ActionURL, n.ActionLabel)
	}
}

func TestEngine_RespectsSettingsAndSession(t *testing.T) {
	f := &fixture{userID: "", accounts: []domain.Account{{ID: "a1", Balance: dec("5"), IsActive: true}}}
	sink := &recordingSink{}
	e := newTestEngine(f, sink, noon)

	e.CheckAlerts(context.Background())
	if len(sink.sent) != 0 {
		t.Fatalf("sent %v without a user", sink.titles())
	}

	f.userID = "u1"
	st := DefaultSettings()
	st.LowBalanceAlerts = false
	if err := e.settings.Set(context.Background(), "u1", st); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	e.CheckAlerts(context.Background())
	if len(sink.sent) != 0 {
		t.Errorf("sent %v with low balance alerts off", sink.titles())
	}
}

func TestEngine_DedupesPerDayAndRetriesFailures(t *testing.T) {
	f := &fixture{userID: "u1", accounts: []domain.Account{{ID: "a1", Balance: dec("5"), IsActive: true, Currency: "USD"}}}
	sink := &recordingSink{err: errors.New("table unavailable")}
	now := noon
	e := newTestEngine(f, sink, now)
	e.now = func() time.Time { return now }

	e.CheckAlerts(context.Background())
	sink.err = nil
	e.CheckAlerts(context.Background())
	e.CheckAlerts(context.Background())
	if len(sink.sent) != 1 {
		t.Fatalf("sent %d, want 1 after failed first attempt", len(sink.sent))
	}

	now = now.Add(24 * time.Hour)
	e.CheckAlerts(context.Background())
	if len(sink.sent) != 2 {
		t.Errorf("sent %d, want a second alert the next day", len(sink.sent))
	}
}

type fakeStore struct {
	mu      sync.Mutex
	fns     []func()
	userID  string
	loading bool
}

func (s *fakeStore) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *fakeStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *fakeStore) OnChange(fn func()) func() {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.fns = nil
		s.mu.Unlock()
	}
}

func (s *fakeStore) fire() {
	s.mu.Lock()
	fns := append([]func(){}, s.fns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func TestEngine_WatchAndSchedule(t *testing.T) {
	f := &fixture{userID: "u1", accounts: []domain.Account{{ID: "a1", Balance: dec("5"), IsActive: true}}}
	sink := &recordingSink{}
	e := newTestEngine(f, sink, noon)

	accounts := &fakeStore{userID: "u1"}
	e.Watch(context.Background(), accounts)
	accounts.fire()
	if got := sink.titles(); len(got) != 1 || got[0] != TitleLowBalance {
		t.Fatalf("after store change sent %v", got)
	}

	if err := e.Schedule(context.Background(), "not a schedule"); err == nil {
		t.Error("Schedule() accepted an invalid spec")
	}
	if err := e.Schedule(context.Background(), "@daily"); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	// The immediate run sends the welcome reminder.
	if got := sink.titles(); len(got) != 2 || got[1] != TitleWelcome {
		t.Errorf("after Schedule sent %v", got)
	}

	e.Stop()
	accounts.fire()
	if len(sink.titles()) != 2 {
		t.Error("engine still follows stores after Stop")
	}
}

func TestQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name  string
		q     QuietHours
		t     time.Time
		quiet bool
	}{
		{"late night", QuietHours{Enabled: true, Start: "22:00", End: "08:00"}, at(23, 30), true},
		{"early morning", QuietHours{Enabled: true, Start: "22:00", End: "08:00"}, at(7, 59), true},
		{"end is exclusive", QuietHours{Enabled: true, Start: "22:00", End: "08:00"}, at(8, 0), false},
		{"daytime", QuietHours{Enabled: true, Start: "22:00", End: "08:00"}, at(12, 0), false},
		{"same-day window", QuietHours{Enabled: true, Start: "13:00", End: "14:00"}, at(13, 30), true},
		{"disabled", QuietHours{Enabled: false, Start: "00:00", End: "23:59"}, at(12, 0), false},
		{"bad clock", QuietHours{Enabled: true, Start: "late", End: "08:00"}, at(23, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Contains(tt.t); got != tt.quiet {
				t.Errorf("Contains(%s) = %v, want %v", tt.t.Format("15:04"), got, tt.quiet)
			}
		})
	}
}

func TestEngine_WaitsForBoundStores(t *testing.T) {
	tests := []struct {
		name     string
		stores   []*fakeStore
		wantSent int
	}{
		{"all loaded for user", []*fakeStore{{userID: "u1"}, {userID: "u1"}}, 2},
		{"one still loading", []*fakeStore{{userID: "u1"}, {userID: "u1", loading: true}}, 0},
		{"one bound to previous user", []*fakeStore{{userID: "u1"}, {userID: "u0"}}, 0},
		{"one signed out", []*fakeStore{{userID: "u1"}, {}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fixture{userID: "u1", accounts: []domain.Account{{ID: "a1", Balance: dec("5"), IsActive: true}}}
			sink := &recordingSink{}
			e := newTestEngine(f, sink, noon)
			for _, s := range tt.stores {
				e.Require(s)
			}

			e.CheckAlerts(context.Background())
			e.CheckReminders(context.Background())
			if len(sink.sent) != tt.wantSent {
				t.Errorf("sent %v, want %d notifications", sink.titles(), tt.wantSent)
			}
		})
	}
}

func TestEngine_UserSwitchKeepsAlertsWithTheirOwner(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewClient()
	defer backend.Close()
	log := testLogger()

	mgr := session.NewManager(nil, time.Hour, log)
	if err := mgr.Restore(ctx, session.Session{UserID: "alice", AuthToken: "a", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	txs := store.NewTransactions(backend, mgr, log)
	budgets := store.NewBudgets(backend, mgr, log)
	accounts := store.NewAccounts(backend, mgr, log)
	notes := store.NewNotifications(backend, mgr, log)
	for _, s := range []interface{ Start(context.Context) }{txs, budgets, accounts, notes} {
		s.Start(ctx)
	}
	defer func() {
		txs.Close()
		budgets.Close()
		accounts.Close()
		notes.Close()
	}()

	// Half spent: nothing to report for alice.
	b, err := budgets.Create(ctx, domain.Budget{Name: "Comida", Amount: dec("100"), Category: "Comida", Period: domain.PeriodMonthly})
	if err != nil {
		t.Fatalf("budgets.Create() error = %v", err)
	}
	if _, err := txs.Create(ctx, domain.Transaction{
		Type: domain.TransactionExpense, Amount: dec("50"), Category: "Comida", Date: day("2024-03-09"), BudgetID: b.ID,
	}); err != nil {
		t.Fatalf("txs.Create() error = %v", err)
	}

	e := NewEngine(Sources{
		UserID:        mgr.UserID,
		Transactions:  txs.Snapshot,
		Budgets:       budgets.Snapshot,
		Accounts:      accounts.Snapshot,
		Notifications: notes.Snapshot,
	}, NewRemoteSink(notes), NewSettingsStore(backend, log), dec("100"), log)
	e.Watch(ctx, txs, budgets, accounts)
	e.Require(notes)
	defer e.Stop()

	e.CheckAlerts(ctx)
	if n := len(backend.Rows(remote.TableNotifications, "alice")); n != 0 {
		t.Fatalf("alice has %d notifications before the switch, want 0", n)
	}

	if err := mgr.Restore(ctx, session.Session{UserID: "bob", AuthToken: "b", Expiry: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Restore(bob) error = %v", err)
	}
	e.CheckAlerts(ctx)

	if rows := backend.Rows(remote.TableNotifications, "alice"); len(rows) != 0 {
		t.Errorf("alice received %d notifications during the switch: %v", len(rows), rows)
	}
	if rows := backend.Rows(remote.TableNotifications, "bob"); len(rows) != 0 {
		t.Errorf("bob received %d notifications for alice's budget: %v", len(rows), rows)
	}
}

func TestSettingsStore_RejectsBadClock(t *testing.T) {
	ctx := context.Background()
	st := NewSettingsStore(memory.NewClient(), testLogger())
	bad := DefaultSettings()
	bad.QuietHours.End = "25:00"
	if err := st.Set(ctx, "u1", bad); !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("Set() error = %v, want ErrInvalidSettings", err)
	}
	got, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.QuietHours.End != "08:00" {
		t.Error("rejected settings were stored")
	}
}

func TestSettingsStore_PersistsPerUser(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewClient()
	defer backend.Close()
	st := NewSettingsStore(backend, testLogger())

	if _, err := st.Get(ctx, ""); !errors.Is(err, ErrNoUser) {
		t.Errorf("Get(\"\") error = %v, want ErrNoUser", err)
	}

	got, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != DefaultSettings() {
		t.Errorf("first Get() = %+v, want defaults", got)
	}
	if got.QuietHours.Enabled || !got.SystemUpdates || got.EmailNotifications {
		t.Errorf("defaults = %+v", got)
	}
	if n := len(backend.Rows(remote.TableSettings, "u1")); n != 1 {
		t.Fatalf("u1 has %d settings rows, want 1", n)
	}

	changed := DefaultSettings()
	changed.BudgetAlerts = false
	changed.QuietHours = QuietHours{Enabled: true, Start: "23:00", End: "07:00"}
	if err := st.Set(ctx, "u1", changed); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// A fresh store reads what the first one wrote.
	reread, err := NewSettingsStore(backend, testLogger()).Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if reread != changed {
		t.Errorf("reread = %+v, want %+v", reread, changed)
	}
	if n := len(backend.Rows(remote.TableSettings, "u1")); n != 1 {
		t.Errorf("u1 has %d settings rows after update, want 1", n)
	}

	other, err := st.Get(ctx, "u2")
	if err != nil {
		t.Fatalf("Get(u2) error = %v", err)
	}
	if other != DefaultSettings() {
		t.Errorf("u2 settings = %+v, want defaults", other)
	}
}

func TestSettingsStore_ReloadsOnUserChange(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewClient()
	defer backend.Close()
	st := NewSettingsStore(backend, testLogger())

	mgr := session.NewManager(nil, time.Hour, testLogger())
	cancel := st.Follow(mgr)
	defer cancel()

	u1 := session.Session{UserID: "u1", AuthToken: "t", Expiry: time.Now().Add(time.Hour)}
	if err := mgr.Restore(ctx, u1); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	rows := backend.Rows(remote.TableSettings, "u1")
	if len(rows) != 1 {
		t.Fatalf("sign-in created %d settings rows, want 1", len(rows))
	}

	// Another process turns budget alerts off.
	id := remote.String(rows[0], "id")
	if err := backend.Table(remote.TableSettings).Update(ctx, "u1", id, remote.Row{"budget_alerts": false}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	mgr.SignOut(ctx)
	if err := mgr.Restore(ctx, u1); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.BudgetAlerts {
		t.Error("settings not reloaded after the user changed")
	}
}

func TestQuietHoursSink(t *testing.T) {
	ctx := context.Background()
	settings := NewSettingsStore(memory.NewClient(), testLogger())
	quiet := DefaultSettings()
	quiet.QuietHours.Enabled = true
	if err := settings.Set(ctx, "u1", quiet); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	next := &recordingSink{}
	sink := NewQuietHoursSink(next, settings)

	sink.now = func() time.Time { return time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC) }
	if err := sink.Send(context.Background(), "u1", domain.Notification{Title: "night"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	sink.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	if err := sink.Send(context.Background(), "u1", domain.Notification{Title: "day"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	st := quiet
	st.PushNotifications = false
	if err := settings.Set(ctx, "u1", st); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	_ = sink.Send(context.Background(), "u1", domain.Notification{Title: "muted"})

	// u2 keeps the defaults: quiet hours off.
	sink.now = func() time.Time { return time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC) }
	if err := sink.Send(context.Background(), "u2", domain.Notification{Title: "other user"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got := next.titles(); len(got) != 2 || got[0] != "day" || got[1] != "other user" {
		t.Errorf("forwarded %v, want [day other user]", got)
	}
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}

	err := MultiSink{failing, ok}.Send(context.Background(), "u1", domain.Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("Send() error = %v", err)
	}
	if len(ok.sent) != 1 {
		t.Error("healthy sink skipped after a failure")
	}
}

type fakeCreator struct {
	userID     string
	createFunc func(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

func (f *fakeCreator) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	return f.createFunc(ctx, n)
}

func (f *fakeCreator) UserID() string { return f.userID }

func TestRemoteSink(t *testing.T) {
	var got domain.Notification
	calls := 0
	sink := NewRemoteSink(&fakeCreator{userID: "u1", createFunc: func(ctx context.Context, n domain.Notification) (domain.Notification, error) {
		calls++
		got = n
		return n, nil
	}})
	if err := sink.Send(context.Background(), "u1", domain.Notification{Title: "Saldo Bajo"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Title != "Saldo Bajo" {
		t.Errorf("created %+v", got)
	}

	if err := sink.Send(context.Background(), "u2", domain.Notification{Title: "ajena"}); !errors.Is(err, ErrUserMismatch) {
		t.Errorf("Send(u2) error = %v, want ErrUserMismatch", err)
	}
	if calls != 1 {
		t.Errorf("Create called %d times, want 1", calls)
	}

	failing := NewRemoteSink(&fakeCreator{userID: "u1", createFunc: func(context.Context, domain.Notification) (domain.Notification, error) {
		return domain.Notification{}, errors.New("denied")
	}})
	if err := failing.Send(context.Background(), "u1", domain.Notification{Title: "x"}); err == nil {
		t.Error("Send() error = nil, want wrapped create failure")
	}
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	closed    bool
}

func (c *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPSink_PublishesJSON(t *testing.T) {
	ch := &fakeChannel{}
	sink := &AMQPSink{channel: ch, queue: "notifications_queue", log: logger.NewWithWriter(io.Discard)}

	err := sink.Send(context.Background(), "u1", domain.Notification{
		ID: "n1", Type: domain.NotificationAlert, Category: domain.CategoryBudgetAlert, Title: TitleBudgetAlert,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(ch.published) != 1 || ch.keys[0] != "notifications_queue" {
		t.Fatalf("published %d messages to %v", len(ch.published), ch.keys)
	}
	msg := ch.published[0]
	if msg.ContentType != "application/json" {
		t.Errorf("ContentType = %q", msg.ContentType)
	}
	body := string(msg.Body)
	for _, want := range []string{`"user_id":"u1"`, `"category":"budget_alert"`, `"title":"Alerta de Presupuesto"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}

	if err := sink.Close(); err != nil || !ch.closed {
		t.Errorf("Close() error = %v, closed = %v", err, ch.closed)
	}
}
