package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/dvloznov/pocketpilot/internal/views"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Titles of the generated notifications.
const (
	TitleLowBalance  = "Saldo Bajo"
	TitleBudgetAlert = "Alerta de Presupuesto"
	TitleGoal        = "¡Meta Alcanzada!"
	TitleReminder    = "Recordatorio de Transacciones"
	TitleWelcome     = "¡Bienvenido a PocketPilot!"
	TitleRecurring   = "Pago Recurrente"
)

const (
	budgetWarnPercent = 80
	reminderAfterDays = 2
)

// Sources gives the engine read access to the current snapshots. The engine
// never writes to the stores except through its Sink.
type Sources struct {
	UserID        func() string
	Transactions  func() []domain.Transaction
	Budgets       func() []domain.Budget
	Accounts      func() []domain.Account
	Notifications func() []domain.Notification
}

// Bound is a store that follows the signed-in user.
type Bound interface {
	UserID() string
	Loading() bool
}

// Watchable is a store the engine can follow.
type Watchable interface {
	Bound
	OnChange(fn func()) (cancel func())
}

// Engine evaluates notification triggers over store snapshots.
type Engine struct {
	src       Sources
	sink      Sink
	settings  *SettingsStore
	threshold decimal.Decimal
	log       zerolog.Logger
	now       func() time.Time

	mu    sync.Mutex
	sent  map[string]civil.Date
	bound []Bound

	cron    *cron.Cron
	cancels []func()
}

// NewEngine creates an engine. Accounts with a positive balance below
// threshold trigger low balance alerts.
func NewEngine(src Sources, sink Sink, settings *SettingsStore, threshold decimal.Decimal, log zerolog.Logger) *Engine {
	return &Engine{
		src:       src,
		sink:      sink,
		settings:  settings,
		threshold: threshold,
		log:       log.With().Str("component", "notify").Logger(),
		now:       time.Now,
		sent:      make(map[string]civil.Date),
	}
}

// Require adds stores that must be loaded for the signed-in user before any
// trigger is evaluated. Watched stores are required implicitly.
func (e *Engine) Require(stores ...Bound) {
	e.mu.Lock()
	e.bound = append(e.bound, stores...)
	e.mu.Unlock()
}

// Watch re-runs the alert checks whenever one of stores changes.
func (e *Engine) Watch(ctx context.Context, stores ...Watchable) {
	for _, s := range stores {
		e.Require(s)
		cancel := s.OnChange(func() {
			e.CheckAlerts(ctx)
		})
		e.cancels = append(e.cancels, cancel)
	}
}

// Schedule runs the reminder checks on spec (a cron expression such as
// "@daily") and once immediately.
func (e *Engine) Schedule(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		e.CheckReminders(ctx)
	}); err != nil {
		return fmt.Errorf("Schedule: parsing %q: %w", spec, err)
	}
	c.Start()
	e.cron = c

	e.CheckReminders(ctx)
	return nil
}

// Stop ends the schedule and stops following stores.
func (e *Engine) Stop() {
	for _, cancel := range e.cancels {
		cancel()
	}
	e.cancels = nil
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// CheckAlerts evaluates balance, budget and goal triggers.
func (e *Engine) CheckAlerts(ctx context.Context) {
	userID, st, ok := e.prepare(ctx)
	if !ok {
		return
	}

	if st.LowBalanceAlerts {
		e.checkLowBalance(ctx, userID)
	}
	if st.BudgetAlerts || st.GoalAchievements {
		e.checkBudgets(ctx, userID, st)
	}
}

// CheckReminders evaluates the daily transaction and recurring payment
// reminders.
func (e *Engine) CheckReminders(ctx context.Context) {
	userID, st, ok := e.prepare(ctx)
	if !ok {
		return
	}

	if st.TransactionReminders {
		e.checkTransactionReminder(ctx, userID)
	}
	if st.RecurringPayments {
		e.checkRecurring(ctx, userID)
	}
}

// prepare returns the signed-in user and their settings once every required
// store has finished loading that user's rows. Snapshots taken mid-switch
// would mix two users' data.
func (e *Engine) prepare(ctx context.Context) (string, Settings, bool) {
	userID := e.src.UserID()
	if userID == "" || !e.ready(userID) {
		return "", Settings{}, false
	}
	st, err := e.settings.Get(ctx, userID)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Msg("Skipping checks, settings unavailable")
		return "", Settings{}, false
	}
	return userID, st, true
}

func (e *Engine) ready(userID string) bool {
	e.mu.Lock()
	bound := e.bound
	e.mu.Unlock()

	for _, b := range bound {
		if b.Loading() || b.UserID() != userID {
			return false
		}
	}
	return true
}

func (e *Engine) checkLowBalance(ctx context.Context, userID string) {
	for _, a := range e.src.Accounts() {
		if !a.IsActive || !a.Balance.IsPositive() || !a.Balance.LessThan(e.threshold) {
			continue
		}
		e.emit(ctx, userID, "low_balance:"+a.ID, domain.Notification{
			Type:        domain.NotificationWarning,
			Category:    domain.CategoryLowBalance,
			Title:       TitleLowBalance,
			Message:     fmt.Sprintf("Tu cuenta %q tiene un saldo bajo: %s", a.Name, domain.FormatAmount(a.Balance, a.Currency)),
			ActionURL:   "/accounts",
			ActionLabel: "Ver cuentas",
			Metadata:    map[string]any{"accountId": a.ID, "balance": a.Balance.String()},
		})
	}
}

func (e *Engine) checkBudgets(ctx context.Context, userID string, st Settings) {
	txs := e.src.Transactions()
	hundred := decimal.NewFromInt(100)

	for _, b := range e.src.Budgets() {
		if !b.Amount.IsPositive() {
			continue
		}
		spent := views.BudgetSpentByBudgetID(b, txs)
		percent := spent.Div(b.Amount).Mul(hundred)

		switch {
		case st.BudgetAlerts && percent.GreaterThanOrEqual(decimal.NewFromInt(budgetWarnPercent)) && percent.LessThan(hundred):
			remaining := b.Amount.Sub(spent)
			e.emit(ctx, userID, "budget_warning:"+b.ID, domain.Notification{
				Type:     domain.NotificationAlert,
				Category: domain.CategoryBudgetAlert,
				Title:    TitleBudgetAlert,
				Message: fmt.Sprintf("Has gastado el %s%% de tu presupuesto %q. Te quedan %s",
					percent.Round(0).String(), b.Name, domain.FormatAmount(remaining, domain.CurrencyUSD)),
				ActionURL:   "/budgets",
				ActionLabel: "Ver presupuestos",
				Metadata:    map[string]any{"budgetId": b.ID, "percent": percent.Round(1).String()},
			})
		case st.BudgetAlerts && percent.GreaterThan(hundred):
			over := spent.Sub(b.Amount)
			e.emit(ctx, userID, "budget_exceeded:"+b.ID, domain.Notification{
				Type:        domain.NotificationAlert,
				Category:    domain.CategoryBudgetAlert,
				Title:       TitleBudgetAlert,
				Message:     fmt.Sprintf("Has excedido tu presupuesto %q por %s", b.Name, domain.FormatAmount(over, domain.CurrencyUSD)),
				ActionURL:   "/budgets",
				ActionLabel: "Ver presupuestos",
				Metadata:    map[string]any{"budgetId": b.ID, "over": over.String()},
			})
		case st.GoalAchievements && !spent.IsPositive():
			e.emit(ctx, userID, "goal:"+b.ID, domain.Notification{
				Type:     domain.NotificationSuccess,
				Category: domain.CategoryGoalAchieved,
				Title:    TitleGoal,
				Message:  fmt.Sprintf("¡Felicitaciones! Has alcanzado tu meta: %s", b.Name),
				Metadata: map[string]any{"budgetId": b.ID},
			})
		}
	}
}

func (e *Engine) checkTransactionReminder(ctx context.Context, userID string) {
	today := civil.DateOf(e.now())

	var last civil.Date
	found := false
	for _, tx := range e.src.Transactions() {
		if tx.Type != domain.TransactionExpense {
			continue
		}
		if !found || tx.Date.After(last) {
			last = tx.Date
			found = true
		}
	}

	if !found {
		for _, n := range e.src.Notifications() {
			if n.Title == TitleWelcome {
				return
			}
		}
		e.emit(ctx, userID, "welcome", domain.Notification{
			Type:        domain.NotificationReminder,
			Category:    domain.CategoryTransactionReminder,
			Title:       TitleWelcome,
			Message:     "Comienza registrando tu primera transacción para llevar el control de tus finanzas",
			ActionURL:   "/dashboard",
			ActionLabel: "Añadir Transacción",
		})
		return
	}

	days := today.DaysSince(last)
	if days < reminderAfterDays {
		return
	}
	e.emit(ctx, userID, "transaction_reminder", domain.Notification{
		Type:        domain.NotificationReminder,
		Category:    domain.CategoryTransactionReminder,
		Title:       TitleReminder,
		Message:     fmt.Sprintf("Han pasado %d días desde tu última transacción. ¿Has tenido gastos recientes?", days),
		ActionURL:   "/transactions",
		ActionLabel: "Ver Transacciones",
		Metadata:    map[string]any{"daysSinceLastTransaction": days},
	})
}

func (e *Engine) checkRecurring(ctx context.Context, userID string) {
	today := civil.DateOf(e.now())
	for _, tx := range e.src.Transactions() {
		if !tx.IsRecurring || tx.Recurrence == nil {
			continue
		}
		if tx.Recurrence.EndDate.DaysSince(today) != 1 {
			continue
		}
		scheduled := tx.Recurrence.EndDate.In(time.UTC)
		e.emit(ctx, userID, "recurring:"+tx.ID, domain.Notification{
			Type:         domain.NotificationReminder,
			Category:     domain.CategoryRecurringPayment,
			Title:        TitleRecurring,
			Message:      "Tienes un pago recurrente programado para hoy",
			ScheduledFor: &scheduled,
			ActionURL:    "/transactions",
			ActionLabel:  "Ver Transacciones",
			Metadata:     map[string]any{"transactionId": tx.ID},
		})
	}
}

// emit sends n unless the same key already fired for this user today.
func (e *Engine) emit(ctx context.Context, userID, key string, n domain.Notification) {
	now := e.now()
	today := civil.DateOf(now)
	dedupe := userID + "|" + key

	e.mu.Lock()
	if last, ok := e.sent[dedupe]; ok && last == today {
		e.mu.Unlock()
		return
	}
	e.sent[dedupe] = today
	e.mu.Unlock()

	n.ID = uuid.New().String()
	n.CreatedAt = now.UTC()

	if err := e.sink.Send(ctx, userID, n); err != nil {
		e.log.Error().Err(err).Str("user_id", userID).Str("key", key).Msg("Failed to deliver notification")
		e.mu.Lock()
		delete(e.sent, dedupe)
		e.mu.Unlock()
		return
	}
	e.log.Info().Str("user_id", userID).Str("category", string(n.Category)).Str("key", key).Msg("Notification sent")
}
