// Package notify derives notifications from store snapshots and delivers them
// to the notifications table and, outside quiet hours, to a message broker.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/pocketpilot/internal/remote"
	"github.com/dvloznov/pocketpilot/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QuietHours is a daily window, in local clock time, during which pushes are
// held back. The window may wrap midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Contains reports whether t falls inside the window.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := clockMinutes(q.Start)
	if err != nil {
		return false
	}
	end, err := clockMinutes(q.End)
	if err != nil {
		return false
	}

	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("clockMinutes: %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Settings are the user's notification preferences.
type Settings struct {
	TransactionReminders bool       `json:"transactionReminders"`
	BudgetAlerts         bool       `json:"budgetAlerts"`
	LowBalanceAlerts     bool       `json:"lowBalanceAlerts"`
	RecurringPayments    bool       `json:"recurringPayments"`
	GoalAchievements     bool       `json:"goalAchievements"`
	SystemUpdates        bool       `json:"systemUpdates"`
	PushNotifications    bool       `json:"pushNotifications"`
	EmailNotifications   bool       `json:"emailNotifications"`
	QuietHours           QuietHours `json:"quietHours"`
}

// DefaultSettings enables every trigger and push delivery. Email and the
// 22:00 to 08:00 quiet window are off.
func DefaultSettings() Settings {
	return Settings{
		TransactionReminders: true,
		BudgetAlerts:         true,
		LowBalanceAlerts:     true,
		RecurringPayments:    true,
		GoalAchievements:     true,
		SystemUpdates:        true,
		PushNotifications:    true,
		QuietHours:           QuietHours{Enabled: false, Start: "22:00", End: "08:00"},
	}
}

var (
	// ErrInvalidSettings is returned by SettingsStore.Set for settings that
	// fail validation.
	ErrInvalidSettings = errors.New("invalid notification settings")

	// ErrNoUser is returned when settings are requested without a user.
	ErrNoUser = errors.New("no signed-in user")
)

// Validate checks the quiet hours clock values.
func (s Settings) Validate() error {
	if _, err := clockMinutes(s.QuietHours.Start); err != nil {
		return fmt.Errorf("Validate: %w: quiet hours start: %v", ErrInvalidSettings, err)
	}
	if _, err := clockMinutes(s.QuietHours.End); err != nil {
		return fmt.Errorf("Validate: %w: quiet hours end: %v", ErrInvalidSettings, err)
	}
	return nil
}

// UserChanges is the part of the session manager the settings store follows.
type UserChanges interface {
	OnUserChange(fn session.UserChangeFunc) (cancel func())
}

type settingsEntry struct {
	id       string
	settings Settings
}

// SettingsStore keeps one settings row per user in the notification_settings
// table. The first read for a user creates the row with DefaultSettings.
type SettingsStore struct {
	table remote.Table
	log   zerolog.Logger
	now   func() time.Time

	// mu is held across remote calls so concurrent first reads create one row.
	mu    sync.Mutex
	cache map[string]settingsEntry
}

// NewSettingsStore creates a store reading and writing through client.
func NewSettingsStore(client remote.Client, log zerolog.Logger) *SettingsStore {
	return &SettingsStore{
		table: client.Table(remote.TableSettings),
		log:   log.With().Str("table", remote.TableSettings).Logger(),
		now:   time.Now,
		cache: make(map[string]settingsEntry),
	}
}

// Get returns userID's settings, creating the defaults on first use.
func (st *SettingsStore) Get(ctx context.Context, userID string) (Settings, error) {
	if userID == "" {
		return Settings{}, fmt.Errorf("Get: %w", ErrNoUser)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	e, err := st.entry(ctx, userID)
	if err != nil {
		return Settings{}, fmt.Errorf("Get: %w", err)
	}
	return e.settings, nil
}

// Set validates s and writes it as userID's settings.
func (st *SettingsStore) Set(ctx context.Context, userID string, s Settings) error {
	if userID == "" {
		return fmt.Errorf("Set: %w", ErrNoUser)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("Set: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	e, err := st.entry(ctx, userID)
	if err != nil {
		return fmt.Errorf("Set: %w", err)
	}

	fields := settingsRow(s)
	fields["updated_at"] = st.now().UTC()
	if err := st.table.Update(ctx, userID, e.id, fields); err != nil {
		return fmt.Errorf("Set: updating settings: %w", err)
	}
	st.cache[userID] = settingsEntry{id: e.id, settings: s}
	return nil
}

// Follow drops cached settings whenever the signed-in user changes and loads
// the new user's row.
func (st *SettingsStore) Follow(sessions UserChanges) (cancel func()) {
	return sessions.OnUserChange(func(ctx context.Context, userID string) {
		st.mu.Lock()
		st.cache = make(map[string]settingsEntry)
		st.mu.Unlock()

		if userID == "" {
			return
		}
		if _, err := st.Get(ctx, userID); err != nil {
			st.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load notification settings")
		}
	})
}

// entry returns the cached row for userID, fetching or creating it. st.mu
// must be held.
func (st *SettingsStore) entry(ctx context.Context, userID string) (settingsEntry, error) {
	if e, ok := st.cache[userID]; ok {
		return e, nil
	}

	rows, err := st.table.Select(ctx, remote.Query{UserID: userID, Limit: 1})
	if err != nil {
		return settingsEntry{}, fmt.Errorf("entry: selecting settings: %w", err)
	}

	if len(rows) > 0 {
		s, err := settingsFromRow(rows[0])
		if err != nil {
			return settingsEntry{}, fmt.Errorf("entry: %w", err)
		}
		e := settingsEntry{id: remote.String(rows[0], "id"), settings: s}
		st.cache[userID] = e
		return e, nil
	}

	e := settingsEntry{id: uuid.New().String(), settings: DefaultSettings()}
	row := settingsRow(e.settings)
	now := st.now().UTC()
	row["id"] = e.id
	row["created_at"] = now
	row["updated_at"] = now
	if err := st.table.Insert(ctx, userID, row); err != nil {
		return settingsEntry{}, fmt.Errorf("entry: creating default settings: %w", err)
	}
	st.log.Info().Str("user_id", userID).Msg("Created default notification settings")

	st.cache[userID] = e
	return e, nil
}

func settingsRow(s Settings) remote.Row {
	return remote.Row{
		"transaction_reminders":          s.TransactionReminders,
		"budget_alerts":                  s.BudgetAlerts,
		"low_balance_alerts":             s.LowBalanceAlerts,
		"recurring_payment_reminders":    s.RecurringPayments,
		"goal_achievement_notifications": s.GoalAchievements,
		"system_updates":                 s.SystemUpdates,
		"push_notifications":             s.PushNotifications,
		"email_notifications":            s.EmailNotifications,
		"quiet_hours":                    s.QuietHours,
	}
}

func settingsFromRow(r remote.Row) (Settings, error) {
	def := DefaultSettings()
	s := Settings{
		TransactionReminders: remote.Bool(r, "transaction_reminders", def.TransactionReminders),
		BudgetAlerts:         remote.Bool(r, "budget_alerts", def.BudgetAlerts),
		LowBalanceAlerts:     remote.Bool(r, "low_balance_alerts", def.LowBalanceAlerts),
		RecurringPayments:    remote.Bool(r, "recurring_payment_reminders", def.RecurringPayments),
		GoalAchievements:     remote.Bool(r, "goal_achievement_notifications", def.GoalAchievements),
		SystemUpdates:        remote.Bool(r, "system_updates", def.SystemUpdates),
		PushNotifications:    remote.Bool(r, "push_notifications", def.PushNotifications),
		EmailNotifications:   remote.Bool(r, "email_notifications", def.EmailNotifications),
		QuietHours:           def.QuietHours,
	}
	if _, err := remote.JSON(r, "quiet_hours", &s.QuietHours); err != nil {
		return Settings{}, fmt.Errorf("settingsFromRow: %w", err)
	}
	return s, nil
}
