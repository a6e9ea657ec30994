package domain

import "time"

// NotificationType controls how a notification is presented.
type NotificationType string

const (
	NotificationReminder NotificationType = "reminder"
	NotificationAlert    NotificationType = "alert"
	NotificationInfo     NotificationType = "info"
	NotificationSuccess  NotificationType = "success"
	NotificationWarning  NotificationType = "warning"
)

// NotificationCategory groups notifications by the trigger that produced them.
type NotificationCategory string

const (
	CategoryTransactionReminder NotificationCategory = "transaction_reminder"
	CategoryBudgetAlert         NotificationCategory = "budget_alert"
	CategoryLowBalance          NotificationCategory = "low_balance"
	CategoryRecurringPayment    NotificationCategory = "recurring_payment"
	CategoryGoalAchieved        NotificationCategory = "goal_achieved"
	CategorySystemUpdate        NotificationCategory = "system_update"
)

// Notification is a message shown to the user.
type Notification struct {
	ID           string               `json:"id"`
	Type         NotificationType     `json:"type"`
	Category     NotificationCategory `json:"category"`
	Title        string               `json:"title"`
	Message      string               `json:"message"`
	IsRead       bool                 `json:"isRead"`
	IsArchived   bool                 `json:"isArchived"`
	ScheduledFor *time.Time           `json:"scheduledFor,omitempty"`
	ActionURL    string               `json:"actionUrl,omitempty"`
	ActionLabel  string               `json:"actionLabel,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
}
