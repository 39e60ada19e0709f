package models

import "time"

// NotificationChannel is the closed set of delivery mechanisms.
type NotificationChannel string

const (
	ChannelDiscord NotificationChannel = "discord"
	ChannelEmail   NotificationChannel = "email"
)

// NotificationTarget is where a terminal Run event gets delivered.
type NotificationTarget struct {
	NotificationTargetID string              `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"notification_target_id"`
	Channel              NotificationChannel `gorm:"type:text;not null" json:"channel"`
	DiscordWebhookURL    string              `gorm:"type:text" json:"discord_webhook_url"`
	EmailAddress         string              `gorm:"type:text" json:"email_address"`
	Enabled              bool                `gorm:"default:true" json:"enabled"`
}

func (NotificationTarget) TableName() string { return "notification_targets" }

// RunNotificationStatus tracks one delivery attempt.
type RunNotificationStatus string

const (
	NotificationPending RunNotificationStatus = "pending"
	NotificationSent     RunNotificationStatus = "sent"
	NotificationFailed   RunNotificationStatus = "failed"
)

// RunNotification is a per-target delivery attempt record for a terminal
// Run transition. No retry is attempted by this core (§4.I) — failed rows
// are left for an operator-run sweep.
type RunNotification struct {
	RunNotificationID string                 `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"run_notification_id"`
	CreatedAt         time.Time              `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	RunID             string                 `gorm:"type:uuid;not null;index" json:"run_id"`
	NotificationTargetID string              `gorm:"type:uuid;not null" json:"notification_target_id"`
	Status            RunNotificationStatus  `gorm:"type:text;not null;default:'pending'" json:"status"`
	ErrorSummary      string                 `gorm:"type:text" json:"error_summary"`
}

func (RunNotification) TableName() string { return "run_notifications" }
