// Package notify implements the §4.I notification sink: counts-only
// delivery of a terminal Run's outcome to Discord and email targets,
// grounded on core/notifications.py's NotificationService. No LLM prompt
// or response content is ever part of a payload here — only statuses and
// token totals.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/cyberbrain/orchestrator/internal/store"
	"github.com/cyberbrain/orchestrator/internal/store/models"
)

const (
	colorGreen = 3066993
	colorRed   = 15158332
	// maxErrorSummary matches the original's str(e)[:1000] truncation.
	maxErrorSummary = 1000
)

// SMTPConfig is the outbound mail relay a Service uses for email targets.
type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

// Service dispatches terminal-Run notifications to every enabled target.
type Service struct {
	store      store.Store
	httpClient *http.Client
	smtp       SMTPConfig
	sendMail   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func New(st store.Store, smtpCfg SMTPConfig) *Service {
	return &Service{
		store:      st,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		smtp:       smtpCfg,
		sendMail:   smtp.SendMail,
	}
}

// NotifyRun sends a terminal Run's outcome to every enabled target,
// recording one RunNotification row per target. Errors are logged, never
// propagated — a failed notification must never block the dispatcher.
func (s *Service) NotifyRun(ctx context.Context, run *models.Run) {
	targets, err := s.store.ListEnabledNotificationTargets(ctx)
	if err != nil {
		logging.Log.WithError(err).Error("notify: failed to list notification targets")
		return
	}
	if len(targets) == 0 {
		return
	}

	jobs, err := s.store.ListJobsByRun(ctx, run.RunID)
	if err != nil {
		logging.Log.WithError(err).WithField("run", run.RunID).Error("notify: failed to list jobs for summary")
	}
	completed, total := 0, len(jobs)
	for _, j := range jobs {
		if j.IsTerminal() {
			completed++
		}
	}

	for _, target := range targets {
		record := &models.RunNotification{
			RunID:                run.RunID,
			NotificationTargetID: target.NotificationTargetID,
			Status:               models.NotificationPending,
		}
		if err := s.store.CreateRunNotification(ctx, record); err != nil {
			logging.Log.WithError(err).Error("notify: failed to create run notification record")
			continue
		}

		var sendErr error
		switch target.Channel {
		case models.ChannelDiscord:
			sendErr = s.sendDiscord(ctx, target, run, completed, total)
		case models.ChannelEmail:
			sendErr = s.sendEmail(target, run, completed, total)
		default:
			sendErr = fmt.Errorf("unknown notification channel %q", target.Channel)
		}

		if sendErr != nil {
			record.Status = models.NotificationFailed
			record.ErrorSummary = truncateError(sendErr)
			logging.Log.WithError(sendErr).WithField("target", target.NotificationTargetID).Warn("notify: delivery failed")
		} else {
			record.Status = models.NotificationSent
		}
		if err := s.store.UpdateRunNotification(ctx, record); err != nil {
			logging.Log.WithError(err).Error("notify: failed to update run notification record")
		}
	}
}

func truncateError(err error) string {
	s := err.Error()
	if len(s) > maxErrorSummary {
		return s[:maxErrorSummary]
	}
	return s
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title  string              `json:"title"`
	Color  int                 `json:"color"`
	Fields []discordEmbedField `json:"fields"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (s *Service) sendDiscord(ctx context.Context, target models.NotificationTarget, run *models.Run, completed, total int) error {
	if target.DiscordWebhookURL == "" {
		return fmt.Errorf("discord target has no webhook url")
	}

	success := run.Status == models.RunSuccess
	color := colorRed
	if success {
		color = colorGreen
	}

	fields := []discordEmbedField{
		{Name: "Status", Value: string(run.Status), Inline: true},
		{Name: "Jobs completed", Value: fmt.Sprintf("%d/%d", completed, total), Inline: true},
		{Name: "LLM Tokens", Value: fmt.Sprintf("%d", run.TotalTokens), Inline: true},
	}
	if !success {
		fields = append(fields, discordEmbedField{Name: "Error", Value: "run did not complete successfully", Inline: false})
	}

	payload := discordPayload{Embeds: []discordEmbed{{
		Title:  fmt.Sprintf("Run %s", run.RunID),
		Color:  color,
		Fields: fields,
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.DiscordWebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to discord: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) sendEmail(target models.NotificationTarget, run *models.Run, completed, total int) error {
	if target.EmailAddress == "" {
		return fmt.Errorf("email target has no address")
	}
	if s.smtp.Addr == "" {
		return fmt.Errorf("smtp relay not configured")
	}

	subject := fmt.Sprintf("Run %s: %s", run.RunID, run.Status)
	body := fmt.Sprintf("Run %s finished with status %s.\nJobs completed: %d/%d\nLLM tokens used: %d\n",
		run.RunID, run.Status, completed, total, run.TotalTokens)
	msg := fmt.Appendf(nil, "From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", s.smtp.From, target.EmailAddress, subject, body)

	var auth smtp.Auth
	if s.smtp.Username != "" {
		auth = smtp.PlainAuth("", s.smtp.Username, s.smtp.Password, hostOnly(s.smtp.Addr))
	}
	return s.sendMail(s.smtp.Addr, auth, s.smtp.From, []string{target.EmailAddress}, msg)
}

func hostOnly(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
