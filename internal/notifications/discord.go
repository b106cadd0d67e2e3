package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     zerolog.Logger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger zerolog.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger.With().Str("component", "discord").Logger(),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// post delivers msg to the webhook.
func (d *Discord) post(ctx context.Context, msg discordMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyMeetingSaved posts a summary of a saved meeting.
func (d *Discord) NotifyMeetingSaved(ctx context.Context, m MeetingSaved) error {
	if !d.Enabled() {
		return nil
	}
	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Meeting saved",
			Description: preview(m.Transcript, 300),
			Color:       0x5865F2,
			Fields: []embedField{
				{Name: "Syncup", Value: m.SyncupTitle, Inline: true},
				{Name: "Duration", Value: m.Duration.Round(time.Second).String(), Inline: true},
				{Name: "Attendees", Value: fmt.Sprintf("%d", m.Attendees), Inline: true},
			},
			Timestamp: m.EndedAt.UTC().Format(time.RFC3339),
		}},
	}
	if err := d.post(ctx, msg); err != nil {
		d.logger.Warn().Err(err).Str("meeting_id", m.MeetingID).Msg("failed to notify")
		return err
	}
	return nil
}
