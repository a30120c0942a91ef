package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// Discord embed accent colors per event severity.
const (
	colorInfo    = 0x5865f2 // blurple: routine lifecycle events
	colorSuccess = 0x57f287 // green: resolution and claims
	colorWarn    = 0xfee75c // yellow: admin interventions
)

// DiscordSender delivers alerts to a Discord channel via webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
}

// Send posts the alert as a rich embed, with the market and event type as
// separate fields so channel history stays scannable.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	payload := struct {
		Embeds []discordEmbed `json:"embeds"`
	}{
		Embeds: []discordEmbed{{
			Title:       a.Title,
			Description: a.Body,
			Color:       embedColor(a.Event),
			Fields: []discordField{
				{Name: "Market", Value: a.MarketID, Inline: true},
				{Name: "Event", Value: string(a.Event), Inline: true},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}

func embedColor(ev domain.EventType) int {
	switch ev {
	case domain.EventMarketResolved, domain.EventWinningsClaimed:
		return colorSuccess
	case domain.EventResidualWithdrawn, domain.EventOwnershipTransferred, domain.EventFeeConfigChanged:
		return colorWarn
	default:
		return colorInfo
	}
}
