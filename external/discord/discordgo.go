package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/lecturerelay/internal/notify"
)

const (
	embedColorDelivered = 0x2ecc71
	embedColorFailed    = 0xe74c3c
	embedColorSummary   = 0x3498db
)

// Notifier posts delivery outcomes to an operations channel over the REST
// API only; it never opens a gateway connection.
type Notifier struct {
	session   *discordgo.Session
	channelID string
}

func NewNotifier(token, channelID string) (*Notifier, error) {
	if token == "" || channelID == "" {
		return &Notifier{}, nil
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Notifier{session: s, channelID: channelID}, nil
}

func (n *Notifier) enabled() bool {
	return n.session != nil && n.channelID != ""
}

func (n *Notifier) NotifyDelivery(ctx context.Context, event notify.DeliveryEvent) error {
	if !n.enabled() {
		return nil
	}
	embed := &discordgo.MessageEmbed{
		Title: deliveryTitle(event),
		Color: embedColorDelivered,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: channelLabel(event.ChannelName, event.ChannelID), Inline: true},
			{Name: "Batch", Value: orDash(event.BatchID), Inline: true},
			{Name: "Session", Value: orDash(event.SessionID), Inline: true},
		},
	}
	if event.Outcome == notify.OutcomeFailed {
		embed.Color = embedColorFailed
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Reason", Value: orDash(event.Reason)})
	}
	if !event.OccurredAt.IsZero() {
		embed.Timestamp = event.OccurredAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	_, err := n.session.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send delivery notice to discord: %w", err)
	}
	return nil
}

func (n *Notifier) NotifySummary(ctx context.Context, summary notify.BatchSummary) error {
	if !n.enabled() {
		return nil
	}
	description := strconv.Itoa(summary.Delivered) + "/" + strconv.Itoa(summary.Total) + " delivered, " + strconv.Itoa(summary.Failed) + " failed"
	if summary.NotAttempted > 0 {
		description += ", " + strconv.Itoa(summary.NotAttempted) + " not attempted"
	}
	embed := &discordgo.MessageEmbed{
		Title:       ":bar_chart: **Batch finished**",
		Color:       embedColorSummary,
		Description: description,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: channelLabel(summary.ChannelName, summary.ChannelID), Inline: true},
			{Name: "Batch", Value: orDash(summary.BatchID), Inline: true},
		},
	}
	_, err := n.session.ChannelMessageSendEmbed(n.channelID, embed, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send batch summary to discord: %w", err)
	}
	return nil
}

func deliveryTitle(event notify.DeliveryEvent) string {
	title := orDash(event.Title)
	if event.Outcome == notify.OutcomeFailed {
		return ":x: **Failed:** " + title
	}
	return ":white_check_mark: **Delivered:** " + title
}

func channelLabel(name, id string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return orDash(id)
	}
	return name + " (" + id + ")"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
