package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
)

type State string

const (
	StateCommandSent           State = "COMMAND_SENT"
	StateAwaitingQualityPrompt State = "AWAITING_QUALITY_PROMPT"
	StateQualitySelected       State = "QUALITY_SELECTED"
	StateAwaitingResult        State = "AWAITING_RESULT"
	StateDelivered             State = "DELIVERED"
	StateFailed                State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

type FailureReason string

const (
	ReasonCommandNotSent    FailureReason = "command not sent"
	ReasonNoQualityPrompt   FailureReason = "no quality prompt"
	ReasonNoBestOption      FailureReason = "no best-quality option"
	ReasonInactivityTimeout FailureReason = "inactivity timeout"
	ReasonTotalTimeout      FailureReason = "total timeout"
	ReasonCancelled         FailureReason = "cancelled"
)

type NegotiationError struct {
	Reason FailureReason
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("negotiation failed: %s: %v", e.Reason, e.Err)
	}
	return "negotiation failed: " + string(e.Reason)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the failure category from a negotiation error.
func ReasonOf(err error) (FailureReason, bool) {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne.Reason, true
	}
	return "", false
}

// Protocol describes how the uploader agent is driven.
type Protocol struct {
	Agent         telegram.ChatKey
	CommandFormat string
	PromptMarker  string
	BestLabel     string
}

type Tunables struct {
	PromptWait        time.Duration
	PromptAttempts    int
	Lookback          int
	PollInterval      time.Duration
	InactivityTimeout time.Duration
	TotalTimeout      time.Duration
	MinResultBytes    int64
}

func ProtocolFromConfig(c *config.Config) Protocol {
	return Protocol{
		Agent:         telegram.NormalizeChatKey(c.RelayBotUsername),
		CommandFormat: c.RelayCommandFormat,
		PromptMarker:  c.RelayPromptMarker,
		BestLabel:     c.RelayBestLabel,
	}
}

func TunablesFromConfig(c *config.Config) Tunables {
	return Tunables{
		PromptWait:        c.RelayPromptWait,
		PromptAttempts:    c.RelayPromptAttempts,
		Lookback:          c.RelayLookback,
		PollInterval:      c.RelayPollInterval,
		InactivityTimeout: c.RelayInactivityTimeout,
		TotalTimeout:      c.RelayTotalTimeout,
		MinResultBytes:    c.RelayMinResultBytes,
	}
}

// Exchange is the state of a single negotiation.
type Exchange struct {
	State             State
	CommandSent       time.Time
	CommandMessageID  int
	QualityPromptSeen bool
	SelectionMade     bool
	LastProgress      string
	LastActivity      time.Time
	Result            *telegram.Media
	Reason            FailureReason

	promptAttempts int
	err            error
}

type stepFunc func(ctx context.Context, x *Exchange) State

type Negotiator struct {
	client   telegram.Client
	protocol Protocol
	tunables Tunables
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
	steps    map[State]stepFunc
}

func NewNegotiator(client telegram.Client, protocol Protocol, tunables Tunables) *Negotiator {
	n := &Negotiator{
		client:   client,
		protocol: protocol,
		tunables: tunables,
		now:      time.Now,
		sleep:    sleepContext,
	}
	n.steps = map[State]stepFunc{
		StateCommandSent:           n.stepCommandSent,
		StateAwaitingQualityPrompt: n.stepAwaitingQualityPrompt,
		StateQualitySelected:       n.stepQualitySelected,
		StateAwaitingResult:        n.stepAwaitingResult,
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Negotiate hands videoURL to the uploader agent and drives it until the
// converted media arrives or the exchange fails.
func (n *Negotiator) Negotiate(ctx context.Context, videoURL, title string) (*Exchange, error) {
	x := &Exchange{}
	if err := n.sendCommand(ctx, x, videoURL, title); err != nil {
		x.State = StateFailed
		x.Reason = ReasonCommandNotSent
		x.err = err
		slog.Error("failed to send relay command", "error", err, "agent", n.protocol.Agent)
		return x, &NegotiationError{Reason: x.Reason, Err: err}
	}

	for !x.State.Terminal() {
		step, ok := n.steps[x.State]
		if !ok {
			return x, fmt.Errorf("no step for state %s", x.State)
		}
		next := step(ctx, x)
		if next != x.State {
			slog.Info("relay state changed", "from", x.State, "to", next, "command_message_id", x.CommandMessageID)
		}
		x.State = next
	}

	if x.State == StateFailed {
		slog.Warn("relay negotiation failed", "reason", x.Reason, "command_message_id", x.CommandMessageID, "last_progress", x.LastProgress)
		return x, &NegotiationError{Reason: x.Reason, Err: x.err}
	}
	slog.Info("relay negotiation delivered", "command_message_id", x.CommandMessageID, "size", x.Result.Size, "mime_type", x.Result.MimeType)
	return x, nil
}

func (n *Negotiator) sendCommand(ctx context.Context, x *Exchange, videoURL, title string) error {
	command := n.renderCommand(videoURL, SanitizeTitle(title))
	msgID, err := n.client.SendMessage(ctx, n.protocol.Agent, command)
	if err != nil {
		return err
	}
	now := n.now()
	x.State = StateCommandSent
	x.CommandSent = now
	x.CommandMessageID = msgID
	x.LastActivity = now
	slog.Info("relay command sent", "agent", n.protocol.Agent, "command_message_id", msgID)
	return nil
}

func (n *Negotiator) renderCommand(videoURL, title string) string {
	if strings.Count(strings.ReplaceAll(n.protocol.CommandFormat, "%%", ""), "%s") < 2 {
		return fmt.Sprintf(n.protocol.CommandFormat, videoURL)
	}
	return fmt.Sprintf(n.protocol.CommandFormat, videoURL, title)
}

func (n *Negotiator) fail(x *Exchange, reason FailureReason) State {
	x.Reason = reason
	return StateFailed
}

func (n *Negotiator) stepCommandSent(ctx context.Context, x *Exchange) State {
	if !n.sleep(ctx, n.tunables.PromptWait) {
		return n.fail(x, ReasonCancelled)
	}
	return StateAwaitingQualityPrompt
}

func (n *Negotiator) stepAwaitingQualityPrompt(ctx context.Context, x *Exchange) State {
	x.promptAttempts++
	messages, err := n.client.RecentMessages(ctx, n.protocol.Agent, n.tunables.Lookback)
	if err != nil {
		slog.Warn("failed to read agent messages while waiting for quality prompt", "error", err, "attempt", x.promptAttempts)
	}
	if prompt, ok := n.findPrompt(x, messages); ok {
		x.QualityPromptSeen = true
		button, ok := SelectBestButton(prompt.Buttons, n.protocol.BestLabel)
		if !ok {
			return n.fail(x, ReasonNoBestOption)
		}
		if err := n.client.ClickButton(ctx, n.protocol.Agent, prompt.ID, button); err != nil {
			slog.Warn("quality button click returned an error; continuing", "error", err, "button", button.Text)
		}
		x.SelectionMade = true
		slog.Info("quality selected", "button", button.Text, "prompt_message_id", prompt.ID)
		return StateQualitySelected
	}

	if x.promptAttempts >= n.tunables.PromptAttempts {
		return n.fail(x, ReasonNoQualityPrompt)
	}
	if !n.sleep(ctx, n.tunables.PromptWait) {
		return n.fail(x, ReasonCancelled)
	}
	return StateAwaitingQualityPrompt
}

func (n *Negotiator) stepQualitySelected(_ context.Context, x *Exchange) State {
	x.LastActivity = n.now()
	return StateAwaitingResult
}

func (n *Negotiator) stepAwaitingResult(ctx context.Context, x *Exchange) State {
	messages, err := n.client.RecentMessages(ctx, n.protocol.Agent, n.tunables.Lookback)
	if err != nil {
		slog.Warn("failed to read agent messages while waiting for result", "error", err)
	}
	if media, ok := n.findResult(x, messages); ok {
		x.Result = media
		return StateDelivered
	}
	n.trackProgress(x, messages)

	now := n.now()
	if now.Sub(x.CommandSent) >= n.tunables.TotalTimeout {
		return n.fail(x, ReasonTotalTimeout)
	}
	if now.Sub(x.LastActivity) >= n.tunables.InactivityTimeout {
		return n.fail(x, ReasonInactivityTimeout)
	}
	if !n.sleep(ctx, n.tunables.PollInterval) {
		return n.fail(x, ReasonCancelled)
	}
	return StateAwaitingResult
}

func (n *Negotiator) newerThanCommand(x *Exchange, m telegram.Message) bool {
	if x.CommandMessageID > 0 {
		return m.ID > x.CommandMessageID
	}
	return !m.Date.Before(x.CommandSent.Truncate(time.Second))
}

func (n *Negotiator) findPrompt(x *Exchange, messages []telegram.Message) (telegram.Message, bool) {
	marker := strings.ToLower(n.protocol.PromptMarker)
	for _, m := range newestFirst(messages) {
		if !n.newerThanCommand(x, m) || !m.HasButtons() {
			continue
		}
		if strings.Contains(strings.ToLower(m.Text), marker) {
			return m, true
		}
	}
	return telegram.Message{}, false
}

func (n *Negotiator) findResult(x *Exchange, messages []telegram.Message) (*telegram.Media, bool) {
	for _, m := range newestFirst(messages) {
		if m.Media == nil || !n.newerThanCommand(x, m) {
			continue
		}
		media := m.Media
		if media.Kind != telegram.MediaKindVideo && !(media.Kind == telegram.MediaKindDocument && media.IsVideo) {
			continue
		}
		if media.Size <= n.tunables.MinResultBytes {
			slog.Debug("ignoring video below minimum size", "message_id", m.ID, "size", media.Size, "min_size", n.tunables.MinResultBytes)
			continue
		}
		return media, true
	}
	return nil, false
}

func (n *Negotiator) trackProgress(x *Exchange, messages []telegram.Message) {
	for _, m := range newestFirst(messages) {
		if !n.newerThanCommand(x, m) {
			continue
		}
		progress, ok := NormalizeProgress(m.Text)
		if !ok {
			continue
		}
		if progress != x.LastProgress {
			x.LastProgress = progress
			x.LastActivity = n.now()
			slog.Info("relay progress", "progress", progress, "command_message_id", x.CommandMessageID)
		}
		return
	}
}

func newestFirst(messages []telegram.Message) []telegram.Message {
	out := make([]telegram.Message, len(messages))
	copy(out, messages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// SelectBestButton returns the first button in row-major order whose label
// contains label, ignoring case.
func SelectBestButton(buttons []telegram.Button, label string) (telegram.Button, bool) {
	ordered := make([]telegram.Button, len(buttons))
	copy(ordered, buttons)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Row != ordered[j].Row {
			return ordered[i].Row < ordered[j].Row
		}
		return ordered[i].Col < ordered[j].Col
	})
	label = strings.ToLower(label)
	for _, b := range ordered {
		if strings.Contains(strings.ToLower(b.Text), label) {
			return b, true
		}
	}
	return telegram.Button{}, false
}
