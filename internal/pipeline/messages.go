package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/schedule"
)

const (
	messageChannelDisabled = "⏸️ Lecture relay is disabled for this channel."
	messageBatchRunning    = "⏳ A check is already running. Try again when it finishes."
	messageChecking        = "🔎 Checking today's schedule..."
	messageNoneScheduled   = "📭 No lectures are scheduled today."
	messageUnexpectedError = "⚠️ The check stopped because of an unexpected error."

	messageNoneReadyFormat  = "🕒 %d lecture(s) scheduled, none ready yet. Try again after they end."
	messageFoundFormat      = "📚 %d lecture(s) ready. Relaying them one at a time."
	messageItemStartFormat  = "⬇️ [%d/%d] Processing: %s"
	messageItemFailedFormat = "❌ [%d/%d] Failed: %s\nReason: %s"
	messageSummaryFormat    = "✅ Done: %d/%d delivered, %d failed."
	messageSkippedFormat    = " %d not attempted (check stopped)."
	captionDateLayout       = "02 Jan 2006"
)

type failureReason string

const (
	reasonVideoNotResolved failureReason = "video not available"
	reasonConversionFailed failureReason = "manifest conversion failed"
	reasonRelayFailed      failureReason = "relay failed"
	reasonForwardFailed    failureReason = "forwarding failed"
	reasonUnexpected       failureReason = "unexpected error"
)

func noneReadyMessage(scheduled int) string {
	return fmt.Sprintf(messageNoneReadyFormat, scheduled)
}

func foundMessage(available int) string {
	return fmt.Sprintf(messageFoundFormat, available)
}

func itemStartMessage(index, total int, title string) string {
	return fmt.Sprintf(messageItemStartFormat, index, total, title)
}

func itemFailedMessage(index, total int, title string, reason failureReason) string {
	return fmt.Sprintf(messageItemFailedFormat, index, total, title, reason)
}

func summaryMessage(delivered, total, failed, notAttempted int) string {
	msg := fmt.Sprintf(messageSummaryFormat, delivered, total, failed)
	if notAttempted > 0 {
		msg += fmt.Sprintf(messageSkippedFormat, notAttempted)
	}
	return msg
}

// Caption renders the text attached to a relayed lecture.
func Caption(s schedule.Session, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	if s.Subject != "" {
		b.WriteString("📘 Subject: " + s.Subject + "\n")
	}
	if s.Topic != "" {
		b.WriteString("📝 Topic: " + s.Topic + "\n")
	}
	if s.Subject == "" && s.Topic == "" {
		b.WriteString("🎬 " + s.DisplayTitle() + "\n")
	}
	b.WriteString("📅 Date: " + now.In(loc).Format(captionDateLayout))
	return b.String()
}
