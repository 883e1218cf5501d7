package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/notify"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/relay"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/foxseedlab/lecturerelay/internal/schedule"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
	"github.com/foxseedlab/lecturerelay/internal/video"
	"github.com/google/go-cmp/cmp"
)

type sentMedia struct {
	chat    telegram.ChatKey
	ref     telegram.MediaRef
	caption string
}

type mockTelegram struct {
	mu          sync.Mutex
	messages    []string
	media       []sentMedia
	nextID      int
	mediaErr    error
	unreachable map[telegram.ChatKey]bool
}

func (m *mockTelegram) Connect(context.Context) error {
	return nil
}

func (m *mockTelegram) Close() error {
	return nil
}

func (m *mockTelegram) Run() error {
	return nil
}

func (m *mockTelegram) IsConnected() bool {
	return true
}

func (m *mockTelegram) RegisterCommandHandler(string, func(telegram.CommandEvent)) {}

func (m *mockTelegram) SendMessage(ctx context.Context, chat telegram.ChatKey, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.unreachable[chat] {
		return 0, fmt.Errorf("chat %s: peer not found", chat)
	}
	m.nextID++
	m.messages = append(m.messages, text)
	return m.nextID, nil
}

func (m *mockTelegram) DeleteMessages(context.Context, telegram.ChatKey, ...int) error {
	return nil
}

func (m *mockTelegram) RecentMessages(context.Context, telegram.ChatKey, int) ([]telegram.Message, error) {
	return nil, nil
}

func (m *mockTelegram) ClickButton(context.Context, telegram.ChatKey, int, telegram.Button) error {
	return nil
}

func (m *mockTelegram) SendMedia(_ context.Context, chat telegram.ChatKey, ref telegram.MediaRef, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mediaErr != nil {
		return m.mediaErr
	}
	m.media = append(m.media, sentMedia{chat: chat, ref: ref, caption: caption})
	return nil
}

func (m *mockTelegram) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

type mockSchedule struct {
	sessions []schedule.Session
	calls    int
	token    string
}

func (m *mockSchedule) FetchSchedule(_ context.Context, _ string, token string) []schedule.Session {
	m.calls++
	m.token = token
	return m.sessions
}

type mockVideos struct {
	errs map[string]error
}

func (m *mockVideos) ResolvePlayable(_ context.Context, _, sessionID string, _ video.Tokens) (video.Reference, error) {
	if err := m.errs[sessionID]; err != nil {
		return video.Reference{}, err
	}
	return video.Reference{URL: "https://cdn/" + sessionID}, nil
}

type mockNegotiator struct {
	errs   map[string]error
	panics map[string]bool
	urls   []string
}

func (m *mockNegotiator) Negotiate(_ context.Context, videoURL, _ string) (*relay.Exchange, error) {
	m.urls = append(m.urls, videoURL)
	if m.panics[videoURL] {
		panic("agent sent something unexpected")
	}
	if err := m.errs[videoURL]; err != nil {
		return &relay.Exchange{State: relay.StateFailed}, err
	}
	id := int64(len(m.urls))
	return &relay.Exchange{
		State:  relay.StateDelivered,
		Result: &telegram.Media{Kind: telegram.MediaKindVideo, Size: 50 << 20, Ref: telegram.MediaRef{ID: id}},
	}, nil
}

type mockDeliveries struct {
	inputs []repository.CreateDeliveryInput
}

func (m *mockDeliveries) CreateDelivery(_ context.Context, input repository.CreateDeliveryInput) (*repository.Delivery, error) {
	m.inputs = append(m.inputs, input)
	return &repository.Delivery{ID: fmt.Sprint(len(m.inputs))}, nil
}

type mockNotifier struct {
	deliveries []notify.DeliveryEvent
	summaries  []notify.BatchSummary
}

func (m *mockNotifier) NotifyDelivery(_ context.Context, event notify.DeliveryEvent) error {
	m.deliveries = append(m.deliveries, event)
	return nil
}

func (m *mockNotifier) NotifySummary(_ context.Context, summary notify.BatchSummary) error {
	m.summaries = append(m.summaries, summary)
	return nil
}

type harness struct {
	orch       *Orchestrator
	tg         *mockTelegram
	schedule   *mockSchedule
	videos     *mockVideos
	negotiator *mockNegotiator
	deliveries *mockDeliveries
	notifier   *mockNotifier
	slept      []time.Duration
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newHarness(channels ...registry.ChannelMapping) *harness {
	h := &harness{
		tg:         &mockTelegram{},
		schedule:   &mockSchedule{},
		videos:     &mockVideos{errs: map[string]error{}},
		negotiator: &mockNegotiator{errs: map[string]error{}, panics: map[string]bool{}},
		deliveries: &mockDeliveries{},
		notifier:   &mockNotifier{},
	}
	h.orch = NewOrchestrator(h.tg, h.schedule, h.videos, h.negotiator, h.deliveries, h.notifier, Settings{
		Cooldown: 5 * time.Minute,
		Location: time.UTC,
	})
	h.orch.now = func() time.Time { return testNow }
	h.orch.sleep = func(ctx context.Context, d time.Duration) bool {
		h.slept = append(h.slept, d)
		return ctx.Err() == nil
	}
	h.orch.SetChannels(registry.NewSnapshot(channels))
	h.orch.SetCredentials(config.Credentials{ScheduleToken: "pw", ConverterToken: "conv"})
	return h
}

func completed(id, subject, topic string) schedule.Session {
	return schedule.Session{ID: id, Subject: subject, Topic: topic, Status: schedule.StatusCompleted}
}

func checkEvent(chat, alt telegram.ChatKey) telegram.CommandEvent {
	return telegram.CommandEvent{Chat: chat, AltChat: alt, Command: CheckCommand}
}

func TestHandleCheck_ThreeItemsWithMiddleFailure(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ID: "1", ChannelID: "@physics", BatchID: "b1", Name: "Physics", Active: true})
	h.schedule.sessions = []schedule.Session{
		completed("s1", "Physics", "Kinematics"),
		completed("s2", "Physics", "Optics"),
		completed("s3", "Physics", "Waves"),
	}
	h.negotiator.errs["https://cdn/s2"] = &relay.NegotiationError{Reason: relay.ReasonNoQualityPrompt}

	h.orch.HandleCheck(context.Background(), checkEvent("@physics", "-1001"))

	if len(h.tg.media) != 2 {
		t.Fatalf("expected 2 forwarded media, got %d", len(h.tg.media))
	}
	for _, m := range h.tg.media {
		if m.chat != "@physics" {
			t.Fatalf("media forwarded to wrong chat: %s", m.chat)
		}
	}
	if !strings.Contains(h.tg.media[1].caption, "Waves") {
		t.Fatalf("second media should be the third lecture, caption: %q", h.tg.media[1].caption)
	}

	sent := h.tg.sent()
	if !containsText(sent, "[2/3] Failed: Physics - Optics\nReason: no quality prompt") {
		t.Fatalf("missing per-item failure report in %q", sent)
	}
	if last := sent[len(sent)-1]; last != summaryMessage(2, 3, 1, 0) {
		t.Fatalf("unexpected summary: %q", last)
	}
	if diff := cmp.Diff([]time.Duration{5 * time.Minute, 5 * time.Minute}, h.slept); diff != "" {
		t.Fatalf("cooldown should run between items only (-want +got):\n%s", diff)
	}

	var outcomes []repository.DeliveryOutcome
	for _, in := range h.deliveries.inputs {
		outcomes = append(outcomes, in.Outcome)
	}
	wantOutcomes := []repository.DeliveryOutcome{repository.DeliveryOutcomeDelivered, repository.DeliveryOutcomeFailed, repository.DeliveryOutcomeDelivered}
	if diff := cmp.Diff(wantOutcomes, outcomes); diff != "" {
		t.Fatalf("unexpected recorded outcomes (-want +got):\n%s", diff)
	}
	if h.deliveries.inputs[1].Reason != string(relay.ReasonNoQualityPrompt) {
		t.Fatalf("unexpected recorded reason: %q", h.deliveries.inputs[1].Reason)
	}
	if len(h.notifier.summaries) != 1 || h.notifier.summaries[0].Delivered != 2 || h.notifier.summaries[0].Failed != 1 {
		t.Fatalf("unexpected summaries: %+v", h.notifier.summaries)
	}
	if h.schedule.token != "pw" {
		t.Fatalf("schedule token not forwarded: %q", h.schedule.token)
	}
	if h.orch.Running() {
		t.Fatal("single-flight guard should be released after the batch")
	}
}

func TestHandleCheck_UnknownChatIsIgnored(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})

	h.orch.HandleCheck(context.Background(), checkEvent("@chemistry", "-1002"))

	if len(h.tg.sent()) != 0 || h.schedule.calls != 0 {
		t.Fatalf("unknown chat should be ignored silently: messages=%v fetches=%d", h.tg.sent(), h.schedule.calls)
	}
}

func TestHandleCheck_DisabledChannel(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: false})

	h.orch.HandleCheck(context.Background(), checkEvent("@physics", ""))

	if diff := cmp.Diff([]string{messageChannelDisabled}, h.tg.sent()); diff != "" {
		t.Fatalf("unexpected messages (-want +got):\n%s", diff)
	}
	if h.schedule.calls != 0 {
		t.Fatal("schedule should not be fetched for a disabled channel")
	}
}

func TestHandleCheck_LooksUpAlternateKey(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "-1001234", BatchID: "b1", Active: true})

	h.orch.HandleCheck(context.Background(), checkEvent("@physics", "-1001234"))

	if h.schedule.calls != 1 {
		t.Fatalf("expected the numeric mapping to be used, fetches=%d", h.schedule.calls)
	}
}

func TestHandleCheck_EmptyScheduleAndNoneReady(t *testing.T) {
	t.Run("none scheduled", func(t *testing.T) {
		h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})
		h.orch.HandleCheck(context.Background(), checkEvent("@physics", ""))

		sent := h.tg.sent()
		if sent[len(sent)-1] != messageNoneScheduled {
			t.Fatalf("unexpected messages: %q", sent)
		}
	})

	t.Run("none ready", func(t *testing.T) {
		h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})
		h.schedule.sessions = []schedule.Session{
			{ID: "s1", Status: schedule.StatusLive, EndTime: testNow.Add(time.Hour).Format(time.RFC3339)},
		}
		h.orch.HandleCheck(context.Background(), checkEvent("@physics", ""))

		sent := h.tg.sent()
		if sent[len(sent)-1] != noneReadyMessage(1) {
			t.Fatalf("unexpected messages: %q", sent)
		}
		if len(h.negotiator.urls) != 0 {
			t.Fatal("nothing should be relayed")
		}
	})
}

func TestHandleCheck_RejectsConcurrentBatch(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})
	h.orch.running.Store(true)

	h.orch.HandleCheck(context.Background(), checkEvent("@physics", ""))

	if diff := cmp.Diff([]string{messageBatchRunning}, h.tg.sent()); diff != "" {
		t.Fatalf("unexpected messages (-want +got):\n%s", diff)
	}
	if h.schedule.calls != 0 {
		t.Fatal("a rejected check must not fetch the schedule")
	}
}

func TestHandleCheck_RecoversItemPanicAndContinues(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})
	h.schedule.sessions = []schedule.Session{completed("s1", "", "One"), completed("s2", "", "Two")}
	h.negotiator.panics["https://cdn/s1"] = true

	h.orch.HandleCheck(context.Background(), checkEvent("@physics", ""))

	sent := h.tg.sent()
	if !containsText(sent, "[1/2] Failed: One\nReason: unexpected error") {
		t.Fatalf("panic should be reported per item: %q", sent)
	}
	if len(h.tg.media) != 1 || sent[len(sent)-1] != summaryMessage(1, 2, 1, 0) {
		t.Fatalf("second lecture should still be delivered: media=%d messages=%q", len(h.tg.media), sent)
	}
}

func TestHandleCheck_ResolutionFailures(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})
	h.schedule.sessions = []schedule.Session{completed("s1", "", "One"), completed("s2", "", "Two")}
	h.videos.errs["s1"] = fmt.Errorf("resolve: %w", video.ErrNotResolved)
	h.videos.errs["s2"] = fmt.Errorf("convert: %w", video.ErrConversionFailed)

	h.orch.HandleCheck(context.Background(), checkEvent("@physics", ""))

	sent := h.tg.sent()
	if !containsText(sent, "Reason: video not available") || !containsText(sent, "Reason: manifest conversion failed") {
		t.Fatalf("missing resolution failure reasons: %q", sent)
	}
	if len(h.negotiator.urls) != 0 {
		t.Fatal("unresolved lectures must not reach the uploader")
	}
}

func TestHandleCheck_ForwardFailure(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})
	h.schedule.sessions = []schedule.Session{completed("s1", "", "One")}
	h.tg.mediaErr = errors.New("CHAT_WRITE_FORBIDDEN")

	h.orch.HandleCheck(context.Background(), checkEvent("@physics", ""))

	if !containsText(h.tg.sent(), "Reason: forwarding failed") {
		t.Fatalf("missing forward failure: %q", h.tg.sent())
	}
}

func TestHandleCheck_StopDuringCooldown(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "@physics", BatchID: "b1", Active: true})
	h.schedule.sessions = []schedule.Session{completed("s1", "", "One"), completed("s2", "", "Two")}
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.sleep = func(context.Context, time.Duration) bool {
		cancel()
		return false
	}

	h.schedule.sessions = append(h.schedule.sessions, completed("s3", "", "Three"))

	h.orch.HandleCheck(ctx, checkEvent("@physics", ""))

	if len(h.negotiator.urls) != 1 {
		t.Fatalf("only the first lecture should be relayed, got %v", h.negotiator.urls)
	}
	sent := h.tg.sent()
	if last := sent[len(sent)-1]; last != summaryMessage(1, 3, 0, 2) {
		t.Fatalf("summary should still be posted after a stop, last message: %q", last)
	}
	if !strings.Contains(sent[len(sent)-1], "2 not attempted") {
		t.Fatalf("summary should report skipped lectures: %q", sent[len(sent)-1])
	}
	if len(h.notifier.summaries) != 1 || h.notifier.summaries[0].NotAttempted != 2 {
		t.Fatalf("unexpected summaries: %+v", h.notifier.summaries)
	}
}

func TestHandleCheck_UnreachableChatAbortsBeforeFetch(t *testing.T) {
	h := newHarness(registry.ChannelMapping{ChannelID: "-1009999", BatchID: "b1", Active: true})
	h.schedule.sessions = []schedule.Session{completed("s1", "", "One")}
	h.tg.unreachable = map[telegram.ChatKey]bool{"-1009999": true}

	h.orch.HandleCheck(context.Background(), checkEvent("-1009999", ""))

	if h.schedule.calls != 0 || len(h.negotiator.urls) != 0 {
		t.Fatalf("an unreachable chat must not start the batch: fetches=%d relayed=%v", h.schedule.calls, h.negotiator.urls)
	}
	if h.orch.Running() {
		t.Fatal("single-flight guard should be released")
	}
}

func TestCaption(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

	got := Caption(completed("s1", "Physics", "Optics"), now, loc)
	want := "📘 Subject: Physics\n📝 Topic: Optics\n📅 Date: 11 Mar 2026"
	if got != want {
		t.Fatalf("Caption() = %q, want %q", got, want)
	}

	if got := Caption(schedule.Session{ID: "s9"}, now, nil); got != "🎬 s9\n📅 Date: 10 Mar 2026" {
		t.Fatalf("unexpected fallback caption: %q", got)
	}
}

func containsText(messages []string, want string) bool {
	for _, m := range messages {
		if strings.Contains(m, want) {
			return true
		}
	}
	return false
}
