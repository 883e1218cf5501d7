package worker

import (
	"context"
	"testing"

	"github.com/foxseedlab/lecturerelay/internal/pipeline"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/schedule"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
)

type recordingRunner struct {
	events  []telegram.CommandEvent
	running bool
}

func (r *recordingRunner) HandleCheck(_ context.Context, event telegram.CommandEvent) {
	r.events = append(r.events, event)
}

func (r *recordingRunner) Running() bool {
	return r.running
}

type blockingSchedule struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingSchedule) FetchSchedule(context.Context, string, string) []schedule.Session {
	close(b.started)
	<-b.release
	return nil
}

func TestRunAutoCheck_OnlyActiveChannels(t *testing.T) {
	snapshot := registry.NewSnapshot([]registry.ChannelMapping{
		{ChannelID: "@Physics", BatchID: "b1", Active: true},
		{ChannelID: "@chemistry", BatchID: "b2", Active: false},
	})
	r := &recordingRunner{}

	runAutoCheck(context.Background(), r, snapshot)

	if len(r.events) != 1 || r.events[0].Chat != "@physics" || r.events[0].Command != "check" {
		t.Fatalf("unexpected events: %+v", r.events)
	}
}

func TestRunAutoCheck_StopsWhenCancelled(t *testing.T) {
	snapshot := registry.NewSnapshot([]registry.ChannelMapping{{ChannelID: "@physics", Active: true}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &recordingRunner{}

	runAutoCheck(ctx, r, snapshot)

	if len(r.events) != 0 {
		t.Fatalf("expected no checks after cancellation, got %+v", r.events)
	}
}

func TestRunAutoCheck_SkipsWhileRunnerBusy(t *testing.T) {
	snapshot := registry.NewSnapshot([]registry.ChannelMapping{{ChannelID: "@physics", Active: true}})
	r := &recordingRunner{running: true}

	runAutoCheck(context.Background(), r, snapshot)

	if len(r.events) != 0 {
		t.Fatalf("expected no checks while busy, got %+v", r.events)
	}
}

func TestRunAutoCheck_ManualCheckInProgressPostsNothing(t *testing.T) {
	client := newFakeClient()
	sched := blockingSchedule{started: make(chan struct{}), release: make(chan struct{})}
	orch := pipeline.NewOrchestrator(client, sched, noVideos{}, nil, nil, nil, pipeline.Settings{})
	snapshot := registry.NewSnapshot([]registry.ChannelMapping{
		{ChannelID: "@physics", BatchID: "b1", Active: true},
		{ChannelID: "@chemistry", BatchID: "b2", Active: true},
	})
	orch.SetChannels(snapshot)

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.HandleCheck(context.Background(), telegram.CommandEvent{Chat: "@physics", Command: pipeline.CheckCommand})
	}()
	<-sched.started
	before := len(client.sent())

	runAutoCheck(context.Background(), orch, snapshot)

	if got := client.sent(); len(got) != before {
		t.Fatalf("auto check posted while a manual check was running: %q", got[before:])
	}
	close(sched.release)
	<-done
	if orch.Running() {
		t.Fatal("running flag should be released after the manual check")
	}
}

func TestValidateCronSpec(t *testing.T) {
	for _, spec := range []string{"", "*/30 * * * *", "@hourly", "0 21 * * 1-6"} {
		if err := ValidateCronSpec(spec); err != nil {
			t.Errorf("ValidateCronSpec(%q) returned %v", spec, err)
		}
	}
	for _, spec := range []string{"every day", "61 * * * *", "* * * * * *"} {
		if err := ValidateCronSpec(spec); err == nil {
			t.Errorf("ValidateCronSpec(%q) should fail", spec)
		}
	}
}
