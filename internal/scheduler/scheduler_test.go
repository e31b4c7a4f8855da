package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
	"github.com/opentalon/idpportal/internal/provider"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []runCall
	answer string
	err    error
}

type runCall struct {
	Message        string
	ConversationID string
	Actor          string
}

func (f *fakeRunner) Run(ctx context.Context, message, conversationID string) (*orchestrator.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{Message: message, ConversationID: conversationID, Actor: actor.Actor(ctx)})
	if f.err != nil {
		return nil, f.err
	}
	answer := f.answer
	if answer == "" {
		answer = "ok"
	}
	return &orchestrator.RunResult{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: message},
			{Role: provider.RoleAssistant, Content: answer},
		},
		Outputs:        orchestrator.NewOutputs(),
		ConversationID: conversationID,
		Iterations:     1,
	}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) lastCall() runCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notifyCall
}

type notifyCall struct {
	Channel string
	Content string
}

func (n *fakeNotifier) Notify(_ context.Context, channel, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, notifyCall{Channel: channel, Content: content})
	return nil
}

func (n *fakeNotifier) messageCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func startScheduler(t *testing.T, s *Scheduler, runner *fakeRunner, jobs ...Job) {
	t.Helper()
	if err := s.Start(runner, jobs); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestJobParseSchedule(t *testing.T) {
	tests := []struct {
		spec string
		err  bool
	}{
		{"0 9 * * 1-5", false},
		{"*/15 * * * *", false},
		{"@daily", false},
		{"@every 30m", false},
		{"bad", true},
		{"* * * *", true},
		{"0 0 9 * * 1", true},
		{"", true},
	}
	for _, tc := range tests {
		j := Job{Schedule: tc.spec}
		_, err := j.parseSchedule()
		if tc.err && err == nil {
			t.Errorf("parseSchedule(%q): expected error", tc.spec)
		}
		if !tc.err && err != nil {
			t.Errorf("parseSchedule(%q): %v", tc.spec, err)
		}
	}
}

func TestJobsFromConfig(t *testing.T) {
	off := false
	jobs := JobsFromConfig([]config.ScheduleConfig{
		{Name: "sync", Cron: "0 2 * * *", Message: "Which apps are out of sync?", Notify: "#platform"},
		{Name: "off", Cron: "@hourly", Message: "noop", Enabled: &off},
		{Name: "pinned", Cron: "@daily", Message: "hi", ConversationID: "ops"},
	})
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].Schedule != "0 2 * * *" || jobs[0].NotifyChannel != "#platform" {
		t.Errorf("job = %+v", jobs[0])
	}
	if jobs[1].ConversationID != "ops" {
		t.Errorf("conversation_id = %q", jobs[1].ConversationID)
	}
}

func TestSchedulerStartRequiresRunner(t *testing.T) {
	s := New(nil, "", nil)
	if err := s.Start(nil, nil); err == nil {
		t.Error("expected error without runner")
	}
}

func TestSchedulerTickExecution(t *testing.T) {
	runner := &fakeRunner{}
	s := New(nil, "", nil)
	startScheduler(t, s, runner, Job{Name: "fast", Schedule: "@every 1s", Message: "ping"})

	if !waitFor(t, 3*time.Second, func() bool { return runner.callCount() >= 1 }) {
		t.Fatal("expected the job to fire within 3s")
	}
	call := runner.lastCall()
	if call.Message != "ping" {
		t.Errorf("message = %q", call.Message)
	}
	if call.ConversationID != "schedule-fast" {
		t.Errorf("conversation_id = %q, want schedule-fast", call.ConversationID)
	}
	if call.Actor != "scheduler:fast" {
		t.Errorf("actor = %q, want scheduler:fast", call.Actor)
	}
}

func TestSchedulerRunNowNotifies(t *testing.T) {
	runner := &fakeRunner{answer: "2 apps out of sync"}
	notifier := &fakeNotifier{}
	s := New(notifier, "", nil)
	startScheduler(t, s, runner, Job{Name: "sync", Schedule: "@daily", Message: "check", ConversationID: "ops", NotifyChannel: "#platform"})

	if err := s.RunNow("sync"); err != nil {
		t.Fatal(err)
	}
	if runner.lastCall().ConversationID != "ops" {
		t.Errorf("conversation_id = %q, want ops", runner.lastCall().ConversationID)
	}
	if notifier.messageCount() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.messageCount())
	}
	msg := notifier.messages[0]
	if msg.Channel != "#platform" {
		t.Errorf("channel = %q", msg.Channel)
	}
	if msg.Content != "[scheduled: sync] 2 apps out of sync" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestSchedulerRunNowWithoutChannel(t *testing.T) {
	runner := &fakeRunner{}
	notifier := &fakeNotifier{}
	s := New(notifier, "", nil)
	startScheduler(t, s, runner, Job{Name: "quiet", Schedule: "@daily", Message: "check"})

	if err := s.RunNow("quiet"); err != nil {
		t.Fatal(err)
	}
	if notifier.messageCount() != 0 {
		t.Errorf("notifications = %d, want 0", notifier.messageCount())
	}
}

func TestSchedulerRunnerError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("model unavailable")}
	notifier := &fakeNotifier{}
	s := New(notifier, "", nil)
	startScheduler(t, s, runner, Job{Name: "failing", Schedule: "@daily", Message: "check", NotifyChannel: "#ops"})

	err := s.RunNow("failing")
	if err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("err = %v", err)
	}
	if notifier.messageCount() != 0 {
		t.Error("failed runs should not notify")
	}
}

func TestSchedulerRunNowUnknown(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{})
	if err := s.RunNow("ghost"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestSchedulerDynamicCRUD(t *testing.T) {
	s := New(nil, t.TempDir(), nil)
	startScheduler(t, s, &fakeRunner{})

	if err := s.AddJob(Job{Name: "dyn1", Schedule: "@hourly", Message: "a"}, "user1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "dyn2", Schedule: "0 */2 * * *", Message: "b"}, "user1"); err != nil {
		t.Fatal(err)
	}

	jobs := s.ListJobs()
	if len(jobs) != 2 || jobs[0].Name != "dyn1" || jobs[1].Name != "dyn2" {
		t.Fatalf("jobs = %+v", jobs)
	}

	j, ok := s.GetJob("dyn1")
	if !ok {
		t.Fatal("dyn1 not found")
	}
	if j.Source != SourceDynamic {
		t.Errorf("source = %q, want dynamic", j.Source)
	}
	if j.CreatedBy != "user1" {
		t.Errorf("created_by = %q, want user1", j.CreatedBy)
	}
	if len(s.cron.Entries()) != 2 {
		t.Errorf("cron entries = %d, want 2", len(s.cron.Entries()))
	}

	if err := s.RemoveJob("dyn1", "user1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetJob("dyn1"); ok {
		t.Error("dyn1 should have been removed")
	}
	if len(s.cron.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(s.cron.Entries()))
	}

	if err := s.AddJob(Job{Name: "dyn2", Schedule: "@hourly", Message: "a"}, "user1"); err == nil {
		t.Error("expected duplicate error")
	}
}

func TestSchedulerPauseResume(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{})

	if err := s.AddJob(Job{Name: "pr1", Schedule: "@hourly", Message: "a"}, "user1"); err != nil {
		t.Fatal(err)
	}
	if err := s.PauseJob("pr1"); err != nil {
		t.Fatal(err)
	}
	if j, _ := s.GetJob("pr1"); !j.Paused {
		t.Error("job should be paused")
	}
	if len(s.cron.Entries()) != 0 {
		t.Errorf("paused job should have no cron entry, got %d", len(s.cron.Entries()))
	}

	if err := s.ResumeJob("pr1"); err != nil {
		t.Fatal(err)
	}
	if j, _ := s.GetJob("pr1"); j.Paused {
		t.Error("job should be resumed")
	}
	if len(s.cron.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(s.cron.Entries()))
	}
}

func TestSchedulerPausedJobNotStarted(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{}, Job{Name: "paused", Schedule: "@every 1s", Message: "a", Paused: true})

	if len(s.cron.Entries()) != 0 {
		t.Errorf("paused job should not be scheduled, got %d entries", len(s.cron.Entries()))
	}
}

func TestSchedulerValidation(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{})

	tests := []struct {
		name string
		job  Job
	}{
		{"empty name", Job{Schedule: "@hourly", Message: "a"}},
		{"bad schedule", Job{Name: "bad", Schedule: "notacron", Message: "a"}},
		{"no message", Job{Name: "empty", Schedule: "@hourly"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.AddJob(tc.job, "user1"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSchedulerInvalidStaticJobSkipped(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{},
		Job{Name: "good", Schedule: "@daily", Message: "a"},
		Job{Name: "bad", Schedule: "whenever", Message: "b"},
	)
	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != "good" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestSchedulerPersistence(t *testing.T) {
	dir := t.TempDir()

	s1 := New(nil, dir, nil)
	if err := s1.Start(&fakeRunner{}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s1.AddJob(Job{Name: "persist1", Schedule: "@hourly", Message: "a"}, "user1"); err != nil {
		t.Fatal(err)
	}
	if err := s1.AddJob(Job{Name: "persist2", Schedule: "@daily", Message: "b", NotifyChannel: "#ops"}, "user1"); err != nil {
		t.Fatal(err)
	}
	s1.Stop()

	data, err := os.ReadFile(filepath.Join(dir, "scheduler", "jobs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "persist2") {
		t.Errorf("persist file = %s", data)
	}

	s2 := New(nil, dir, nil)
	startScheduler(t, s2, &fakeRunner{})

	jobs := s2.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 persisted jobs, got %d", len(jobs))
	}
	if jobs[1].NotifyChannel != "#ops" || jobs[1].CreatedBy != "user1" {
		t.Errorf("job = %+v", jobs[1])
	}
}

func TestSchedulerStaticJobsNotPersisted(t *testing.T) {
	dir := t.TempDir()

	s := New(nil, dir, nil)
	if err := s.Start(&fakeRunner{}, []Job{{Name: "static1", Schedule: "@hourly", Message: "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "dyn1", Schedule: "@hourly", Message: "b"}, "user1"); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	s2 := New(nil, dir, nil)
	startScheduler(t, s2, &fakeRunner{})

	jobs := s2.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("expected only 1 persisted dynamic job, got %d", len(jobs))
	}
	if jobs[0].Name != "dyn1" {
		t.Errorf("expected dyn1, got %s", jobs[0].Name)
	}
}

func TestSchedulerStopReturns(t *testing.T) {
	s := New(nil, "", nil)
	if err := s.Start(&fakeRunner{}, []Job{
		{Name: "drain1", Schedule: "@every 1s", Message: "a"},
		{Name: "drain2", Schedule: "@every 1s", Message: "b"},
	}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return within 2s")
	}
}

func TestSchedulerUpdateJob(t *testing.T) {
	s := New(nil, t.TempDir(), nil)
	startScheduler(t, s, &fakeRunner{})

	if err := s.AddJob(Job{Name: "upd", Schedule: "@hourly", Message: "a"}, "user1"); err != nil {
		t.Fatal(err)
	}
	if err := s.PauseJob("upd"); err != nil {
		t.Fatal(err)
	}

	schedule := "0 9 * * 1-5"
	channel := "#alerts"
	if err := s.UpdateJob("upd", "user1", &schedule, &channel); err != nil {
		t.Fatal(err)
	}
	j, _ := s.GetJob("upd")
	if j.Schedule != schedule || j.NotifyChannel != channel {
		t.Errorf("job = %+v", j)
	}
	if j.Paused {
		t.Error("update should resume the job")
	}
	if len(s.cron.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(s.cron.Entries()))
	}

	bad := "every tuesday"
	if err := s.UpdateJob("upd", "user1", &bad, nil); err == nil {
		t.Error("expected error for bad schedule")
	}
	if j, _ := s.GetJob("upd"); j.Schedule != schedule {
		t.Errorf("failed update changed schedule to %q", j.Schedule)
	}
}

func TestSchedulerResumeNonPaused(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{}, Job{Name: "active", Schedule: "@hourly", Message: "a"})

	if err := s.ResumeJob("active"); err == nil {
		t.Error("expected error resuming non-paused job")
	}
}

func TestSchedulerRemoveNonexistent(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{})

	if err := s.RemoveJob("ghost", "user1"); err == nil {
		t.Error("expected error removing nonexistent job")
	}
	if err := s.PauseJob("ghost"); err == nil {
		t.Error("expected error pausing nonexistent job")
	}
}

func TestSchedulerConfigJobProtected(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{}, Job{Name: "cfg", Schedule: "@hourly", Message: "a"})

	if err := s.RemoveJob("cfg", "admin"); !errors.Is(err, ErrConfigProtected) {
		t.Errorf("remove err = %v, want ErrConfigProtected", err)
	}
	schedule := "@daily"
	if err := s.UpdateJob("cfg", "admin", &schedule, nil); !errors.Is(err, ErrConfigProtected) {
		t.Errorf("update err = %v, want ErrConfigProtected", err)
	}
	if j, _ := s.GetJob("cfg"); j.Source != SourceConfig {
		t.Errorf("source = %q, want config", j.Source)
	}
}

func TestSchedulerConfigJobCanBePaused(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{}, Job{Name: "cfg", Schedule: "@hourly", Message: "a"})

	if err := s.PauseJob("cfg"); err != nil {
		t.Fatalf("config jobs should be pausable: %v", err)
	}
	if err := s.ResumeJob("cfg"); err != nil {
		t.Fatalf("config jobs should be resumable: %v", err)
	}
}

func TestSchedulerApprovers(t *testing.T) {
	s := NewWithPolicy(nil, "", nil, config.SchedulerConfig{Approvers: []string{"alice", "bob"}})
	startScheduler(t, s, &fakeRunner{})

	if err := s.AddJob(Job{Name: "j1", Schedule: "@hourly", Message: "a"}, "mallory"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("add err = %v, want ErrNotAuthorized", err)
	}
	if err := s.AddJob(Job{Name: "j1", Schedule: "@hourly", Message: "a"}, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "j2", Schedule: "@hourly", Message: "a"}, "bob"); err != nil {
		t.Fatal(err)
	}

	schedule := "@daily"
	if err := s.UpdateJob("j1", "mallory", &schedule, nil); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("update err = %v, want ErrNotAuthorized", err)
	}
	if err := s.RemoveJob("j1", "mallory"); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("remove err = %v, want ErrNotAuthorized", err)
	}
	if err := s.RemoveJob("j1", "bob"); err != nil {
		t.Errorf("any approver may remove: %v", err)
	}
}

func TestSchedulerNoApproversAllowsEveryone(t *testing.T) {
	s := New(nil, "", nil)
	startScheduler(t, s, &fakeRunner{})

	if err := s.AddJob(Job{Name: "open", Schedule: "@hourly", Message: "a"}, "anyone"); err != nil {
		t.Errorf("without approvers anyone may add jobs: %v", err)
	}
}

func TestSchedulerMaxJobsPerUser(t *testing.T) {
	s := NewWithPolicy(nil, "", nil, config.SchedulerConfig{MaxJobsPerUser: 2})
	startScheduler(t, s, &fakeRunner{}, Job{Name: "cfg", Schedule: "@hourly", Message: "a", CreatedBy: "alice"})

	for _, name := range []string{"a1", "a2"} {
		if err := s.AddJob(Job{Name: name, Schedule: "@hourly", Message: "a"}, "alice"); err != nil {
			t.Fatal(err)
		}
	}
	err := s.AddJob(Job{Name: "a3", Schedule: "@hourly", Message: "a"}, "alice")
	if err == nil || !strings.Contains(err.Error(), "job limit reached") {
		t.Errorf("err = %v, want job limit", err)
	}
	if err := s.AddJob(Job{Name: "b1", Schedule: "@hourly", Message: "a"}, "bob"); err != nil {
		t.Errorf("limit is per user: %v", err)
	}
}

func TestSchedulerMaxJobsZeroMeansUnlimited(t *testing.T) {
	s := NewWithPolicy(nil, "", nil, config.SchedulerConfig{})
	startScheduler(t, s, &fakeRunner{})

	for _, name := range []string{"u1", "u2", "u3", "u4"} {
		if err := s.AddJob(Job{Name: name, Schedule: "@hourly", Message: "a"}, "alice"); err != nil {
			t.Fatal(err)
		}
	}
}
