package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/idpportal/internal/actor"
	"github.com/opentalon/idpportal/internal/config"
	"github.com/opentalon/idpportal/internal/orchestrator"
)

// Notifier sends a message to a channel.
type Notifier interface {
	Notify(ctx context.Context, channel, content string) error
}

const (
	SourceConfig  = "config"
	SourceDynamic = "dynamic"
)

// Job is a supervisor prompt run on a cron schedule.
type Job struct {
	Name           string `yaml:"name" json:"name"`
	Schedule       string `yaml:"schedule" json:"schedule"`
	Message        string `yaml:"message" json:"message"`
	ConversationID string `yaml:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	NotifyChannel  string `yaml:"notify_channel,omitempty" json:"notify_channel,omitempty"`
	Paused         bool   `yaml:"paused,omitempty" json:"paused,omitempty"`
	Source         string `yaml:"source,omitempty" json:"source,omitempty"`         // "config" or "dynamic"
	CreatedBy      string `yaml:"created_by,omitempty" json:"created_by,omitempty"` // user who created the job
}

var (
	ErrConfigProtected = errors.New("config-defined jobs cannot be modified or removed")
	ErrNotAuthorized   = errors.New("not authorized: only designated approvers can manage scheduled jobs")
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (j *Job) parseSchedule() (cron.Schedule, error) {
	return specParser.Parse(j.Schedule)
}

func (j *Job) conversationID() string {
	if j.ConversationID != "" {
		return j.ConversationID
	}
	return "schedule-" + j.Name
}

// JobsFromConfig converts the enabled config schedules to jobs.
func JobsFromConfig(schedules []config.ScheduleConfig) []Job {
	jobs := make([]Job, 0, len(schedules))
	for _, s := range schedules {
		if !s.IsEnabled() {
			continue
		}
		jobs = append(jobs, Job{
			Name:           s.Name,
			Schedule:       s.Cron,
			Message:        s.Message,
			ConversationID: s.ConversationID,
			NotifyChannel:  s.Notify,
		})
	}
	return jobs
}

type runningJob struct {
	job   Job
	entry cron.EntryID
}

// Scheduler runs jobs through the supervisor on their cron schedules.
type Scheduler struct {
	mu       sync.RWMutex
	jobs     map[string]*runningJob
	cron     *cron.Cron
	runner   orchestrator.Runner
	notifier Notifier
	dataDir  string
	logger   *zap.Logger

	approvers      map[string]bool
	maxJobsPerUser int

	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	manual  sync.WaitGroup // runs started by RunInBackground
}

func New(notifier Notifier, dataDir string, logger *zap.Logger) *Scheduler {
	return NewWithPolicy(notifier, dataDir, logger, config.SchedulerConfig{})
}

// NewWithPolicy creates a scheduler with governance rules.
// Approvers: if non-empty, only listed users can create/delete/update dynamic jobs.
// MaxJobsPerUser: if > 0, limits dynamic jobs per user.
func NewWithPolicy(notifier Notifier, dataDir string, logger *zap.Logger, policy config.SchedulerConfig) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	aMap := make(map[string]bool, len(policy.Approvers))
	for _, a := range policy.Approvers {
		aMap[a] = true
	}
	return &Scheduler{
		jobs: make(map[string]*runningJob),
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
		notifier:       notifier,
		dataDir:        dataDir,
		logger:         logger,
		approvers:      aMap,
		maxJobsPerUser: policy.MaxJobsPerUser,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (s *Scheduler) isApprover(userID string) bool {
	if len(s.approvers) == 0 {
		return true
	}
	return s.approvers[userID]
}

func (s *Scheduler) countUserJobs(userID string) int {
	count := 0
	for _, rj := range s.jobs {
		if rj.job.Source == SourceDynamic && rj.job.CreatedBy == userID {
			count++
		}
	}
	return count
}

// Start registers static jobs and persisted dynamic jobs, then starts the
// cron loop. Jobs run through runner.
func (s *Scheduler) Start(runner orchestrator.Runner, staticJobs []Job) error {
	if runner == nil {
		return errors.New("scheduler: runner is required")
	}
	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()

	for i := range staticJobs {
		staticJobs[i].Source = SourceConfig
		if err := s.addJob(staticJobs[i]); err != nil {
			s.logger.Warn("skipping static job", zap.String("job", staticJobs[i].Name), zap.Error(err))
		}
	}

	dynamicJobs, err := s.loadDynamic()
	if err != nil {
		s.logger.Warn("loading dynamic jobs", zap.Error(err))
	}
	for _, j := range dynamicJobs {
		j.Source = SourceDynamic
		if err := s.addJob(j); err != nil {
			s.logger.Warn("skipping dynamic job", zap.String("job", j.Name), zap.Error(err))
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.ListJobs())))
	return nil
}

// Stop halts the cron loop, cancels in-flight runs and waits for them to
// return, including runs started by RunInBackground.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	<-s.cron.Stop().Done()
	s.manual.Wait()
}

// AddJob creates a new dynamic job at runtime.
func (s *Scheduler) AddJob(job Job, userID string) error {
	if !s.isApprover(userID) {
		return ErrNotAuthorized
	}
	job.Source = SourceDynamic
	job.CreatedBy = userID

	if s.maxJobsPerUser > 0 {
		s.mu.RLock()
		count := s.countUserJobs(userID)
		s.mu.RUnlock()
		if count >= s.maxJobsPerUser {
			return fmt.Errorf("job limit reached: user %q already has %d jobs (max %d)", userID, count, s.maxJobsPerUser)
		}
	}

	if err := s.addJob(job); err != nil {
		return err
	}
	return s.persistDynamic()
}

// RemoveJob stops and removes a job by name. Config-defined jobs cannot be removed.
func (s *Scheduler) RemoveJob(name, userID string) error {
	if !s.isApprover(userID) {
		return ErrNotAuthorized
	}
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if rj.job.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	s.unschedule(rj)
	delete(s.jobs, name)
	s.mu.Unlock()

	return s.persistDynamic()
}

// PauseJob stops a job from firing until it is resumed.
func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	s.unschedule(rj)
	rj.job.Paused = true
	s.mu.Unlock()

	return s.persistDynamic()
}

// ResumeJob resumes a paused job.
func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if !rj.job.Paused {
		s.mu.Unlock()
		return fmt.Errorf("job %q is not paused", name)
	}
	rj.job.Paused = false
	err := s.schedule(rj)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.persistDynamic()
}

// UpdateJob changes the schedule and/or notify channel of a dynamic job.
// Config-defined jobs cannot be updated.
func (s *Scheduler) UpdateJob(name, userID string, schedule, notifyChannel *string) error {
	if !s.isApprover(userID) {
		return ErrNotAuthorized
	}
	if schedule != nil {
		if _, err := specParser.Parse(*schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", *schedule, err)
		}
	}
	s.mu.Lock()
	rj, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	if rj.job.Source == SourceConfig {
		s.mu.Unlock()
		return ErrConfigProtected
	}
	s.unschedule(rj)
	if schedule != nil {
		rj.job.Schedule = *schedule
	}
	if notifyChannel != nil {
		rj.job.NotifyChannel = *notifyChannel
	}
	rj.job.Paused = false
	err := s.schedule(rj)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.persistDynamic()
}

// ListJobs returns all registered jobs sorted by name.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, rj := range s.jobs {
		out = append(out, rj.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetJob returns a job by name.
func (s *Scheduler) GetJob(name string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rj, ok := s.jobs[name]
	if !ok {
		return Job{}, false
	}
	return rj.job, true
}

// RunNow executes a job once, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	rj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	return s.executeJob(rj)
}

// RunInBackground starts a one-off run of the job and returns without
// waiting for it. Stop waits for the run to finish.
func (s *Scheduler) RunInBackground(name string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("scheduler stopped")
	}
	if _, ok := s.jobs[name]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %q not found", name)
	}
	s.manual.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.manual.Done()
		if err := s.RunNow(name); err != nil {
			s.logger.Warn("manual run failed", zap.String("job", name), zap.Error(err))
		}
	}()
	return nil
}

func (s *Scheduler) addJob(job Job) error {
	if job.Name == "" {
		return errors.New("job name is required")
	}
	if job.Message == "" {
		return fmt.Errorf("job %q: message is required", job.Name)
	}
	if _, err := job.parseSchedule(); err != nil {
		return fmt.Errorf("invalid schedule for job %q: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}
	rj := &runningJob{job: job}
	if !job.Paused {
		if err := s.schedule(rj); err != nil {
			return err
		}
	}
	s.jobs[job.Name] = rj
	return nil
}

// schedule and unschedule expect s.mu to be held.
func (s *Scheduler) schedule(rj *runningJob) error {
	sched, err := rj.job.parseSchedule()
	if err != nil {
		return fmt.Errorf("invalid schedule for job %q: %w", rj.job.Name, err)
	}
	rj.entry = s.cron.Schedule(sched, cron.FuncJob(func() {
		if err := s.executeJob(rj); err != nil {
			s.logger.Error("scheduled run failed", zap.String("job", rj.job.Name), zap.Error(err))
		}
	}))
	return nil
}

func (s *Scheduler) unschedule(rj *runningJob) {
	if rj.entry != 0 {
		s.cron.Remove(rj.entry)
		rj.entry = 0
	}
}

func (s *Scheduler) snapshotJob(rj *runningJob) Job {
	s.mu.RLock()
	j := rj.job
	s.mu.RUnlock()
	return j
}

func (s *Scheduler) executeJob(rj *runningJob) error {
	job := s.snapshotJob(rj)
	s.mu.RLock()
	runner := s.runner
	s.mu.RUnlock()
	if runner == nil {
		return errors.New("scheduler not started")
	}

	ctx := actor.WithActor(s.ctx, "scheduler:"+job.Name)
	res, err := runner.Run(ctx, job.Message, job.conversationID())
	if err != nil {
		return fmt.Errorf("job %q: %w", job.Name, err)
	}
	s.logger.Info("scheduled run completed", zap.String("job", job.Name),
		zap.Int("iterations", res.Iterations), zap.Bool("truncated", res.Truncated))

	if job.NotifyChannel != "" && s.notifier != nil {
		msg := fmt.Sprintf("[scheduled: %s] %s", job.Name, res.FinalMessage())
		if err := s.notifier.Notify(ctx, job.NotifyChannel, msg); err != nil {
			return fmt.Errorf("job %q notify: %w", job.Name, err)
		}
	}
	return nil
}

func (s *Scheduler) persistPath() string {
	return filepath.Join(s.dataDir, "scheduler", "jobs.yaml")
}

func (s *Scheduler) persistDynamic() error {
	if s.dataDir == "" {
		return nil
	}

	s.mu.RLock()
	var dynamicJobs []Job
	for _, rj := range s.jobs {
		if rj.job.Source == SourceDynamic {
			dynamicJobs = append(dynamicJobs, rj.job)
		}
	}
	s.mu.RUnlock()
	sort.Slice(dynamicJobs, func(i, j int) bool { return dynamicJobs[i].Name < dynamicJobs[j].Name })

	dir := filepath.Dir(s.persistPath())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating scheduler dir: %w", err)
	}

	data, err := yaml.Marshal(dynamicJobs)
	if err != nil {
		return fmt.Errorf("marshaling jobs: %w", err)
	}

	return os.WriteFile(s.persistPath(), data, 0600)
}

func (s *Scheduler) loadDynamic() ([]Job, error) {
	if s.dataDir == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.persistPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading jobs file: %w", err)
	}

	var jobs []Job
	if err := yaml.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parsing jobs file: %w", err)
	}
	return jobs, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
