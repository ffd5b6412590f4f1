package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RestartPolicy controls whether a finished task is started again.
type RestartPolicy string

const (
	// RestartAlways restarts the task no matter how it exited.
	RestartAlways RestartPolicy = "always"
	// RestartOnError restarts only after an error exit.
	RestartOnError RestartPolicy = "on_error"
	// RestartNever lets the task finish for good.
	RestartNever RestartPolicy = "never"
)

// SupervisorPolicy tunes the restart backoff shared by all tasks.
type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	MaxRestarts    int
}

func defaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
		MaxRestarts:    0,
	}
}

func normalizePolicy(policy SupervisorPolicy) SupervisorPolicy {
	def := defaultSupervisorPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

// TaskStatus reports the restart bookkeeping of one supervised task.
type TaskStatus struct {
	Name            string        `json:"name"`
	Restart         RestartPolicy `json:"restart_policy"`
	RestartCount    int           `json:"restart_count"`
	LastError       string        `json:"last_error,omitempty"`
	PermanentFailed bool          `json:"permanent_failed"`
}

// Supervisor runs the engine's background loops and restarts them with
// exponential backoff when they exit unexpectedly.
type Supervisor struct {
	policy SupervisorPolicy
	log    zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*supervisedTask
}

type supervisedTask struct {
	cancel context.CancelFunc
	done   chan struct{}

	name    string
	restart RestartPolicy
	run     func(ctx context.Context) error

	restartCount    int
	lastErr         error
	permanentFailed bool
}

func NewSupervisor(policy SupervisorPolicy, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		policy: normalizePolicy(policy),
		log:    log,
		tasks:  make(map[string]*supervisedTask),
	}
}

// Start launches run under the given name. Names are unique among running
// tasks.
func (s *Supervisor) Start(name string, restart RestartPolicy, run func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if run == nil {
		return errors.New("task runner is required")
	}
	switch restart {
	case RestartAlways, RestartOnError, RestartNever:
	default:
		restart = RestartAlways
	}

	s.mu.Lock()
	if _, exists := s.tasks[name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task already running: %s", name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &supervisedTask{
		cancel:  cancel,
		done:    make(chan struct{}),
		name:    name,
		restart: restart,
		run:     run,
	}
	s.tasks[name] = task
	s.mu.Unlock()

	go s.loop(ctx, task)
	return nil
}

func (s *Supervisor) loop(ctx context.Context, task *supervisedTask) {
	defer func() {
		s.mu.Lock()
		if current, ok := s.tasks[task.name]; ok && current == task {
			delete(s.tasks, task.name)
		}
		s.mu.Unlock()
		close(task.done)
	}()

	backoff := s.policy.InitialBackoff

	for {
		err := task.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !shouldRestart(task.restart, err) {
			return
		}

		s.mu.Lock()
		task.lastErr = err
		restarts := task.restartCount
		s.mu.Unlock()

		if s.policy.MaxRestarts > 0 && restarts >= s.policy.MaxRestarts {
			s.mu.Lock()
			task.permanentFailed = true
			s.mu.Unlock()
			s.log.Error().
				Err(err).
				Str("task", task.name).
				Int("restarts", restarts).
				Msg("supervised task failed permanently")
			return
		}

		s.mu.Lock()
		task.restartCount = restarts + 1
		s.mu.Unlock()
		s.log.Warn().
			Err(err).
			Str("task", task.name).
			Int("restarts", restarts+1).
			Dur("backoff", backoff).
			Msg("restarting supervised task")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		next := time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if next > s.policy.MaxBackoff {
			next = s.policy.MaxBackoff
		}
		backoff = next
	}
}

func shouldRestart(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartOnError:
		return err != nil
	case RestartNever:
		return false
	default:
		return true
	}
}

// Stop cancels one task and waits for it to exit.
func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	task.cancel()
	<-task.done
}

// StopAll cancels every running task and waits for all of them.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tasks := make([]*supervisedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
}

// Tasks returns the names of running tasks, sorted.
func (s *Supervisor) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports every running task's restart bookkeeping, sorted by name.
func (s *Supervisor) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, TaskStatus{
			Name:            task.name,
			Restart:         task.restart,
			RestartCount:    task.restartCount,
			LastError:       errString(task.lastErr),
			PermanentFailed: task.permanentFailed,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
