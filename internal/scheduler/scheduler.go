// Package scheduler runs a project's task tree: one scheduler goroutine
// owns all structural mutations, leaf network work runs on a bounded
// worker pool, and everything else communicates with the scheduler
// goroutine by posting messages onto a channel.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PropertyStore is the slice of internal/store.Store the scheduler needs
// to persist hibernated tasks across a close/reopen cycle, kept as an
// interface so scheduler tests don't need a real project directory.
type PropertyStore interface {
	RawProperty(ctx context.Context, name string) (string, bool, error)
	SetRawProperty(ctx context.Context, name, value string) error
}

// pruneInterval is how often completed top-level tasks are swept from the
// tree so it doesn't grow unboundedly across a long session.
const pruneInterval = 30 * time.Second

// Scheduler owns one project's task tree and drives it forward.
type Scheduler struct {
	store    PropertyStore
	pipeline Pipeline
	listener TaskListener
	gate     *politenessGate
	pool     *workerPool

	// sessionID identifies this particular Run, so a hibernated task
	// snapshot records which process left it in flight — useful when
	// comparing logs across a crash and restart.
	sessionID string

	nextID atomic.Int64
	nextSeq atomic.Int64

	root *Task

	msgCh chan message
	done  chan struct{}
	wg    sync.WaitGroup
}

// Option configures a Scheduler, following the same functional-options
// shape as onionscan's BatchOption.
type Option func(*Scheduler)

// WithListener sets the TaskListener notified of every tree mutation.
func WithListener(l TaskListener) Option {
	return func(s *Scheduler) { s.listener = l }
}

// WithWorkerConcurrency overrides the default bounded fetch concurrency.
func WithWorkerConcurrency(n int) Option {
	return func(s *Scheduler) { s.pool = newWorkerPool(n) }
}

// WithPoliteness overrides the per-page delay and aggregate items/sec cap.
// Pass pageDelay=0 to disable the delay entirely, as tests do.
func WithPoliteness(pageDelay time.Duration, maxItemsPerSec float64) Option {
	return func(s *Scheduler) { s.gate = newPolitenessGate(pageDelay, maxItemsPerSec) }
}

// New creates a Scheduler for one project. The caller must call Run in its
// own goroutine to start processing, and Close when done with the project.
func New(store PropertyStore, pipeline Pipeline, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		pipeline:  pipeline,
		listener:  NopTaskListener{},
		gate:      newPolitenessGate(time.Second, 2),
		pool:      newWorkerPool(defaultWorkerConcurrency),
		sessionID: uuid.New().String(),
		msgCh:     make(chan message, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.root = &Task{id: s.allocID(), kind: TaskKindRoot, title: "root", state: TaskRunning}
	return s
}

// SessionID identifies this Scheduler instance, minted fresh by New and
// stamped onto any task hibernated by Close.
func (s *Scheduler) SessionID() string { return s.sessionID }

func (s *Scheduler) allocID() int64  { return s.nextID.Add(1) }
func (s *Scheduler) allocSeq() int64 { return s.nextSeq.Add(1) }

// Run processes messages until the context is cancelled or Close is
// called. It is meant to be started in its own goroutine, one per open
// project.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.pruneCompletedRoots()
		case msg := <-s.msgCh:
			s.handle(ctx, msg)
		}
	}
}

// Close stops the scheduler goroutine, persisting any still-running
// top-level task as a hibernated task so a future Open can resume it.
func (s *Scheduler) Close(ctx context.Context) error {
	close(s.done)
	s.wg.Wait()

	tasks := snapshotHibernatable(s.root, s.sessionID)
	raw, err := marshalHibernatedTasks(tasks)
	if err != nil {
		return fmt.Errorf("serializing hibernated tasks: %w", err)
	}
	return s.store.SetRawProperty(ctx, hibernatedTasksPropertyName, raw)
}

// Resume reconstitutes any tasks hibernated by a previous Close, so a
// large download survives a restart. Call after New and before Run.
func (s *Scheduler) Resume(ctx context.Context) error {
	raw, ok, err := s.store.RawProperty(ctx, hibernatedTasksPropertyName)
	if err != nil || !ok {
		return err
	}
	tasks, err := unmarshalHibernatedTasks(raw)
	if err != nil {
		return fmt.Errorf("parsing hibernated tasks: %w", err)
	}
	for _, ht := range tasks {
		switch ht.Kind {
		case TaskKindDownloadResource:
			s.submitDownloadResource(ht.ResourceID, "", PriorityBackground, ht.Title)
		case TaskKindDownloadGroup:
			s.submitDownloadGroup(ht.GroupID, ht.Title)
		}
	}
	return s.store.SetRawProperty(ctx, hibernatedTasksPropertyName, "")
}

// message is the closed set of things that can be posted to the scheduler
// goroutine. Only Run's select loop ever reads from msgCh.
type message interface{}

type msgAddDownloadResource struct {
	resourceID int64
	cookie     string
	priority   Priority
	title      string
	resultID   chan int64
}

type msgAddDownloadGroup struct {
	groupID int64
	title   string
	resultID chan int64
}

type msgCancel struct {
	taskID int64
}

type msgFetchOutcome struct {
	outcome fetchOutcome
}

type msgParseOutcome struct {
	task  *Task
	links []EmbeddedLink
	err   error
}

type msgGroupMembersReady struct {
	task   *Task
	cursor GroupMemberCursor
	err    error
}

// DownloadResource schedules a top-level DownloadResource task and returns
// its task ID. priority=PriorityInteractive bypasses the politeness delay.
func (s *Scheduler) DownloadResource(resourceID int64, cookie string, priority Priority, title string) int64 {
	reply := make(chan int64, 1)
	s.msgCh <- msgAddDownloadResource{resourceID: resourceID, cookie: cookie, priority: priority, title: title, resultID: reply}
	return <-reply
}

// DownloadGroup schedules a top-level DownloadGroup task.
func (s *Scheduler) DownloadGroup(groupID int64, title string) int64 {
	reply := make(chan int64, 1)
	s.msgCh <- msgAddDownloadGroup{groupID: groupID, title: title, resultID: reply}
	return <-reply
}

// Cancel marks a task and all its descendants cancelled.
func (s *Scheduler) Cancel(taskID int64) {
	s.msgCh <- msgCancel{taskID: taskID}
}

func (s *Scheduler) submitDownloadResource(resourceID int64, cookie string, priority Priority, title string) int64 {
	t := s.newDownloadResourceTask(resourceID, cookie, priority, title)
	s.root.addChild(t)
	s.listener.OnTaskAdded(s.root.id, t.id, t.kind, t.title)
	s.advance(t)
	return t.id
}

func (s *Scheduler) submitDownloadGroup(groupID int64, title string) int64 {
	t := &Task{id: s.allocID(), seq: s.allocSeq(), kind: TaskKindDownloadGroup, groupID: groupID, title: title, state: TaskPending}
	s.root.addChild(t)
	s.listener.OnTaskAdded(s.root.id, t.id, t.kind, t.title)
	s.advance(t)
	return t.id
}

func (s *Scheduler) handle(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case msgAddDownloadResource:
		id := s.submitDownloadResource(m.resourceID, m.cookie, m.priority, m.title)
		m.resultID <- id
	case msgAddDownloadGroup:
		id := s.submitDownloadGroup(m.groupID, m.title)
		m.resultID <- id
	case msgCancel:
		if t := s.findTask(s.root, m.taskID); t != nil {
			s.cancelSubtree(t)
		}
	case msgFetchOutcome:
		s.onFetchOutcome(ctx, m.outcome)
	case msgParseOutcome:
		s.onParseOutcome(ctx, m.task, m.links, m.err)
	case msgGroupMembersReady:
		s.onGroupMembersReady(ctx, m.task, m.cursor, m.err)
	}
}

func (s *Scheduler) findTask(root *Task, id int64) *Task {
	if root.id == id {
		return root
	}
	for _, c := range root.children {
		if found := s.findTask(c, id); found != nil {
			return found
		}
	}
	return nil
}

func (s *Scheduler) cancelSubtree(t *Task) {
	if t.isTerminal() {
		return
	}
	t.state = TaskCancelled
	s.listener.OnTaskState(t.id, t.state, nil)
	for _, c := range t.children {
		s.cancelSubtree(c)
	}
}

// pruneCompletedRoots removes finished top-level tasks from root's
// children so the tree doesn't grow unboundedly across a long session.
// Called only from Run's own goroutine, so it touches the tree directly.
func (s *Scheduler) pruneCompletedRoots() {
	kept := s.root.children[:0]
	for _, t := range s.root.children {
		if t.isTerminal() {
			s.listener.OnTaskRemoved(t.id)
			continue
		}
		kept = append(kept, t)
	}
	s.root.children = kept
}
