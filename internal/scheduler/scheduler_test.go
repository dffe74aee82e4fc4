package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu    sync.Mutex
	props map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{props: map[string]string{}} }

func (f *fakeStore) RawProperty(ctx context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.props[name]
	return v, ok && v != "", nil
}

func (f *fakeStore) SetRawProperty(ctx context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[name] = value
	return nil
}

// recordingTestListener collects state transitions and exposes a way to
// wait for a specific task to reach a terminal state, since the scheduler
// drives everything on its own goroutine.
type recordingTestListener struct {
	mu     sync.Mutex
	states map[int64]TaskState
	wake   chan struct{}
}

func newRecordingTestListener() *recordingTestListener {
	return &recordingTestListener{states: map[int64]TaskState{}, wake: make(chan struct{}, 1)}
}

func (l *recordingTestListener) OnTaskAdded(parentID, taskID int64, kind TaskKind, title string) {}

func (l *recordingTestListener) OnTaskProgress(taskID int64, unitsDone int, unitsTotal *int, eta *float64) {
}

func (l *recordingTestListener) OnTaskState(taskID int64, state TaskState, err error) {
	l.mu.Lock()
	l.states[taskID] = state
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *recordingTestListener) OnTaskRemoved(taskID int64) {}

func (l *recordingTestListener) stateOf(taskID int64) (TaskState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[taskID]
	return s, ok
}

func (l *recordingTestListener) waitForTerminal(t *testing.T, taskID int64) TaskState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s, ok := l.stateOf(taskID); ok {
			switch s {
			case TaskCompleted, TaskFailed, TaskCancelled:
				return s
			}
		}
		select {
		case <-l.wake:
		case <-deadline:
			t.Fatalf("task %d never reached a terminal state", taskID)
		}
	}
}

func succeedingPipeline() Pipeline {
	return Pipeline{
		Fetch: func(ctx context.Context, resourceID int64, cookie string, priority bool) (RevisionResult, error) {
			return RevisionResult{RevisionID: resourceID, ContentType: "text/html"}, nil
		},
		Parse: func(ctx context.Context, revisionID int64) ([]EmbeddedLink, error) {
			return nil, nil
		},
		Groups: func(ctx context.Context, groupID int64) (GroupMemberCursor, error) {
			return &sliceGroupCursor{}, nil
		},
	}
}

type sliceGroupCursor struct {
	ids []int64
	i   int
}

func (c *sliceGroupCursor) Next() (int64, bool, error) {
	if c.i >= len(c.ids) {
		return 0, false, nil
	}
	id := c.ids[c.i]
	c.i++
	return id, true, nil
}

func (c *sliceGroupCursor) Close() error { return nil }

func startScheduler(t *testing.T, pipeline Pipeline, listener TaskListener) (*Scheduler, context.CancelFunc) {
	t.Helper()
	store := newFakeStore()
	s := New(store, pipeline, WithListener(listener), WithPoliteness(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)
	return s, cancel
}

func TestDownloadResourceCompletesOnSuccessfulFetch(t *testing.T) {
	listener := newRecordingTestListener()
	s, _ := startScheduler(t, succeedingPipeline(), listener)

	taskID := s.DownloadResource(1, "", PriorityInteractive, "home page")
	state := listener.waitForTerminal(t, taskID)
	if state != TaskCompleted {
		t.Errorf("DownloadResource task state = %v, want completed", state)
	}
}

func TestDownloadResourceFailsWhenFetchErrors(t *testing.T) {
	pipeline := succeedingPipeline()
	pipeline.Fetch = func(ctx context.Context, resourceID int64, cookie string, priority bool) (RevisionResult, error) {
		return RevisionResult{}, errors.New("connection reset")
	}
	listener := newRecordingTestListener()
	s, _ := startScheduler(t, pipeline, listener)

	taskID := s.DownloadResource(1, "", PriorityInteractive, "home page")
	state := listener.waitForTerminal(t, taskID)
	if state != TaskFailed {
		t.Errorf("DownloadResource task state = %v, want failed", state)
	}
}

func TestDownloadResourceSchedulesEmbeds(t *testing.T) {
	pipeline := succeedingPipeline()
	pipeline.Parse = func(ctx context.Context, revisionID int64) ([]EmbeddedLink, error) {
		return []EmbeddedLink{{ResourceID: 2}, {ResourceID: 3, SkipDownload: true}}, nil
	}
	listener := newRecordingTestListener()
	s, _ := startScheduler(t, pipeline, listener)

	taskID := s.DownloadResource(1, "", PriorityInteractive, "home page")
	state := listener.waitForTerminal(t, taskID)
	if state != TaskCompleted {
		t.Fatalf("DownloadResource task state = %v, want completed", state)
	}

	task := s.findTask(s.root, taskID)
	if task == nil {
		t.Fatal("task not found in tree")
	}
	var embedCount int
	for _, c := range task.children {
		if c.kind == TaskKindDownloadResource {
			embedCount++
		}
	}
	if embedCount != 1 {
		t.Errorf("embed child count = %d, want 1 (skip-download link excluded)", embedCount)
	}
}

func TestDownloadResourceSkipsEmbedsOnErrorPage(t *testing.T) {
	pipeline := succeedingPipeline()
	pipeline.Fetch = func(ctx context.Context, resourceID int64, cookie string, priority bool) (RevisionResult, error) {
		return RevisionResult{RevisionID: resourceID, IsErrorPage: true}, nil
	}
	parseCalls := 0
	pipeline.Parse = func(ctx context.Context, revisionID int64) ([]EmbeddedLink, error) {
		parseCalls++
		return nil, nil
	}
	listener := newRecordingTestListener()
	s, _ := startScheduler(t, pipeline, listener)

	taskID := s.DownloadResource(1, "", PriorityInteractive, "404 page")
	state := listener.waitForTerminal(t, taskID)
	if state != TaskCompleted {
		t.Fatalf("state = %v, want completed", state)
	}
	if parseCalls != 0 {
		t.Errorf("parse was called %d times, want 0 for an error page", parseCalls)
	}
}

func TestDownloadGroupPullsMembers(t *testing.T) {
	pipeline := succeedingPipeline()
	pipeline.Groups = func(ctx context.Context, groupID int64) (GroupMemberCursor, error) {
		return &sliceGroupCursor{ids: []int64{10, 11, 12}}, nil
	}
	listener := newRecordingTestListener()
	s, _ := startScheduler(t, pipeline, listener)

	taskID := s.DownloadGroup(99, "images")
	state := listener.waitForTerminal(t, taskID)
	if state != TaskCompleted {
		t.Errorf("DownloadGroup state = %v, want completed", state)
	}
}

func TestCancelMarksSubtreeCancelled(t *testing.T) {
	pipeline := succeedingPipeline()
	// Never resolve the fetch, so the task stays pending long enough to cancel.
	block := make(chan struct{})
	pipeline.Fetch = func(ctx context.Context, resourceID int64, cookie string, priority bool) (RevisionResult, error) {
		<-block
		return RevisionResult{RevisionID: resourceID}, nil
	}
	listener := newRecordingTestListener()
	s, _ := startScheduler(t, pipeline, listener)

	taskID := s.DownloadResource(1, "", PriorityInteractive, "slow page")
	s.Cancel(taskID)
	state := listener.waitForTerminal(t, taskID)
	if state != TaskCancelled {
		t.Errorf("state = %v, want cancelled", state)
	}
	close(block)
}
