package scheduler

import (
	"context"
	"fmt"
)

// newDownloadResourceTask builds a pending DownloadResource task. advance
// dispatches its first child once it's added to the tree.
func (s *Scheduler) newDownloadResourceTask(resourceID int64, cookie string, priority Priority, title string) *Task {
	return &Task{
		id:          s.allocID(),
		seq:         s.allocSeq(),
		kind:        TaskKindDownloadResource,
		resourceID:  resourceID,
		cookie:      cookie,
		priority:    priority,
		title:       title,
		state:       TaskPending,
		requireBody: true,
	}
}

// advance drives a task forward based on its kind and phase. It is called
// whenever a task is first added to the tree and again whenever one of its
// children reaches a terminal state.
func (s *Scheduler) advance(t *Task) {
	if t.isTerminal() {
		return
	}
	switch t.kind {
	case TaskKindDownloadResource:
		s.advanceDownloadResource(t)
	case TaskKindDownloadResourceBody:
		s.advanceDownloadResourceBody(t)
	case TaskKindParseLinks:
		s.advanceParseLinks(t)
	case TaskKindDownloadGroup:
		s.advanceDownloadGroup(t)
	case TaskKindUpdateGroupMembers:
		s.advanceUpdateGroupMembers(t)
	}
}

func (s *Scheduler) complete(t *Task) {
	if t.isTerminal() {
		return
	}
	t.state = TaskCompleted
	s.listener.OnTaskState(t.id, t.state, nil)
	s.onChildDone(t)
}

func (s *Scheduler) fail(t *Task, err error) {
	if t.isTerminal() {
		return
	}
	t.state = TaskFailed
	t.err = err
	s.listener.OnTaskState(t.id, t.state, err)
	s.onChildDone(t)
}

// onChildDone notifies t's parent that t has reached a terminal state, and
// advances the parent.
func (s *Scheduler) onChildDone(t *Task) {
	parent := s.findTask(s.root, t.parentID)
	if parent == nil || parent == s.root {
		return
	}
	parent.pendingChildren--
	if parent.kind == TaskKindDownloadGroup && t.kind == TaskKindDownloadResource {
		parent.liveGroupMembers--
	}
	if parent.kind == TaskKindDownloadResource && t.kind == TaskKindDownloadResourceBody {
		parent.revisionID = t.revisionID
		parent.isErrorPage = t.isErrorPage
	}
	if t.state == TaskFailed && t.requireBody && taskRequiresChild(parent, t) {
		s.fail(parent, fmt.Errorf("required subtask %d failed: %w", t.id, t.err))
		return
	}
	s.advance(parent)
}

// taskRequiresChild reports whether a failed child should fail its
// parent. Only a DownloadResource's own body fetch is required; embeds
// and group members failing does not fail their parent.
func taskRequiresChild(parent, child *Task) bool {
	if parent.kind == TaskKindDownloadResource && child.kind == TaskKindDownloadResourceBody {
		return true
	}
	return false
}

// --- DownloadResourceBody ---

func (s *Scheduler) advanceDownloadResourceBody(t *Task) {
	if t.phase != 0 {
		return
	}
	t.phase = 1
	t.state = TaskRunning
	s.listener.OnTaskState(t.id, t.state, nil)

	interactive := t.priority == PriorityInteractive
	// A body whose DownloadResource hangs under another DownloadResource is
	// an embed: it counts against the aggregate rate but not the page delay.
	isEmbed := false
	if owner := s.findTask(s.root, t.parentID); owner != nil {
		if page := s.findTask(s.root, owner.parentID); page != nil && page.kind == TaskKindDownloadResource {
			isEmbed = true
		}
	}
	job := fetchJob{
		task:        t,
		interactive: interactive,
		run: func(ctx context.Context) (RevisionResult, error) {
			if !isEmbed {
				s.gate.waitPage(interactive)
			}
			s.gate.waitItem()
			return s.pipeline.Fetch(ctx, t.resourceID, t.cookie, interactive)
		},
	}
	s.runFetchAsync(job)
}

// runFetchAsync runs one fetch job in its own goroutine (through the
// worker pool's concurrency limit) and posts the result back onto the
// scheduler goroutine's message channel.
func (s *Scheduler) runFetchAsync(job fetchJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out := <-s.pool.runAll(context.Background(), []fetchJob{job})
		s.msgCh <- msgFetchOutcome{outcome: out}
	}()
}

func (s *Scheduler) onFetchOutcome(ctx context.Context, out fetchOutcome) {
	t := out.task
	t.revisionID = out.result.RevisionID
	t.isErrorPage = out.result.IsErrorPage
	if out.err != nil || out.result.IsError {
		err := out.err
		if err == nil {
			err = fmt.Errorf("revision %d recorded a fetch error", out.result.RevisionID)
		}
		s.fail(t, err)
		return
	}
	s.complete(t)
}

// --- DownloadResource ---

func (s *Scheduler) advanceDownloadResource(t *Task) {
	switch t.phase {
	case 0:
		t.phase = 1
		t.state = TaskRunning
		s.listener.OnTaskState(t.id, t.state, nil)
		body := &Task{id: s.allocID(), seq: s.allocSeq(), kind: TaskKindDownloadResourceBody,
			resourceID: t.resourceID, cookie: t.cookie, priority: t.priority, title: t.title,
			state: TaskPending, requireBody: true}
		t.addChild(body)
		s.listener.OnTaskAdded(t.id, body.id, body.kind, body.title)
		s.advance(body)

	case 1:
		// Body fetch just completed successfully. Error pages skip parse
		// and embed scheduling entirely.
		if t.isErrorPage {
			s.complete(t)
			return
		}
		t.phase = 2
		parse := &Task{id: s.allocID(), seq: s.allocSeq(), kind: TaskKindParseLinks,
			revisionID: t.revisionID, title: "parse " + t.title, state: TaskPending}
		t.addChild(parse)
		s.listener.OnTaskAdded(t.id, parse.id, parse.kind, parse.title)
		s.advance(parse)

	case 2:
		// Parse just completed (or failed — a parse failure demotes to
		// "no links discovered" and still lets the task complete).
		t.phase = 3
		for _, link := range t.findParseResult() {
			if link.SkipDownload || link.SelfReference || link.ResourceID == t.resourceID {
				continue
			}
			child := s.newDownloadResourceTask(link.ResourceID, t.cookie, PriorityBackground, "")
			child.requireBody = false // an embed failing does not fail the page
			t.addChild(child)
			s.listener.OnTaskAdded(t.id, child.id, child.kind, child.title)
			s.advance(child)
		}
		if t.pendingChildren == 0 {
			s.complete(t)
		}

	default:
		if t.pendingChildren == 0 {
			s.complete(t)
		}
	}
}

// findParseResult locates this DownloadResource's ParseLinks child and
// returns what it discovered, or nil if parsing failed or found nothing.
func (t *Task) findParseResult() []EmbeddedLink {
	for _, c := range t.children {
		if c.kind == TaskKindParseLinks {
			return c.parsedLinks
		}
	}
	return nil
}

// --- ParseLinks ---

func (s *Scheduler) advanceParseLinks(t *Task) {
	if t.phase != 0 {
		return
	}
	t.phase = 1
	t.state = TaskRunning
	s.listener.OnTaskState(t.id, t.state, nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		links, err := s.pipeline.Parse(context.Background(), t.revisionID)
		s.msgCh <- msgParseOutcome{task: t, links: links, err: err}
	}()
}

func (s *Scheduler) onParseOutcome(ctx context.Context, t *Task, links []EmbeddedLink, err error) {
	// A parse failure demotes to "no links discovered"; the revision
	// itself is still saved and the task still completes successfully.
	t.parsedLinks = links
	s.complete(t)
}

// --- UpdateGroupMembers / DownloadGroup ---

func (s *Scheduler) advanceUpdateGroupMembers(t *Task) {
	if t.phase != 0 {
		return
	}
	t.phase = 1
	t.state = TaskRunning
	s.listener.OnTaskState(t.id, t.state, nil)

	groupID := t.groupID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cursor, err := s.pipeline.Groups(context.Background(), groupID)
		parent := t
		s.msgCh <- msgGroupMembersReady{task: parent, cursor: cursor, err: err}
	}()
}

func (s *Scheduler) onGroupMembersReady(ctx context.Context, t *Task, cursor GroupMemberCursor, err error) {
	group := s.findTask(s.root, t.parentID)
	if err != nil {
		s.fail(t, err)
		return
	}
	if group != nil {
		group.membershipCursor = cursor
	}
	s.complete(t)
}

func (s *Scheduler) advanceDownloadGroup(t *Task) {
	switch t.phase {
	case 0:
		t.phase = 1
		t.state = TaskRunning
		s.listener.OnTaskState(t.id, t.state, nil)
		members := &Task{id: s.allocID(), seq: s.allocSeq(), kind: TaskKindUpdateGroupMembers,
			groupID: t.groupID, title: "update members " + t.title, state: TaskPending}
		t.addChild(members)
		s.listener.OnTaskAdded(t.id, members.id, members.kind, members.title)
		s.advance(members)

	case 1:
		t.phase = 2
		s.pullGroupMembers(t)

	default:
		s.pullGroupMembers(t)
		if t.membersExhausted && t.liveGroupMembers == 0 {
			if t.membershipCursor != nil {
				t.membershipCursor.Close()
			}
			s.complete(t)
		}
	}
}

// pullGroupMembers materializes DownloadResource children from the lazy
// membership cursor up to maxLiveGroupChildren, the backpressure bound
// that keeps a huge group's memory footprint constant.
func (s *Scheduler) pullGroupMembers(t *Task) {
	if t.membershipCursor == nil || t.membersExhausted {
		return
	}
	for t.liveGroupMembers < maxLiveGroupChildren {
		resourceID, ok, err := t.membershipCursor.Next()
		if err != nil {
			t.membersExhausted = true
			return
		}
		if !ok {
			t.membersExhausted = true
			return
		}
		child := s.newDownloadResourceTask(resourceID, "", PriorityBackground, "")
		child.requireBody = false
		t.addChild(child)
		t.liveGroupMembers++
		s.listener.OnTaskAdded(t.id, child.id, child.kind, child.title)
		s.advance(child)
	}
}
