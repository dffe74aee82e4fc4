package scheduler

import "encoding/json"

// hibernatedTasksPropertyName is the project_property key the scheduler
// uses to survive a close/reopen cycle.
const hibernatedTasksPropertyName = "hibernated_tasks"

// hibernatedTask is the serializable form of an in-flight top-level task.
// Only DownloadResource and DownloadGroup tasks are ever hibernated — a
// ParseLinks or DownloadResourceBody task is always a transient child of
// one of those and is simply re-derived on resume.
type hibernatedTask struct {
	Kind       TaskKind `json:"kind"`
	Title      string   `json:"title"`
	ResourceID int64    `json:"resource_id,omitempty"`
	GroupID    int64    `json:"group_id,omitempty"`
	// SessionID is the Scheduler.SessionID of the process that hibernated
	// this task, not the one that resumes it.
	SessionID string `json:"session_id"`
}

func marshalHibernatedTasks(tasks []hibernatedTask) (string, error) {
	if len(tasks) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tasks)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalHibernatedTasks(raw string) ([]hibernatedTask, error) {
	if raw == "" {
		return nil, nil
	}
	var tasks []hibernatedTask
	if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// snapshotHibernatable collects every still-running top-level
// DownloadResource/DownloadGroup task under root for serialization,
// stamping each with the hibernating session's ID.
func snapshotHibernatable(root *Task, sessionID string) []hibernatedTask {
	var out []hibernatedTask
	for _, t := range root.children {
		if t.isTerminal() {
			continue
		}
		switch t.kind {
		case TaskKindDownloadResource:
			out = append(out, hibernatedTask{Kind: t.kind, Title: t.title, ResourceID: t.resourceID, SessionID: sessionID})
		case TaskKindDownloadGroup:
			out = append(out, hibernatedTask{Kind: t.kind, Title: t.title, GroupID: t.groupID, SessionID: sessionID})
		}
	}
	return out
}
