package scheduler

// TaskListener observes the task tree from outside the scheduler goroutine.
// Every method is called on the scheduler goroutine, so a listener must not
// block or call back into the Scheduler synchronously.
type TaskListener interface {
	OnTaskAdded(parentID, taskID int64, kind TaskKind, title string)
	OnTaskProgress(taskID int64, unitsDone int, unitsTotal *int, eta *float64)
	OnTaskState(taskID int64, state TaskState, err error)
	OnTaskRemoved(taskID int64)
}

// NopTaskListener discards every event, for callers that don't need
// observability (tests, the ops CLI's non-interactive commands).
type NopTaskListener struct{}

func (NopTaskListener) OnTaskAdded(parentID, taskID int64, kind TaskKind, title string)        {}
func (NopTaskListener) OnTaskProgress(taskID int64, unitsDone int, unitsTotal *int, eta *float64) {}
func (NopTaskListener) OnTaskState(taskID int64, state TaskState, err error)                    {}
func (NopTaskListener) OnTaskRemoved(taskID int64)                                              {}
