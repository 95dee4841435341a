package pool

import (
	"sort"
	"time"
)

// TaskState is the lifecycle of one PoolTask.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskAssigned  TaskState = "assigned"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Task is one unit of work submitted to a pool.
type Task struct {
	ID         string
	Command    string
	Args       []string
	CWD        string
	Env        []string
	Timeout    time.Duration
	Priority   int
	Retry      int
	EnqueuedAt time.Time

	State          TaskState
	AssignedWorker string
	StartedAt      time.Time
	FinishedAt     time.Time
	FailureReason  string
}

// taskQueue keeps tasks ordered by priority descending, ties broken by
// enqueuedAt ascending. Stable FIFO within equal priority.
type taskQueue struct {
	items []*Task
}

func (q *taskQueue) push(t *Task) {
	q.items = append(q.items, t)
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].Priority != q.items[j].Priority {
			return q.items[i].Priority > q.items[j].Priority
		}
		return q.items[i].EnqueuedAt.Before(q.items[j].EnqueuedAt)
	})
}

func (q *taskQueue) pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t
}

func (q *taskQueue) remove(taskID string) *Task {
	for i, t := range q.items {
		if t.ID == taskID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return t
		}
	}
	return nil
}

func (q *taskQueue) len() int { return len(q.items) }
