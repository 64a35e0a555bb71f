package scheduler

import "context"

// Task is executed on every firing of a Runner.
type Task interface {
	// Run executes the task once. It should return within the context's
	// deadline.
	Run(ctx context.Context)
	Name() string
}

// TaskFunc adapts a function to a Task.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context)
}

func (f TaskFunc) Run(ctx context.Context) {
	f.Fn(ctx)
}

func (f TaskFunc) Name() string {
	return f.TaskName
}
