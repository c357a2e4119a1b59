package task

import "fmt"

// RegistrationError rejects a task that cannot be registered. A duplicate
// name is a programming error.
type RegistrationError struct {
	Name   string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register task %q: %s", e.Name, e.Reason)
}

// TaskExecutionError reports the task whose handler failed. Completed holds
// the results gathered before the failure.
type TaskExecutionError struct {
	Task      string
	Err       error
	Completed Results
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}
