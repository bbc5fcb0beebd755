package workflow

// ReadyTasks returns the IDs of tasks that are pending and have every
// dependency succeeded. A task whose dependency failed or was skipped is not
// ready; MarkBlockedSkipped handles those.
func ReadyTasks(tasks []Task) []string {
	succeeded := make(map[string]bool, len(tasks))
	for i := range tasks {
		if tasks[i].Status == TaskStatusSucceeded {
			succeeded[tasks[i].ID] = true
		}
	}

	var ready []string
	for i := range tasks {
		if tasks[i].Status != TaskStatusPending {
			continue
		}
		allDepsSucceeded := true
		for _, dep := range tasks[i].DependsOn {
			if !succeeded[dep] {
				allDepsSucceeded = false
				break
			}
		}
		if allDepsSucceeded {
			ready = append(ready, tasks[i].ID)
		}
	}
	return ready
}

// MarkBlockedSkipped transitions every pending task with a failed or skipped
// dependency to skipped, cascading until a fixpoint. Returns the IDs skipped.
func MarkBlockedSkipped(tasks []Task) []string {
	dead := make(map[string]bool, len(tasks))
	for i := range tasks {
		if tasks[i].Status == TaskStatusFailed || tasks[i].Status == TaskStatusSkipped {
			dead[tasks[i].ID] = true
		}
	}

	var skipped []string
	for changed := true; changed; {
		changed = false
		for i := range tasks {
			if tasks[i].Status != TaskStatusPending {
				continue
			}
			for _, dep := range tasks[i].DependsOn {
				if dead[dep] {
					tasks[i].Status = TaskStatusSkipped
					dead[tasks[i].ID] = true
					skipped = append(skipped, tasks[i].ID)
					changed = true
					break
				}
			}
		}
	}
	return skipped
}

// RunningCount returns the number of tasks currently running.
func RunningCount(tasks []Task) int {
	count := 0
	for i := range tasks {
		if tasks[i].Status == TaskStatusRunning {
			count++
		}
	}
	return count
}

// AllTerminal returns true if every task is in a terminal state.
func AllTerminal(tasks []Task) bool {
	for i := range tasks {
		if !tasks[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// AnyFailed returns true if at least one task has failed.
func AnyFailed(tasks []Task) bool {
	for i := range tasks {
		if tasks[i].Status == TaskStatusFailed {
			return true
		}
	}
	return false
}

// FindTask returns a pointer to the task with the given ID, or nil.
func FindTask(tasks []Task, id string) *Task {
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i]
		}
	}
	return nil
}

// Dependents returns pointers to every task whose DependsOn includes id.
func Dependents(tasks []Task, id string) []*Task {
	var out []*Task
	for i := range tasks {
		for _, dep := range tasks[i].DependsOn {
			if dep == id {
				out = append(out, &tasks[i])
				break
			}
		}
	}
	return out
}
