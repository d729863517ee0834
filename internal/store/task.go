package store

// Task tracks the background remote write issued by one mutation. Callers
// may ignore it (the optimistic local apply has already happened) or wait
// on it, which tests do to make completion deterministic.
type Task struct {
	done chan struct{}
	err  error
}

// Wait blocks until the remote side of the mutation has settled and
// returns its diagnostic error, if any. Remote failures never undo the
// local apply.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

func completedTask(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}
