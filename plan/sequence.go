package plan

import (
	"sort"

	"github.com/chorus/jobs/errors"
)

// Sequence is the ordered task list of one plan. Its methods never modify
// the receiver; they return a renumbered copy so a caller can diff old and
// new positions and persist only what changed.
type Sequence []*Task

// NewSequence orders tasks by position and renumbers them from 0.
func NewSequence(tasks []*Task) Sequence {
	seq := make(Sequence, len(tasks))
	for i, t := range tasks {
		cp := *t
		seq[i] = &cp
	}
	sort.SliceStable(seq, func(i, j int) bool { return seq[i].Position < seq[j].Position })
	seq.renumber()
	return seq
}

func (s Sequence) renumber() {
	for i, t := range s {
		t.Position = i
	}
}

func (s Sequence) clone() Sequence {
	out := make(Sequence, len(s))
	for i, t := range s {
		cp := *t
		out[i] = &cp
	}
	return out
}

func (s Sequence) indexOf(taskID string) int {
	for i, t := range s {
		if t.ID == taskID {
			return i
		}
	}
	return -1
}

// MoveUp swaps a task with the one before it. The first task stays put
// and moved is false.
func (s Sequence) MoveUp(taskID string) (Sequence, bool, error) {
	i := s.indexOf(taskID)
	if i < 0 {
		return s, false, errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
	}
	if i == 0 {
		return s, false, nil
	}
	return s.swap(i-1, i), true, nil
}

// MoveDown swaps a task with the one after it. The last task stays put
// and moved is false.
func (s Sequence) MoveDown(taskID string) (Sequence, bool, error) {
	i := s.indexOf(taskID)
	if i < 0 {
		return s, false, errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
	}
	if i == len(s)-1 {
		return s, false, nil
	}
	return s.swap(i, i+1), true, nil
}

func (s Sequence) swap(i, j int) Sequence {
	out := s.clone()
	out[i], out[j] = out[j], out[i]
	out.renumber()
	return out
}

// Append adds a task at the next position.
func (s Sequence) Append(task *Task) Sequence {
	out := s.clone()
	cp := *task
	cp.Position = len(out)
	return append(out, &cp)
}

// Remove drops a task and closes the gap it leaves.
func (s Sequence) Remove(taskID string) (Sequence, error) {
	i := s.indexOf(taskID)
	if i < 0 {
		return s, errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
	}
	out := s.clone()
	out = append(out[:i], out[i+1:]...)
	out.renumber()
	return out, nil
}

// Changed returns the tasks of next whose position differs from s.
func (s Sequence) Changed(next Sequence) []*Task {
	before := make(map[string]int, len(s))
	for _, t := range s {
		before[t.ID] = t.Position
	}
	var changed []*Task
	for _, t := range next {
		if pos, ok := before[t.ID]; !ok || pos != t.Position {
			changed = append(changed, t)
		}
	}
	return changed
}

// Contiguous reports whether positions are exactly 0..n-1 in order.
func (s Sequence) Contiguous() bool {
	for i, t := range s {
		if t.Position != i {
			return false
		}
	}
	return true
}

// IDs returns task IDs in position order.
func (s Sequence) IDs() []string {
	ids := make([]string, len(s))
	for i, t := range s {
		ids[i] = t.ID
	}
	return ids
}
