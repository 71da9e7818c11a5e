package plan

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus/jobs/errors"
)

func seqOf(ids ...string) Sequence {
	tasks := make([]*Task, len(ids))
	for i, id := range ids {
		tasks[i] = &Task{ID: id, Position: i}
	}
	return NewSequence(tasks)
}

func TestNewSequenceSortsAndRenumbers(t *testing.T) {
	seq := NewSequence([]*Task{
		{ID: "c", Position: 7},
		{ID: "a", Position: 2},
		{ID: "b", Position: 5},
	})
	assert.Equal(t, []string{"a", "b", "c"}, seq.IDs())
	assert.True(t, seq.Contiguous())
}

func TestSequenceMoves(t *testing.T) {
	seq := seqOf("a", "b", "c")

	up, moved, err := seq.MoveUp("b")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"b", "a", "c"}, up.IDs())
	assert.Equal(t, []string{"a", "b", "c"}, seq.IDs(), "receiver is untouched")

	down, moved, err := seq.MoveDown("b")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"a", "c", "b"}, down.IDs())

	changed := seq.Changed(down)
	require.Len(t, changed, 2, "a move touches exactly two positions")
	assert.ElementsMatch(t, []string{"b", "c"}, []string{changed[0].ID, changed[1].ID})
}

func TestSequenceBoundaryMovesAreNoOps(t *testing.T) {
	seq := seqOf("a", "b", "c")

	same, moved, err := seq.MoveUp("a")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, seq.IDs(), same.IDs())
	assert.Empty(t, seq.Changed(same))

	same, moved, err = seq.MoveDown("c")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Empty(t, seq.Changed(same))

	_, _, err = seq.MoveUp("zzz")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSequenceAppendRemove(t *testing.T) {
	seq := seqOf("a", "b", "c")

	appended := seq.Append(&Task{ID: "d", Position: 99})
	assert.Equal(t, []string{"a", "b", "c", "d"}, appended.IDs())
	assert.Equal(t, 3, appended[3].Position)

	removed, err := appended.Remove("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, removed.IDs())
	assert.True(t, removed.Contiguous())

	changed := appended.Changed(removed)
	assert.Len(t, changed, 2, "only the tasks after the gap shift")

	_, err = seq.Remove("zzz")
	assert.True(t, errors.IsNotFoundError(err))
}

// Random walks over every operation keep positions a permutation of 0..n-1
func TestSequenceStaysContiguous(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seq := seqOf("t0", "t1", "t2")
	next := 3

	for step := 0; step < 500; step++ {
		var err error
		switch op := rng.Intn(4); {
		case op == 0:
			seq = seq.Append(&Task{ID: fmt.Sprintf("t%d", next)})
			next++
		case len(seq) == 0:
			continue
		case op == 1:
			seq, _, err = seq.MoveUp(seq[rng.Intn(len(seq))].ID)
		case op == 2:
			seq, _, err = seq.MoveDown(seq[rng.Intn(len(seq))].ID)
		default:
			seq, err = seq.Remove(seq[rng.Intn(len(seq))].ID)
		}
		require.NoError(t, err)
		require.True(t, seq.Contiguous(), "step %d: %v", step, seq.IDs())

		seen := make(map[string]bool, len(seq))
		for _, task := range seq {
			require.False(t, seen[task.ID], "duplicate %s", task.ID)
			seen[task.ID] = true
		}
	}
}
