package device

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/homelink/internal/errors"
)

// recordingLine 记录每次写入
type recordingLine struct {
	writes []bool
	err    error
}

func (l *recordingLine) SetOutput(on bool) error {
	if l.err != nil {
		return l.err
	}
	l.writes = append(l.writes, on)
	return nil
}

func newTestRegistry() (*Registry, [Count]*recordingLine) {
	var recs [Count]*recordingLine
	var lines [Count]OutputLine
	for i := range recs {
		recs[i] = &recordingLine{}
		lines[i] = recs[i]
	}
	return NewRegistry(lines, [Count]bool{false, false, true}), recs
}

func TestRegistry_Init(t *testing.T) {
	r, recs := newTestRegistry()
	require.NoError(t, r.Init())

	assert.Equal(t, []bool{false}, recs[0].writes)
	assert.Equal(t, []bool{false}, recs[1].writes)
	assert.Equal(t, []bool{true}, recs[2].writes)
}

func TestRegistry_InitLineFailure(t *testing.T) {
	r, recs := newTestRegistry()
	recs[1].err = stderrors.New("pin busy")

	err := r.Init()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLineWrite))
}

func TestRegistry_Get(t *testing.T) {
	r, _ := newTestRegistry()

	d, err := r.Get(2)
	require.NoError(t, err)
	assert.Equal(t, 2, d.ID)
	assert.True(t, d.On)
	assert.Equal(t, "on", d.Status())

	for _, id := range []int{-1, 3, 9, 42} {
		_, err := r.Get(id)
		assert.True(t, errors.Is(err, errors.ErrDeviceNotFound), "id %d", id)
	}
}

func TestRegistry_ToggleIsInvolution(t *testing.T) {
	for id := 0; id < Count; id++ {
		r, recs := newTestRegistry()
		before, err := r.Get(id)
		require.NoError(t, err)

		first, err := r.Toggle(id)
		require.NoError(t, err)
		assert.Equal(t, !before.On, first.On)

		second, err := r.Toggle(id)
		require.NoError(t, err)
		assert.Equal(t, before.On, second.On)

		assert.Equal(t, []bool{!before.On, before.On}, recs[id].writes)
	}
}

func TestRegistry_ToggleOutOfRange(t *testing.T) {
	r, recs := newTestRegistry()
	snapshot := r.List()

	for _, id := range []int{-1, 3, 9} {
		_, err := r.Toggle(id)
		assert.True(t, errors.Is(err, errors.ErrDeviceNotFound))
	}

	assert.Equal(t, snapshot, r.List())
	for _, rec := range recs {
		assert.Empty(t, rec.writes)
	}
}

func TestRegistry_ToggleLineFailureKeepsFlip(t *testing.T) {
	r, recs := newTestRegistry()
	recs[0].err = stderrors.New("i/o error")

	d, err := r.Toggle(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLineWrite))
	assert.True(t, d.On)

	got, _ := r.Get(0)
	assert.True(t, got.On)
}

func TestRegistry_ListOrderedAndCopied(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Toggle(1)
	_, _ = r.Toggle(0)

	list := r.List()
	require.Len(t, list, Count)
	for i, d := range list {
		assert.Equal(t, i, d.ID)
	}

	list[0].On = false
	got, _ := r.Get(0)
	assert.True(t, got.On)
}
