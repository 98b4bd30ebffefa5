package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndGet(t *testing.T) {
	r := New()

	require.NoError(t, r.Insert(Video{ID: 1, Name: "clip.mp4", Locator: "Videos/a", Status: StatusUploaded}))

	v, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "clip.mp4", v.Name)
	assert.Equal(t, StatusUploaded, v.Status)

	_, ok = r.Get(2)
	assert.False(t, ok)
}

func TestInsertDuplicateID(t *testing.T) {
	r := New()

	require.NoError(t, r.Insert(Video{ID: 1}))
	assert.ErrorIs(t, r.Insert(Video{ID: 1}), ErrDuplicateID)
}

func TestListReturnsInsertionOrderSnapshot(t *testing.T) {
	r := New()

	require.NoError(t, r.Insert(Video{ID: 3, Name: "c"}))
	require.NoError(t, r.Insert(Video{ID: 1, Name: "a"}))
	require.NoError(t, r.Insert(Video{ID: 2, Name: "b"}))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{list[0].ID, list[1].ID, list[2].ID})

	// The snapshot is detached from the store.
	list[0].Name = "mutated"
	v, _ := r.Get(3)
	assert.Equal(t, "c", v.Name)
}

func TestUpdate(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(Video{ID: 1, Status: StatusUploaded}))

	err := r.Update(1, func(v *Video) {
		v.Status = StatusDispatched
		v.Attempts = 1
	})
	require.NoError(t, err)

	v, _ := r.Get(1)
	assert.Equal(t, StatusDispatched, v.Status)
	assert.Equal(t, 1, v.Attempts)
	assert.False(t, v.UpdatedAt.IsZero())

	assert.ErrorIs(t, r.Update(99, func(*Video) {}), ErrNotFound)
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(Video{ID: 1}))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Update(1, func(v *Video) {
				v.Attempts++
			}))
		}()
	}
	wg.Wait()

	v, _ := r.Get(1)
	assert.Equal(t, 100, v.Attempts)
}

func TestDelete(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(Video{ID: 1}))
	require.NoError(t, r.Insert(Video{ID: 2}))

	require.NoError(t, r.Delete(1))
	_, ok := r.Get(1)
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].ID)

	assert.ErrorIs(t, r.Delete(1), ErrNotFound)
}

func TestMaxID(t *testing.T) {
	r := New()
	assert.Equal(t, int64(0), r.MaxID())

	require.NoError(t, r.Insert(Video{ID: 5}))
	require.NoError(t, r.Insert(Video{ID: 2}))
	assert.Equal(t, int64(5), r.MaxID())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusUploaded.Terminal())
	assert.False(t, StatusDispatched.Terminal())
	assert.True(t, StatusAnalyzed.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
