package upstream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorSkipsEmptyPages(t *testing.T) {
	pages := map[int][]int{1: {1, 2}, 2: {}, 3: {3}}
	var fetched []int
	cur := NewCursor(func(ctx context.Context, page int) ([]int, bool, error) {
		fetched = append(fetched, page)
		return pages[page], page < 3, nil
	})

	got, err := Collect(context.Background(), cur)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, []int{1, 2, 3}, fetched)

	assert.False(t, cur.Next(context.Background()), "exhausted cursor does not restart")
	assert.Equal(t, []int{1, 2, 3}, fetched)
}

func TestCursorIsLazy(t *testing.T) {
	calls := 0
	cur := NewCursor(func(ctx context.Context, page int) ([]string, bool, error) {
		calls++
		return []string{"a"}, true, nil
	})
	assert.Equal(t, 0, calls)

	require.True(t, cur.Next(context.Background()))
	assert.Equal(t, "a", cur.Value())
	assert.Equal(t, 1, calls)
}

func TestCursorErrorMidway(t *testing.T) {
	boom := errors.New("boom")
	cur := NewCursor(func(ctx context.Context, page int) ([]int, bool, error) {
		if page == 2 {
			return nil, false, boom
		}
		return []int{page}, true, nil
	})

	_, err := Collect(context.Background(), cur)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cur.Value())
}
