package upstream

import "context"

// PageFunc fetches one page (1-based). hasMore reports whether another page
// should be requested after this one.
type PageFunc[T any] func(ctx context.Context, page int) (items []T, hasMore bool, err error)

// Cursor lazily walks a paginated provider result. It is not restartable:
// once exhausted or failed it stays that way.
//
//	cur := sess.FetchBars("sh.600000", start, end, upstream.Daily)
//	for cur.Next(ctx) {
//		bar := cur.Value()
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor[T any] struct {
	fetch PageFunc[T]
	page  int
	buf   []T
	pos   int
	cur   T
	more  bool
	err   error
}

// NewCursor builds a cursor that starts at page 1 on the first Next call.
func NewCursor[T any](fetch PageFunc[T]) *Cursor[T] {
	return &Cursor[T]{fetch: fetch, more: true}
}

// Next advances to the next item, fetching the following page when the
// buffered one is used up. It returns false at the end or on error.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	for c.pos >= len(c.buf) {
		if !c.more {
			return false
		}
		if err := ctx.Err(); err != nil {
			c.fail(err)
			return false
		}
		c.page++
		items, more, err := c.fetch(ctx, c.page)
		if err != nil {
			c.fail(err)
			return false
		}
		c.buf, c.pos, c.more = items, 0, more
	}
	c.cur = c.buf[c.pos]
	c.pos++
	return true
}

// Value returns the item Next moved to.
func (c *Cursor[T]) Value() T {
	return c.cur
}

// Err returns the error that stopped iteration, if any.
func (c *Cursor[T]) Err() error {
	return c.err
}

func (c *Cursor[T]) fail(err error) {
	var zero T
	c.err = err
	c.buf = nil
	c.cur = zero
	c.more = false
}

// Collect drains the cursor into a slice.
func Collect[T any](ctx context.Context, c *Cursor[T]) ([]T, error) {
	var out []T
	for c.Next(ctx) {
		out = append(out, c.Value())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
