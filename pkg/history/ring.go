// Package history keeps the rolling per-day histories the boost is learned
// from. Both trackers are backed by a fixed capacity ring indexed by day, so
// a window can never hold more days than it was sized for.
//
// Trackers are not safe for concurrent use. Callers hold one lock across a
// whole tick.
package history

import (
	"errors"
	"fmt"

	"github.com/gridboost/gridboost/pkg/types"
)

// ErrStaleDay is returned when writing a day that has already left the window.
var ErrStaleDay = errors.New("day is older than the retained window")

type slot[T any] struct {
	day  types.Day
	used bool
	v    T
}

// ring stores at most cap(slots) consecutive days. Inserting a newer day
// clears every slot that day pushes out of the window.
type ring[T any] struct {
	slots  []slot[T]
	newest types.Day
	has    bool
}

func newRing[T any](days int) *ring[T] {
	if days < 1 {
		days = 1
	}
	return &ring[T]{slots: make([]slot[T], days)}
}

func (r *ring[T]) capacity() int {
	return len(r.slots)
}

func (r *ring[T]) index(d types.Day) int {
	n := len(r.slots)
	return ((int(d) % n) + n) % n
}

// oldest is the first day still inside the window.
func (r *ring[T]) oldest() types.Day {
	return r.newest - types.Day(r.capacity()) + 1
}

// slot returns the value for day, creating a zero value when the day is new.
// Days that would not fit in the window are rejected.
func (r *ring[T]) slot(d types.Day) (*T, error) {
	if !r.has {
		r.newest = d
		r.has = true
	} else if d > r.newest {
		// clear the slots of every day that leaves the window
		steps := min(int(d-r.newest), r.capacity())
		for i := 1; i <= steps; i++ {
			r.slots[r.index(r.newest+types.Day(i))] = slot[T]{}
		}
		r.newest = d
	} else if d < r.oldest() {
		return nil, fmt.Errorf("%w: %s before %s", ErrStaleDay, d, r.oldest())
	}

	s := &r.slots[r.index(d)]
	if !s.used || s.day != d {
		*s = slot[T]{day: d, used: true}
	}
	return &s.v, nil
}

// get returns the value for day if it is retained.
func (r *ring[T]) get(d types.Day) (*T, bool) {
	if !r.has || d > r.newest || d < r.oldest() {
		return nil, false
	}
	s := &r.slots[r.index(d)]
	if !s.used || s.day != d {
		return nil, false
	}
	return &s.v, true
}

// each calls fn for every retained day from oldest to newest.
func (r *ring[T]) each(fn func(d types.Day, v *T)) {
	if !r.has {
		return
	}
	for d := r.oldest(); d <= r.newest; d++ {
		if v, ok := r.get(d); ok {
			fn(d, v)
		}
	}
}

// days lists the retained days in ascending order.
func (r *ring[T]) days() []types.Day {
	var out []types.Day
	r.each(func(d types.Day, _ *T) {
		out = append(out, d)
	})
	return out
}

// resized copies the newest days into a ring of the new capacity.
func (r *ring[T]) resized(days int) *ring[T] {
	nr := newRing[T](days)
	r.each(func(d types.Day, v *T) {
		if d < r.newest-types.Day(nr.capacity())+1 {
			return
		}
		p, err := nr.slot(d)
		if err == nil {
			*p = *v
		}
	})
	// keep the window anchored at the same newest day even if it held no data
	if r.has && !nr.has {
		nr.newest = r.newest
		nr.has = true
	}
	return nr
}
