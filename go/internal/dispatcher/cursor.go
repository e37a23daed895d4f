package dispatcher

import (
	"cmp"
	"slices"
	"sync"
)

// cursor tracks the dispatcher's position when several workers claim
// batches concurrently. The position only moves past a sequence once every
// batch that could hold an earlier undelivered event has finished.
//
// Every sequence a failed batch left undelivered stays in owed until a later
// batch delivers it, and the position never passes an owed sequence.
//
// A worker reserves a slot before claiming so that a batch is accounted for
// from the moment its rows might be locked.
type cursor struct {
	mu        sync.Mutex
	committed int64 // highest sequence known delivered with nothing pending below it
	next      int64 // highest sequence claimed so far
	delivered int64 // highest sequence delivered by any batch
	owed      []span
	inflight  map[int]span
	lastID    int
}

// span is an inclusive sequence range. A reservation that has not claimed
// yet has last == 0.
type span struct {
	first, last int64
}

func (s span) contains(seq int64) bool {
	return s.last != 0 && s.first <= seq && seq <= s.last
}

func newCursor(start int64) *cursor {
	return &cursor{
		committed: start,
		next:      start,
		delivered: start,
		inflight:  make(map[int]span),
	}
}

// reserve registers a batch about to be claimed and returns its id and the
// sequence to claim after. Claims restart below any owed sequence that no
// in-flight batch holds.
func (c *cursor) reserve() (id int, after int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	after = c.next
	if seq, ok := c.firstUnheld(); ok && seq-1 < after {
		after = seq - 1
	}
	c.lastID++
	c.inflight[c.lastID] = span{first: after + 1}
	return c.lastID, after
}

// claimed narrows the reservation to the sequences actually claimed.
func (c *cursor) claimed(id int, first, last int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight[id] = span{first: first, last: last}
	if last > c.next {
		c.next = last
	}
}

// finish releases a batch. through is the last sequence delivered in order;
// retry is the first sequence left undelivered, or 0 when the batch completed.
// It returns the new position and whether it moved.
func (c *cursor) finish(id int, through, retry int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.inflight[id]
	delete(c.inflight, id)
	if batch.last != 0 {
		if through >= batch.first {
			c.settle(batch.first, through)
		}
		if retry != 0 {
			c.owe(retry, batch.last)
		}
	}
	if through > c.delivered {
		c.delivered = through
	}

	mark := c.delivered
	for _, b := range c.inflight {
		mark = min(mark, b.first-1)
	}
	if len(c.owed) > 0 {
		mark = min(mark, c.owed[0].first-1)
	}
	if mark <= c.committed {
		return c.committed, false
	}
	c.committed = mark
	c.next = max(c.next, mark)
	return c.committed, true
}

func (c *cursor) position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// owe adds [first, last] to the owed ranges, keeping them sorted and disjoint.
func (c *cursor) owe(first, last int64) {
	c.settle(first, last)
	c.owed = append(c.owed, span{first: first, last: last})
	slices.SortFunc(c.owed, func(a, b span) int {
		return cmp.Compare(a.first, b.first)
	})
}

// settle removes [first, last] from the owed ranges.
func (c *cursor) settle(first, last int64) {
	var out []span
	for _, o := range c.owed {
		if o.last < first || o.first > last {
			out = append(out, o)
			continue
		}
		if o.first < first {
			out = append(out, span{first: o.first, last: first - 1})
		}
		if o.last > last {
			out = append(out, span{first: last + 1, last: o.last})
		}
	}
	c.owed = out
}

// firstUnheld returns the lowest owed sequence not inside a claimed
// in-flight batch.
func (c *cursor) firstUnheld() (int64, bool) {
	for _, o := range c.owed {
		seq := o.first
		for moved := true; moved && seq <= o.last; {
			moved = false
			for _, b := range c.inflight {
				if b.contains(seq) {
					seq = b.last + 1
					moved = true
				}
			}
		}
		if seq <= o.last {
			return seq, true
		}
	}
	return 0, false
}
