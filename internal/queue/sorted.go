package queue

import (
	"cmp"
	"fmt"
	"strings"
)

// Entry is a key/value pair held by a Sorted queue.
type Entry[K cmp.Ordered, V any] struct {
	Key   K
	Value V
}

type node[K cmp.Ordered, V any] struct {
	prev, next *node[K, V]
	key        K
	value      V
}

// Sorted is a doubly linked list kept in ascending key order with unique keys.
// It is tuned for small working sets whose keys mostly arrive in increasing
// order, so inserts and removals can start from either end of the chain.
//
// Sorted does no locking; callers serialize access.
type Sorted[K cmp.Ordered, V any] struct {
	head *node[K, V]
	tail *node[K, V]
	pool *node[K, V]
}

// New returns an empty queue.
func New[K cmp.Ordered, V any]() *Sorted[K, V] {
	return &Sorted[K, V]{}
}

// IsEmpty reports whether the queue holds no entries.
func (q *Sorted[K, V]) IsEmpty() bool {
	return q.head == nil
}

// FirstKey returns the smallest key without removing it.
func (q *Sorted[K, V]) FirstKey() (K, bool) {
	if q.head == nil {
		var zero K
		return zero, false
	}
	return q.head.key, true
}

// FirstKeyRemove removes the smallest entry and returns its key.
func (q *Sorted[K, V]) FirstKeyRemove() (K, bool) {
	e, ok := q.FirstEntryRemove()
	return e.Key, ok
}

// FirstKeyValueRemove removes the smallest entry and returns its value.
func (q *Sorted[K, V]) FirstKeyValueRemove() (V, bool) {
	e, ok := q.FirstEntryRemove()
	return e.Value, ok
}

// FirstEntryRemove removes and returns the smallest entry.
func (q *Sorted[K, V]) FirstEntryRemove() (Entry[K, V], bool) {
	if q.head == nil {
		return Entry[K, V]{}, false
	}
	n := q.head
	e := Entry[K, V]{Key: n.key, Value: n.value}
	q.unlink(n)
	return e, true
}

// Put inserts value under key, replacing the value of an existing entry with
// the same key. fromTail selects where the search for the insertion point
// starts; recent timestamps are cheapest to insert from the tail.
func (q *Sorted[K, V]) Put(key K, value V, fromTail bool) {
	n := q.newNode(key, value)
	if q.head == nil {
		q.head = n
		q.tail = n
		return
	}
	if fromTail {
		q.insert(q.tail, n)
	} else {
		q.insert(q.head, n)
	}
}

// insert walks from c until it finds the slot for n. At every step the key of
// c is compared against n, and when n is smaller, against the predecessor of c
// as well, so n lands before c, between c and its predecessor, or the walk
// continues towards the head.
func (q *Sorted[K, V]) insert(c, n *node[K, V]) {
	for {
		switch cmp.Compare(c.key, n.key) {
		case 0:
			q.replace(c, n)
			return

		case 1:
			p := c.prev
			if p == nil {
				n.next = c
				c.prev = n
				q.head = n
				return
			}
			if cmp.Compare(p.key, c.key) >= 0 {
				q.corrupt(p, c)
			}
			if cmp.Compare(n.key, p.key) > 0 {
				p.next = n
				n.prev = p
				n.next = c
				c.prev = n
				return
			}
			c = p

		default:
			next := c.next
			if next == nil {
				c.next = n
				n.prev = c
				q.tail = n
				return
			}
			if cmp.Compare(c.key, next.key) >= 0 {
				q.corrupt(c, next)
			}
			c = next
		}
	}
}

// replace puts n in the place of c, which holds the same key.
func (q *Sorted[K, V]) replace(c, n *node[K, V]) {
	n.prev = c.prev
	n.next = c.next
	if c.prev != nil {
		c.prev.next = n
	} else {
		q.head = n
	}
	if c.next != nil {
		c.next.prev = n
	} else {
		q.tail = n
	}
	q.free(c)
}

func (q *Sorted[K, V]) corrupt(a, b *node[K, V]) {
	panic(fmt.Sprintf("queue: chain out of order: %v before %v", a.key, b.key))
}

// Remove deletes the entry with the given key, searching from the tail when
// fromTail is set and from the head otherwise.
func (q *Sorted[K, V]) Remove(key K, fromTail bool) (Entry[K, V], bool) {
	n := q.find(key, fromTail)
	if n == nil {
		return Entry[K, V]{}, false
	}
	e := Entry[K, V]{Key: n.key, Value: n.value}
	q.unlink(n)
	return e, true
}

func (q *Sorted[K, V]) find(key K, fromTail bool) *node[K, V] {
	if fromTail {
		for c := q.tail; c != nil; c = c.prev {
			if c.key == key {
				return c
			}
		}
		return nil
	}
	for c := q.head; c != nil; c = c.next {
		if c.key == key {
			return c
		}
	}
	return nil
}

func (q *Sorted[K, V]) unlink(n *node[K, V]) {
	switch {
	case n == q.head && n == q.tail:
		q.head = nil
		q.tail = nil
	case n == q.head:
		q.head = n.next
		q.head.prev = nil
	case n == q.tail:
		q.tail = n.prev
		q.tail.next = nil
	default:
		n.prev.next = n.next
		n.next.prev = n.prev
	}
	q.free(n)
}

// ClearSpecified moves the head forward by count-1 links, evicting the oldest
// entries. The last remaining entry is never evicted. It returns the number
// of entries dropped.
func (q *Sorted[K, V]) ClearSpecified(count int) int {
	dropped := 0
	for count--; count > 0 && q.head != nil && q.head.next != nil; count-- {
		q.unlink(q.head)
		dropped++
	}
	return dropped
}

// Clear drops every entry.
func (q *Sorted[K, V]) Clear() {
	q.head = nil
	q.tail = nil
}

// Len counts the entries by walking the chain.
func (q *Sorted[K, V]) Len() int {
	n := 0
	for c := q.head; c != nil; c = c.next {
		n++
	}
	return n
}

// Snapshot returns all entries in ascending key order.
func (q *Sorted[K, V]) Snapshot() []Entry[K, V] {
	entries := make([]Entry[K, V], 0, q.Len())
	for c := q.head; c != nil; c = c.next {
		entries = append(entries, Entry[K, V]{Key: c.key, Value: c.value})
	}
	return entries
}

func (q *Sorted[K, V]) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for c := q.head; c != nil; c = c.next {
		if c != q.head {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%v", c.key)
	}
	sb.WriteByte(']')
	return sb.String()
}

func (q *Sorted[K, V]) newNode(key K, value V) *node[K, V] {
	n := q.pool
	if n == nil {
		n = &node[K, V]{}
	} else {
		q.pool = n.next
	}
	n.prev = nil
	n.next = nil
	n.key = key
	n.value = value
	return n
}

func (q *Sorted[K, V]) free(n *node[K, V]) {
	var zero V
	n.prev = nil
	n.value = zero
	n.next = q.pool
	q.pool = n
}
