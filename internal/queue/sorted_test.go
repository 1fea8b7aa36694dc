package queue

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func keys(q *Sorted[int64, []byte]) []int64 {
	var ks []int64
	for _, e := range q.Snapshot() {
		ks = append(ks, e.Key)
	}
	return ks
}

func requireAscending(t *testing.T, q *Sorted[int64, []byte]) {
	t.Helper()
	ks := keys(q)
	for i := 1; i < len(ks); i++ {
		require.Less(t, ks[i-1], ks[i], "snapshot %v not strictly ascending", ks)
	}
	require.Equal(t, len(ks), q.Len())
	if len(ks) == 0 {
		require.Nil(t, q.head)
		require.Nil(t, q.tail)
		return
	}
	require.Equal(t, ks[0], q.head.key)
	require.Equal(t, ks[len(ks)-1], q.tail.key)
}

var payload = []byte{0, 1, 0}

func TestPutWithDuplicates(t *testing.T) {
	q := New[int64, []byte]()
	for _, k := range []int64{9, 9, 6, 1, 5, 8, 2, 8, 3, 1, 4, 9, 7} {
		q.Put(k, payload, true)
	}

	requireAscending(t, q)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9}, keys(q))
	require.Equal(t, 9, q.Len())

	e, ok := q.Remove(6, true)
	require.True(t, ok)
	require.EqualValues(t, 6, e.Key)
	require.Equal(t, 8, q.Len())

	_, ok = q.Remove(10, true)
	require.False(t, ok)
	require.Equal(t, 8, q.Len())

	e, ok = q.Remove(1, true)
	require.True(t, ok)
	require.EqualValues(t, 1, e.Key)
	require.EqualValues(t, 2, q.head.key)

	e, ok = q.Remove(9, false)
	require.True(t, ok)
	require.EqualValues(t, 9, e.Key)
	require.EqualValues(t, 8, q.tail.key)

	requireAscending(t, q)
	require.Equal(t, []int64{2, 3, 4, 5, 7, 8}, keys(q))
}

func TestPutAscendingAndDescending(t *testing.T) {
	tests := []struct {
		name     string
		keys     []int64
		fromTail bool
	}{
		{"ascending from tail", []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, true},
		{"ascending from head", []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}, false},
		{"descending from tail", []int64{13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, true},
		{"descending from head", []int64{13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int64, []byte]()
			for _, k := range tt.keys {
				q.Put(k, payload, tt.fromTail)
			}
			requireAscending(t, q)
			require.Equal(t, 13, q.Len())
		})
	}
}

func TestDuplicateReplacesValue(t *testing.T) {
	for _, fromTail := range []bool{true, false} {
		q := New[int64, []byte]()
		q.Put(1, []byte("a"), fromTail)
		q.Put(2, []byte("b"), fromTail)
		q.Put(3, []byte("c"), fromTail)

		// replace head, interior and tail
		q.Put(1, []byte("A"), fromTail)
		q.Put(2, []byte("B"), fromTail)
		q.Put(3, []byte("C"), fromTail)

		require.Equal(t, 3, q.Len())
		requireAscending(t, q)
		snap := q.Snapshot()
		require.Equal(t, []byte("A"), snap[0].Value)
		require.Equal(t, []byte("B"), snap[1].Value)
		require.Equal(t, []byte("C"), snap[2].Value)

		// boundary pointers follow the replacement nodes
		q.Put(0, []byte("z"), fromTail)
		q.Put(4, []byte("y"), fromTail)
		require.Equal(t, []int64{0, 1, 2, 3, 4}, keys(q))
	}
}

func TestRandomSequences(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for round := 0; round < 50; round++ {
		q := New[int64, []byte]()
		distinct := map[int64][]byte{}
		for i := 0; i < 200; i++ {
			k := int64(r.IntN(120))
			v := []byte{byte(i)}
			q.Put(k, v, r.IntN(2) == 0)
			distinct[k] = v
		}
		requireAscending(t, q)
		require.Equal(t, len(distinct), q.Len())
		for _, e := range q.Snapshot() {
			require.Equal(t, distinct[e.Key], e.Value)
		}

		// drain via minimum removal
		var prev int64 = -1
		for !q.IsEmpty() {
			k, ok := q.FirstKeyRemove()
			require.True(t, ok)
			require.Greater(t, k, prev)
			prev = k
		}
		require.Equal(t, 0, q.Len())
	}
}

func TestRemoveEmpty(t *testing.T) {
	q := New[int64, []byte]()
	_, ok := q.Remove(1, false)
	require.False(t, ok)
	_, ok = q.Remove(1, true)
	require.False(t, ok)
	_, ok = q.FirstEntryRemove()
	require.False(t, ok)
	_, ok = q.FirstKey()
	require.False(t, ok)
	require.True(t, q.IsEmpty())
}

func TestRemoveAll(t *testing.T) {
	q := New[int64, []byte]()
	q.Put(1, payload, true)
	q.Put(100, payload, true)

	_, ok := q.Remove(1, false)
	require.True(t, ok)
	require.Equal(t, 1, q.Len())
	require.Same(t, q.head, q.tail)

	_, ok = q.Remove(100, false)
	require.True(t, ok)
	require.Equal(t, 0, q.Len())
	require.True(t, q.IsEmpty())
	require.Nil(t, q.tail)
}

func TestFirstRemovals(t *testing.T) {
	q := New[int64, []byte]()
	q.Put(5, []byte("five"), true)
	q.Put(3, []byte("three"), true)
	q.Put(4, []byte("four"), false)

	k, ok := q.FirstKey()
	require.True(t, ok)
	require.EqualValues(t, 3, k)

	v, ok := q.FirstKeyValueRemove()
	require.True(t, ok)
	require.Equal(t, []byte("three"), v)

	e, ok := q.FirstEntryRemove()
	require.True(t, ok)
	require.EqualValues(t, 4, e.Key)
	require.Equal(t, []byte("four"), e.Value)

	k, ok = q.FirstKeyRemove()
	require.True(t, ok)
	require.EqualValues(t, 5, k)
	require.True(t, q.IsEmpty())
}

func TestClearSpecified(t *testing.T) {
	q := New[int64, []byte]()
	for k := int64(1); k <= 5; k++ {
		q.Put(k, payload, true)
	}

	require.Equal(t, 2, q.ClearSpecified(3))
	require.Equal(t, []int64{3, 4, 5}, keys(q))

	require.Equal(t, 0, q.ClearSpecified(1))
	require.Equal(t, 2, q.ClearSpecified(100))
	require.Equal(t, []int64{5}, keys(q))
	requireAscending(t, q)

	require.Equal(t, 0, New[int64, []byte]().ClearSpecified(4))
}

func TestClearAndReuse(t *testing.T) {
	q := New[int64, []byte]()
	for k := int64(0); k < 10; k++ {
		q.Put(k, payload, true)
	}
	q.Remove(4, true)
	q.Clear()
	require.True(t, q.IsEmpty())
	require.Equal(t, 0, q.Len())

	q.Put(7, payload, true)
	q.Put(2, payload, true)
	require.Equal(t, []int64{2, 7}, keys(q))
	require.Equal(t, "[2 7]", q.String())
}

func TestCorruptChainPanics(t *testing.T) {
	q := New[int64, []byte]()
	q.Put(1, payload, true)
	q.Put(2, payload, true)
	q.Put(3, payload, true)
	q.head.key = 10 // break the ordering behind the queue's back

	require.Panics(t, func() { q.Put(0, payload, true) })
}
