package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "kirosu.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueThenLeaseThenAck(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue("hi", nil, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	tasks, err := s.Lease("w1", 1, 30)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, id, tasks[0].TaskID)
	require.Equal(t, StatusLeased, tasks[0].Status)
	require.NotNil(t, tasks[0].LeasedUntil)

	result := "ok"
	require.NoError(t, s.Ack(id, StatusDone, &result, nil))

	done := StatusDone
	rows, err := s.List(&done, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "ok", *rows[0].Result)
	require.Equal(t, "w1", *rows[0].WorkerID)
}

func TestLeaseExclusivityUnderConcurrency(t *testing.T) {
	s := newTestStore(t)

	const n = 200
	for i := 0; i < n; i++ {
		_, err := s.Enqueue("task", nil, "")
		require.NoError(t, err)
	}

	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	leaseOnce := func(worker string) {
		defer wg.Done()
		for {
			tasks, err := s.Lease(worker, 1, 30)
			require.NoError(t, err)
			if len(tasks) == 0 {
				return
			}
			mu.Lock()
			for _, task := range tasks {
				require.False(t, seen[task.TaskID], "task %d leased twice", task.TaskID)
				seen[task.TaskID] = true
			}
			mu.Unlock()
		}
	}

	wg.Add(2)
	go leaseOnce("w1")
	go leaseOnce("w2")
	wg.Wait()

	require.Len(t, seen, n)
}

func TestLeaseExpiryReclaim(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue("hi", nil, "")
	require.NoError(t, err)

	_, err = s.Lease("w1", 1, 1)
	require.NoError(t, err)

	time.Sleep(1200 * time.Millisecond)

	tasks, err := s.Lease("w2", 1, 30)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "w2", *tasks[0].WorkerID)

	late := "late"
	require.NoError(t, s.Ack(id, StatusDone, &late, nil))

	done := StatusDone
	rows, err := s.List(&done, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "late", *rows[0].Result)
}

func TestRetryAllFailed(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue("hi", nil, "")
	require.NoError(t, err)
	_, err = s.Lease("w1", 1, 30)
	require.NoError(t, err)

	errMsg := "oops"
	require.NoError(t, s.Ack(id, StatusFailed, nil, &errMsg))

	n, err := s.RetryAllFailed()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	tasks, err := s.Lease("w2", 1, 30)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Nil(t, tasks[0].WorkerID)
	require.Nil(t, tasks[0].Result)
	require.Nil(t, tasks[0].Error)
}

func TestApproveBypassesExecution(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue("please approve", nil, "human")
	require.NoError(t, err)

	require.NoError(t, s.Approve(id, "human"))

	done := StatusDone
	rows, err := s.List(&done, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Contains(t, *rows[0].Result, "Approved by human")
}

func TestAckIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Enqueue("hi", nil, "")
	require.NoError(t, err)
	_, err = s.Lease("w1", 1, 30)
	require.NoError(t, err)

	r1 := "done once"
	require.NoError(t, s.Ack(id, StatusDone, &r1, nil))
	require.NoError(t, s.Ack(id, StatusDone, &r1, nil))

	done := StatusDone
	rows, err := s.List(&done, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestAckOfUnknownTaskIsNoOp(t *testing.T) {
	s := newTestStore(t)

	r := "x"
	require.NoError(t, s.Ack(999, StatusDone, &r, nil))
}

func TestLeaseZeroMaxTasksReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Enqueue("hi", nil, "")
	require.NoError(t, err)

	tasks, err := s.Lease("w1", 0, 30)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestLeaseZeroSecondsIsImmediatelyReclaimable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Enqueue("hi", nil, "")
	require.NoError(t, err)

	_, err = s.Lease("w1", 1, 0)
	require.NoError(t, err)

	tasks, err := s.Lease("w2", 1, 30)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestListUnboundedWithNonPositiveLimit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Enqueue("hi", nil, "")
		require.NoError(t, err)
	}

	rows, err := s.List(nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	rows, err = s.List(nil, -3)
	require.NoError(t, err)
	require.Len(t, rows, 5)
}

func TestStatsReflectsTotals(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.Enqueue("a", nil, "")
	require.NoError(t, err)
	id2, err := s.Enqueue("b", nil, "")
	require.NoError(t, err)

	_, err = s.Lease("w1", 2, 30)
	require.NoError(t, err)

	result := "ok"
	require.NoError(t, s.Ack(id1, StatusDone, &result, nil))
	errMsg := "bad"
	require.NoError(t, s.Ack(id2, StatusFailed, nil, &errMsg))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.Done)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 2, stats.TotalTasks)
	require.Equal(t, 50.0, stats.ErrorRatePercent)
}
