package pending

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tntpending/lib/pconn"
	"tntpending/lib/slog"
)

// raisingOnce returns OutcomeFailure the first n times it is invoked,
// then delegates to next.
func raisingOnce(n int, next pconn.ContinueFunc[[]int]) pconn.ContinueFunc[[]int] {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context) pconn.Outcome[[]int] {
		mu.Lock()
		calls++
		c := calls
		mu.Unlock()
		if c <= n {
			return pconn.Failure[[]int](ErrReceiveFailed)
		}
		return next(ctx)
	}
}

func doneWith(result []int) pconn.ContinueFunc[[]int] {
	return func(ctx context.Context) pconn.Outcome[[]int] {
		return pconn.Done(result)
	}
}

func blockingUntilCanceled() pconn.ContinueFunc[[]int] {
	return func(ctx context.Context) pconn.Outcome[[]int] {
		<-ctx.Done()
		return pconn.Failure[[]int](ctx.Err())
	}
}

// S1 - happy path: one item, retry=3, timeout=1s, first continue succeeds.
func TestSet_S1_HappyPath(t *testing.T) {
	var okID string
	var okResult []int
	var errCalled bool

	it := NewItem[string, []int]("shard-0", time.Second, 10*time.Millisecond, 3)
	it.OnRetry = func(id string, item *Item[string, []int], set *Set[string, []int]) *pconn.Continuation[[]int] {
		return &pconn.Continuation[[]int]{
			Connection: &fakeConn{},
			Continue:   doneWith([]int{1, 2, 3}),
		}
	}
	it.OnOK = func(id string, result []int, item *Item[string, []int], set *Set[string, []int]) {
		okID = id
		okResult = result
	}
	it.OnError = func(id string, reason error, item *Item[string, []int], set *Set[string, []int]) {
		errCalled = true
	}

	set := NewSet[string, []int]("s1", time.Second, 20*time.Millisecond, nil)
	require.NoError(t, set.Add(it))

	set.Work(context.Background())

	require.False(t, errCalled)
	require.Equal(t, "shard-0", okID)
	require.Equal(t, []int{1, 2, 3}, okResult)
	require.Equal(t, 1, it.Try)
	require.Equal(t, 0, set.Len())
}

// S2 - retry then success: first attempt's continue fails, second succeeds.
func TestSet_S2_RetryThenSuccess(t *testing.T) {
	var okResult []int
	var onOKCalls int

	it := NewItem[string, []int]("shard-0", 200*time.Millisecond, 10*time.Millisecond, 3)
	// Shared across attempts, so only the first attempt's continue fails.
	cont := raisingOnce(1, doneWith([]int{42}))
	it.OnRetry = func(id string, item *Item[string, []int], set *Set[string, []int]) *pconn.Continuation[[]int] {
		return &pconn.Continuation[[]int]{
			Connection: &fakeConn{},
			Continue:   cont,
		}
	}
	it.OnOK = func(id string, result []int, item *Item[string, []int], set *Set[string, []int]) {
		onOKCalls++
		okResult = result
	}
	var onErrorCalls int
	it.OnError = func(id string, reason error, item *Item[string, []int], set *Set[string, []int]) {
		onErrorCalls++
	}

	set := NewSet[string, []int]("s2", time.Second, 10*time.Millisecond, nil)
	require.NoError(t, set.Add(it))

	set.Work(context.Background())

	require.Equal(t, 1, onOKCalls)
	require.Equal(t, 0, onErrorCalls)
	require.Equal(t, []int{42}, okResult)
	require.Equal(t, 2, it.Try)
}

// S3 - exhaustion: retry=2, every continue fails.
func TestSet_S3_Exhaustion(t *testing.T) {
	var reason error
	var onOKCalls int

	it := NewItem[string, []int]("shard-0", 200*time.Millisecond, time.Millisecond, 2)
	it.OnRetry = func(id string, item *Item[string, []int], set *Set[string, []int]) *pconn.Continuation[[]int] {
		return &pconn.Continuation[[]int]{
			Connection: &fakeConn{},
			Continue:   raisingOnce(100, doneWith(nil)), // never succeeds within retry budget
		}
	}
	it.OnOK = func(id string, result []int, item *Item[string, []int], set *Set[string, []int]) {
		onOKCalls++
	}
	it.OnError = func(id string, gotReason error, item *Item[string, []int], set *Set[string, []int]) {
		reason = gotReason
	}

	set := NewSet[string, []int]("s3", time.Second, 5*time.Millisecond, nil)
	require.NoError(t, set.Add(it))

	set.Work(context.Background())

	require.Equal(t, 0, onOKCalls)
	require.Error(t, reason)
	require.True(t, strings.Contains(reason.Error(), ErrNoSuccessAfterRetries.Error()))
	require.Equal(t, it.Retry, it.Try, "budget must be fully consumed before giving up")
	require.Equal(t, 0, set.Len())
}

// S4 - chunked reply: first continue reports OutcomeMore with a second
// connection installed, second continue returns the final result.
func TestSet_S4_ChunkedReply(t *testing.T) {
	var okResult []int
	var onOKCalls int

	it := NewItem[string, []int]("shard-0", time.Second, 10*time.Millisecond, 3)
	it.OnRetry = func(id string, item *Item[string, []int], set *Set[string, []int]) *pconn.Continuation[[]int] {
		secondConn := &fakeConn{}
		second := &pconn.Continuation[[]int]{
			Connection: secondConn,
			Continue:   doneWith([]int{1, 2, 3}),
		}
		first := func(ctx context.Context) pconn.Outcome[[]int] {
			return pconn.More[[]int](second)
		}
		return &pconn.Continuation[[]int]{
			Connection: &fakeConn{},
			Continue:   first,
		}
	}
	it.OnOK = func(id string, result []int, item *Item[string, []int], set *Set[string, []int]) {
		onOKCalls++
		okResult = result
	}

	set := NewSet[string, []int]("s4", time.Second, 10*time.Millisecond, nil)
	require.NoError(t, set.Add(it))

	set.Work(context.Background())

	require.Equal(t, 1, onOKCalls)
	require.Equal(t, []int{1, 2, 3}, okResult)
	require.Equal(t, 1, it.Try)
}

// S5 - overall deadline: server never responds, maxtime elapses first.
func TestSet_S5_OverallDeadline(t *testing.T) {
	var reason error
	var onErrorCalls int

	it := NewItem[string, []int]("shard-0", 10*time.Second, time.Millisecond, 10)
	it.OnRetry = func(id string, item *Item[string, []int], set *Set[string, []int]) *pconn.Continuation[[]int] {
		return &pconn.Continuation[[]int]{
			Connection: &fakeConn{},
			Continue:   blockingUntilCanceled(),
		}
	}
	it.OnError = func(id string, gotReason error, item *Item[string, []int], set *Set[string, []int]) {
		onErrorCalls++
		reason = gotReason
	}

	maxTime := 80 * time.Millisecond
	iterTime := 10 * time.Millisecond
	set := NewSet[string, []int]("s5", maxTime, iterTime, nil)
	require.NoError(t, set.Add(it))

	start := time.Now()
	set.Work(context.Background())
	elapsed := time.Since(start)

	require.Equal(t, 1, onErrorCalls)
	require.ErrorIs(t, reason, ErrTimeout)
	require.LessOrEqual(t, elapsed, maxTime+4*iterTime)
}

// S6 - idle callback: onretry delays (returns nil) at least once, onidle
// must fire before the item ever becomes pending.
func TestSet_S6_IdleCallback(t *testing.T) {
	var idleCalls int32
	var mu sync.Mutex

	it := NewItem[string, []int]("shard-0", time.Second, time.Second, 3) // retry_delay long: never retried after the one delay
	first := true
	it.OnRetry = func(id string, item *Item[string, []int], set *Set[string, []int]) *pconn.Continuation[[]int] {
		mu.Lock()
		defer mu.Unlock()
		if first {
			first = false
			return nil // delay this tick
		}
		return &pconn.Continuation[[]int]{
			Connection: &fakeConn{},
			Continue:   doneWith([]int{7}),
		}
	}

	onIdle := func(s *Set[string, []int]) {
		mu.Lock()
		idleCalls++
		mu.Unlock()
	}

	set := NewSet[string, []int]("s6", 300*time.Millisecond, 20*time.Millisecond, onIdle)
	require.NoError(t, set.Add(it))

	set.Work(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, idleCalls, int32(1))
}

func TestSet_Add_RejectsDuplicateID(t *testing.T) {
	set := NewSet[string, []int]("dup", time.Second, time.Millisecond, nil)
	a := NewItem[string, []int]("x", time.Second, time.Millisecond, 1)
	b := NewItem[string, []int]("x", time.Second, time.Millisecond, 1)
	require.NoError(t, set.Add(a))
	require.Error(t, set.Add(b))
	require.Equal(t, 1, set.Len())
}

func TestSet_Remove_RejectsMissingID(t *testing.T) {
	set := NewSet[string, []int]("missing", time.Second, time.Millisecond, nil)
	a := NewItem[string, []int]("x", time.Second, time.Millisecond, 1)
	require.Error(t, set.Remove(a))
}

func TestSet_Work_EmptySetReturnsImmediately(t *testing.T) {
	set := NewSet[string, []int]("empty", time.Hour, time.Hour, nil)

	start := time.Now()
	set.Work(context.Background())
	require.Less(t, time.Since(start), time.Second)
}

// maxtime=0: Work performs zero iterations and every item is drained
// via finish as a timeout. With two or more items drained in the same
// sweep, finish additionally logs one aggregated diagnostic.
func TestSet_Work_ZeroMaxTimeDrainsAllAsTimeouts(t *testing.T) {
	reasons := make(map[string]error)
	onError := func(id string, reason error, item *Item[string, []int], set *Set[string, []int]) {
		reasons[id] = reason
	}

	a := NewItem[string, []int]("shard-a", time.Second, time.Millisecond, 3)
	a.OnError = onError
	b := NewItem[string, []int]("shard-b", time.Second, time.Millisecond, 3)
	b.OnError = onError

	recorder := &slog.RecordingLogger{}
	set := NewSet[string, []int]("zero-maxtime", 0, 10*time.Millisecond, nil)
	set.Logger = recorder
	require.NoError(t, set.Add(a, b))

	set.Work(context.Background())

	require.Equal(t, 0, set.Len())
	require.ErrorIs(t, reasons["shard-a"], ErrTimeout)
	require.ErrorIs(t, reasons["shard-b"], ErrTimeout)
	require.Equal(t, 0, a.Try, "zero iterations means no attempt was ever started")

	require.Len(t, recorder.Events, 1)
	require.Equal(t, "warn", recorder.Events[0].Level)
	require.Error(t, recorder.Events[0].Error)
}

// retry=1: at most one attempt; on failure, the item exhausts its
// budget immediately.
func TestSet_Retry1_SingleAttemptThenExhaustion(t *testing.T) {
	var reason error
	var onRetryCalls int

	it := NewItem[string, []int]("shard-0", 100*time.Millisecond, time.Millisecond, 1)
	it.OnRetry = func(id string, item *Item[string, []int], set *Set[string, []int]) *pconn.Continuation[[]int] {
		onRetryCalls++
		return &pconn.Continuation[[]int]{
			Connection: &fakeConn{},
			Continue:   raisingOnce(100, doneWith(nil)),
		}
	}
	it.OnError = func(id string, gotReason error, item *Item[string, []int], set *Set[string, []int]) {
		reason = gotReason
	}

	set := NewSet[string, []int]("retry1", time.Second, 5*time.Millisecond, nil)
	require.NoError(t, set.Add(it))

	set.Work(context.Background())

	require.Equal(t, 1, onRetryCalls)
	require.Equal(t, 1, it.Try)
	require.Error(t, reason)
	require.True(t, strings.Contains(reason.Error(), ErrNoSuccessAfterRetries.Error()))
}
