package pending

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tntpending/lib/pconn"
)

// fakeConn is a Connection that records whether and why it was closed.
type fakeConn struct {
	closed bool
	reason string
}

func (c *fakeConn) Read(b []byte) (int, error)  { return 0, nil }
func (c *fakeConn) Write(b []byte) (int, error) { return len(b), nil }
func (c *fakeConn) Close() error                { c.closed = true; return nil }
func (c *fakeConn) CloseWithReason(reason string) {
	c.closed = true
	c.reason = reason
}
func (c *fakeConn) LocalAddr() net.Addr                { return nil }
func (c *fakeConn) RemoteAddr() net.Addr               { return nil }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

var _ pconn.Connection = (*fakeConn)(nil)

func TestItem_NewItem_StartsSleeping(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	require.True(t, it.IsSleeping())
	require.False(t, it.IsPending())
	require.False(t, it.IsDone())
	require.Equal(t, 0, it.Try)
}

func TestItem_IsTimeout_ZeroValueAlwaysTimedOut(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	require.True(t, it.IsTimeout(time.Now()), "brand new item has zero-value time, must look timed out so send() is willing to start it immediately")
}

func TestItem_SetPendingMode_InstallsConnectionAndIncrementsTry(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	conn := &fakeConn{}

	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{Connection: conn})
	require.True(t, it.IsPending())
	require.Equal(t, 1, it.Try)
}

func TestItem_ContinueOnce_Done(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	conn := &fakeConn{}
	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{Connection: conn})

	kind, result := it.continueOnce(time.Now(), pconn.Done([]int{1, 2, 3}))
	require.Equal(t, continueResultDone, kind)
	require.Equal(t, []int{1, 2, 3}, result)
	require.True(t, it.IsDone())
}

func TestItem_ContinueOnce_DonePostprocessApplied(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	conn := &fakeConn{}
	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{
		Connection:  conn,
		Postprocess: func(r []int) []int { return append(r, 99) },
	})

	_, result := it.continueOnce(time.Now(), pconn.Done([]int{1}))
	require.Equal(t, []int{1, 99}, result)
}

func TestItem_ContinueOnce_MoreSwitchesConnection(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	first := &fakeConn{}
	second := &fakeConn{}
	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{Connection: first})

	next := &pconn.Continuation[[]int]{Connection: second}
	kind, _ := it.continueOnce(time.Now(), pconn.More[[]int](next))
	require.Equal(t, continueResultContinuing, kind)
	require.Same(t, second, it.connection)
	require.True(t, it.IsPending())
}

func TestItem_ContinueOnce_MoreWithoutNextKeepsConnection(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	conn := &fakeConn{}
	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{Connection: conn})

	kind, _ := it.continueOnce(time.Now(), pconn.More[[]int](nil))
	require.Equal(t, continueResultContinuing, kind)
	require.Same(t, conn, it.connection)
}

func TestItem_ContinueOnce_FailureAndReset(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{Connection: &fakeConn{}})
	kind, _ := it.continueOnce(time.Now(), pconn.Failure[[]int](ErrReceiveFailed))
	require.Equal(t, continueResultFailure, kind)

	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{Connection: &fakeConn{}})
	kind, _ = it.continueOnce(time.Now(), pconn.Reset[[]int](ErrConnectionReset))
	require.Equal(t, continueResultReset, kind)
}

func TestItem_Close_ClosesConnectionAndReturnsToSleeping(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	conn := &fakeConn{}
	it.setPendingMode(time.Now(), &pconn.Continuation[[]int]{Connection: conn})

	it.close(time.Now(), "timeout")
	require.True(t, conn.closed)
	require.Equal(t, "timeout", conn.reason)
	require.True(t, it.IsSleeping())
}

func TestItem_Close_IdempotentWhenNotPending(t *testing.T) {
	it := NewItem[string, []int]("shard-0", time.Second, time.Millisecond, 3)
	it.close(time.Now(), "timeout") // no-op, item is sleeping
	require.True(t, it.IsSleeping())
}
