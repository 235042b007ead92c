package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveviz/liveviz/pkg/types"
	"github.com/liveviz/liveviz/server/internal/registry"
)

// --- helpers ----------------------------------------------------------------

// recorder is a fake viewer connection that decodes and keeps every frame.
// When answer is set it replies to capture requests through Save, the way a
// browser would after a round trip.
type recorder struct {
	ch     *Channel
	answer func(n int) string

	mu       sync.Mutex
	frames   []types.Outbound
	captures int
	closed   bool
	failWith error
}

func (r *recorder) Send(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	var m types.Outbound
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	r.frames = append(r.frames, m)
	if m.Action == types.ActionSaveHTML && r.answer != nil {
		r.captures++
		html := r.answer(r.captures)
		// Send runs under the channel lock; answer from outside it.
		go r.ch.Save(m.RequestID, html)
	}
	return nil
}

func (r *recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *recorder) all() []types.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Outbound(nil), r.frames...)
}

func (r *recorder) actions() []string {
	var out []string
	for _, f := range r.all() {
		out = append(out, f.Action)
	}
	return out
}

func (r *recorder) last() types.Outbound {
	f := r.all()
	if len(f) == 0 {
		return types.Outbound{}
	}
	return f[len(f)-1]
}

func fixed(html string) func(int) string {
	return func(int) string { return html }
}

type snapResult struct {
	html string
	err  error
}

// snapshotAsync runs Snapshot in the background with the given timeout.
func snapshotAsync(ch *Channel, timeout time.Duration) <-chan snapResult {
	out := make(chan snapResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		html, err := ch.Snapshot(ctx)
		out <- snapResult{html, err}
	}()
	return out
}

func await(t *testing.T, res <-chan snapResult) snapResult {
	t.Helper()
	select {
	case r := <-res:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("snapshot did not return")
		return snapResult{}
	}
}

var _ registry.Conn = (*recorder)(nil)

// --- viewers and traces -----------------------------------------------------

func TestAddClient_SendsInitialize(t *testing.T) {
	ch := New("c1", "/assets", json.RawMessage(`{"title":"demo"}`))
	ch.PutTrace("t1", json.RawMessage(`[1,2,3]`))

	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	require.Equal(t, []string{types.ActionInitialize}, v.actions())
	init := v.last()
	require.Len(t, init.Traces, 1)
	assert.JSONEq(t, `[1,2,3]`, string(init.Traces["t1"]))
	assert.JSONEq(t, `{"title":"demo"}`, string(init.Info))
}

func TestAddClient_EmptyChannelInitializeHasEmptyTraces(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	require.Equal(t, []string{types.ActionInitialize}, v.actions())
	assert.Empty(t, v.last().Traces)
}

func TestPutTrace_BroadcastsInOrder(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	for i := 0; i < 20; i++ {
		ch.PutTrace(fmt.Sprintf("t%02d", i), json.RawMessage(fmt.Sprint(i)))
	}

	frames := v.all()[1:]
	require.Len(t, frames, 20)
	for i, f := range frames {
		assert.Equal(t, types.ActionPutTrace, f.Action)
		assert.Equal(t, fmt.Sprintf("t%02d", i), f.TraceID)
	}
}

func TestPutTrace_NoViewersIsNoop(t *testing.T) {
	ch := New("c1", "", nil)
	assert.NotPanics(t, func() { ch.PutTrace("t", json.RawMessage(`1`)) })
	got, ok := ch.Trace("t")
	require.True(t, ok)
	assert.JSONEq(t, `1`, string(got))
}

func TestPutTrace_Replaces(t *testing.T) {
	ch := New("c1", "", nil)
	ch.PutTrace("t", json.RawMessage(`1`))
	ch.PutTrace("t", json.RawMessage(`2`))

	traces := ch.Traces()
	require.Len(t, traces, 1)
	assert.JSONEq(t, `2`, string(traces["t"]))
}

func TestDeleteTrace_UnknownStillBroadcasts(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	assert.False(t, ch.DeleteTrace("ghost"))
	assert.Equal(t, types.ActionRemoveTrace, v.last().Action)
	assert.Equal(t, "ghost", v.last().TraceID)
}

func TestLateJoiner_SeesMutationsSoFar(t *testing.T) {
	ch := New("c1", "", nil)
	ch.PutTrace("a", json.RawMessage(`1`))
	ch.PutTrace("b", json.RawMessage(`2`))
	ch.DeleteTrace("a")
	ch.PutTrace("b", json.RawMessage(`3`))

	v := &recorder{ch: ch}
	ch.AddClient("late", v)
	init := v.last()
	require.Len(t, init.Traces, 1)
	assert.JSONEq(t, `3`, string(init.Traces["b"]))
}

func TestRemoveClient_Idempotent(t *testing.T) {
	ch := New("c1", "", nil)
	ch.AddClient("v1", &recorder{ch: ch})

	assert.True(t, ch.RemoveClient("v1"))
	assert.False(t, ch.RemoveClient("v1"))
	assert.False(t, ch.RemoveClient("never"))
	assert.Zero(t, ch.ViewerCount())
}

func TestAddClient_SameIDReplaces(t *testing.T) {
	ch := New("c1", "", nil)
	old, fresh := &recorder{ch: ch}, &recorder{ch: ch}
	ch.AddClient("v1", old)
	ch.AddClient("v1", fresh)

	ch.PutTrace("t", json.RawMessage(`1`))
	assert.Equal(t, []string{types.ActionInitialize}, old.actions())
	assert.Equal(t, []string{types.ActionInitialize, types.ActionPutTrace}, fresh.actions())
	assert.False(t, ch.RemoveClientConn("v1", old))
	assert.Equal(t, 1, ch.ViewerCount())
}

func TestBroadcast_FailingViewerEvicted(t *testing.T) {
	ch := New("c1", "", nil)
	bad := &recorder{ch: ch}
	good := &recorder{ch: ch}
	ch.AddClient("bad", bad)
	ch.AddClient("good", good)

	bad.mu.Lock()
	bad.failWith = errors.New("boom")
	bad.mu.Unlock()

	ch.PutTrace("t", json.RawMessage(`1`))

	assert.Equal(t, []string{"good"}, ch.ViewerIDs())
	assert.Equal(t, types.ActionPutTrace, good.last().Action)
	assert.Equal(t, uint64(1), ch.Stats().DeliveryFailures)
}

func TestBroadcast_ClosedViewerEvicted(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	ch.PutTrace("t", json.RawMessage(`1`))
	assert.Zero(t, ch.ViewerCount())
	assert.Equal(t, []string{types.ActionInitialize}, v.actions())
}

func TestReload_Broadcasts(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	ch.Reload("js/app.js")
	assert.Equal(t, types.ActionReload, v.last().Action)
	assert.Equal(t, "js/app.js", v.last().Path)
}

func TestViewerIDs_Sorted(t *testing.T) {
	ch := New("c1", "", nil)
	for _, id := range []string{"c", "a", "b"} {
		ch.AddClient(id, &recorder{ch: ch})
	}
	assert.Equal(t, []string{"a", "b", "c"}, ch.ViewerIDs())
}

func TestIdleSince(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	ch := New("c1", "", nil)
	ch.now = func() time.Time { return now }

	ch.PutTrace("t", json.RawMessage(`1`)) // lastActive = base
	assert.True(t, ch.IdleSince(base))
	assert.False(t, ch.IdleSince(base.Add(-time.Second)))

	ch.AddClient("v", &recorder{ch: ch})
	assert.False(t, ch.IdleSince(base.Add(time.Hour)), "a channel with viewers is never idle")
}

func TestIdleSince_FalseWhileCaptureWaits(t *testing.T) {
	ch := New("c1", "", nil)
	later := time.Now().Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	res := make(chan error, 1)
	go func() {
		_, err := ch.Snapshot(ctx)
		res <- err
	}()
	require.Eventually(t, ch.Capturing, 2*time.Second, 5*time.Millisecond)

	assert.False(t, ch.IdleSince(later))
	assert.Equal(t, 1, ch.Stats().PendingCaptures)

	cancel()
	assert.ErrorIs(t, <-res, ErrCaptureTimeout)
	assert.False(t, ch.Capturing())
	assert.True(t, ch.IdleSince(later))
}

// --- snapshot capture -------------------------------------------------------

func TestSnapshot_ReturnsViewerOutput(t *testing.T) {
	ch := New("c1", "", nil)
	ch.AddClient("v1", &recorder{ch: ch, answer: fixed("<html>1</html>")})

	r := await(t, snapshotAsync(ch, 2*time.Second))
	require.NoError(t, r.err)
	assert.Equal(t, "<html>1</html>", r.html)

	latest, at := ch.LatestSnapshot()
	assert.Equal(t, "<html>1</html>", latest)
	assert.False(t, at.IsZero())
	assert.Equal(t, uint64(1), ch.Stats().Captures)
}

func TestSnapshot_BlocksUntilViewerJoins(t *testing.T) {
	ch := New("c1", "", nil)
	res := snapshotAsync(ch, 5*time.Second)

	select {
	case r := <-res:
		t.Fatalf("snapshot returned with no viewers: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	ch.AddClient("v1", &recorder{ch: ch, answer: fixed("<html>joined</html>")})
	r := await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "<html>joined</html>", r.html)
}

func TestSnapshot_TimesOutWithoutViewers(t *testing.T) {
	ch := New("c1", "", nil)
	r := await(t, snapshotAsync(ch, 50*time.Millisecond))
	assert.ErrorIs(t, r.err, ErrCaptureTimeout)
	assert.ErrorIs(t, r.err, context.DeadlineExceeded)
}

func TestSnapshot_TimesOutWhenViewerNeverAnswers(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	r := await(t, snapshotAsync(ch, 100*time.Millisecond))
	assert.ErrorIs(t, r.err, ErrCaptureTimeout)
	assert.Equal(t, types.ActionSaveHTML, v.last().Action)
}

func TestSnapshot_FirstAnswerWins(t *testing.T) {
	ch := New("c1", "", nil)
	ch.AddClient("a", &recorder{ch: ch, answer: fixed("from-a")})
	ch.AddClient("b", &recorder{ch: ch, answer: fixed("from-b")})

	r := await(t, snapshotAsync(ch, 2*time.Second))
	require.NoError(t, r.err)
	assert.Contains(t, []string{"from-a", "from-b"}, r.html)
}

func TestSnapshot_StraySaveDoesNotComplete(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	res := snapshotAsync(ch, 5*time.Second)
	require.Eventually(t, func() bool { return v.last().Action == types.ActionSaveHTML }, 2*time.Second, 5*time.Millisecond)
	reqID := v.last().RequestID
	require.NotEmpty(t, reqID)

	assert.False(t, ch.Save("some-older-request", "stray"))
	latest, _ := ch.LatestSnapshot()
	assert.Equal(t, "stray", latest)

	assert.True(t, ch.Save(reqID, "real"))
	r := await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "real", r.html)
}

func TestSave_EmptyRequestIDCompletesPendingCapture(t *testing.T) {
	ch := New("c1", "", nil)
	v := &recorder{ch: ch}
	ch.AddClient("v1", v)

	res := snapshotAsync(ch, 5*time.Second)
	require.Eventually(t, func() bool { return v.last().Action == types.ActionSaveHTML }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, ch.Save("", "legacy"))
	r := await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "legacy", r.html)
}

func TestSave_WithoutCaptureOnlyUpdatesLatest(t *testing.T) {
	ch := New("c1", "", nil)
	assert.False(t, ch.Save("", "unsolicited"))

	latest, at := ch.LatestSnapshot()
	assert.Equal(t, "unsolicited", latest)
	assert.False(t, at.IsZero())
	assert.Zero(t, ch.Stats().Captures)
}

func TestSnapshot_ConcurrentCapturesAllComplete(t *testing.T) {
	ch := New("c1", "", nil)
	ch.AddClient("v1", &recorder{ch: ch, answer: func(n int) string { return fmt.Sprintf("capture-%d", n) }})

	results := []<-chan snapResult{
		snapshotAsync(ch, 5*time.Second),
		snapshotAsync(ch, 5*time.Second),
		snapshotAsync(ch, 5*time.Second),
	}
	seen := map[string]bool{}
	for _, res := range results {
		r := await(t, res)
		require.NoError(t, r.err)
		seen[r.html] = true
	}
	assert.Len(t, seen, 3, "each capture gets its own answer")
	assert.Equal(t, uint64(3), ch.Stats().Captures)
}

func TestSnapshot_ViewerLeavesBeforeRequest(t *testing.T) {
	ch := New("c1", "", nil)
	gone := &recorder{ch: ch}
	ch.AddClient("gone", gone)
	gone.mu.Lock()
	gone.failWith = errors.New("socket closed")
	gone.mu.Unlock()

	res := snapshotAsync(ch, 5*time.Second)
	select {
	case r := <-res:
		t.Fatalf("snapshot returned early: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	ch.AddClient("back", &recorder{ch: ch, answer: fixed("<html>back</html>")})
	r := await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "<html>back</html>", r.html)
}

func TestClose_FailsPendingCapture(t *testing.T) {
	ch := New("c1", "", nil)
	res := snapshotAsync(ch, 5*time.Second)
	time.Sleep(20 * time.Millisecond)

	ch.Close()
	r := await(t, res)
	assert.ErrorIs(t, r.err, ErrClosed)
}

func TestClose_DropsViewersAndIgnoresNewOnes(t *testing.T) {
	ch := New("c1", "", nil)
	ch.AddClient("v1", &recorder{ch: ch})
	ch.Close()
	ch.Close()

	assert.Zero(t, ch.ViewerCount())
	late := &recorder{ch: ch}
	ch.AddClient("v2", late)
	assert.Zero(t, ch.ViewerCount())
	assert.Empty(t, late.actions())
}

// cancellingViewer answers a capture and then ends the capture's context, so
// the answer and the deadline are both ready when Snapshot selects.
type cancellingViewer struct {
	ch     *Channel
	cancel context.CancelFunc
}

func (v *cancellingViewer) Send(msg []byte) error {
	var m types.Outbound
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	if m.Action == types.ActionSaveHTML {
		go func() {
			v.ch.Save(m.RequestID, "<html>late</html>")
			v.cancel()
		}()
	}
	return nil
}

func (v *cancellingViewer) Closed() bool { return false }

func TestSnapshot_AnswerWinsOverSimultaneousDeadline(t *testing.T) {
	for i := 0; i < 50; i++ {
		ch := New("c1", "", nil)
		ctx, cancel := context.WithCancel(context.Background())
		ch.AddClient("v", &cancellingViewer{ch: ch, cancel: cancel})

		html, err := ch.Snapshot(ctx)
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, "<html>late</html>", html)
		cancel()
	}
}

func TestClose_ConcurrentAddClientLeavesNoViewers(t *testing.T) {
	for i := 0; i < 20; i++ {
		ch := New("c1", "", nil)
		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				ch.AddClient(fmt.Sprintf("v%d", j), &recorder{ch: ch})
			}(j)
		}
		ch.Close()
		wg.Wait()
		assert.Zero(t, ch.ViewerCount(), "iteration %d", i)
	}
}

// TestScenario walks one channel through its life: create, push traces, a
// late joiner, a capture, a departure and a final capture by a new viewer.
func TestScenario(t *testing.T) {
	ch := New("c1", "/viz", json.RawMessage(`{"title":"train"}`))

	a := &recorder{ch: ch, answer: fixed("<html>a</html>")}
	ch.AddClient("a", a)
	ch.PutTrace("loss", json.RawMessage(`{"y":[0.9]}`))
	ch.PutTrace("loss", json.RawMessage(`{"y":[0.9,0.5]}`))

	b := &recorder{ch: ch}
	ch.AddClient("b", b)
	assert.JSONEq(t, `{"y":[0.9,0.5]}`, string(b.last().Traces["loss"]))

	r := await(t, snapshotAsync(ch, 2*time.Second))
	require.NoError(t, r.err)
	assert.Equal(t, "<html>a</html>", r.html)

	seen := len(b.all())
	ch.RemoveClient("a")
	ch.RemoveClient("b")
	ch.DeleteTrace("loss")
	assert.Len(t, b.all(), seen, "departed viewers get nothing more")

	res := snapshotAsync(ch, 5*time.Second)
	c := &recorder{ch: ch, answer: fixed("<html>c</html>")}
	ch.AddClient("c", c)
	assert.Empty(t, c.all()[0].Traces)

	r = await(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, "<html>c</html>", r.html)
	assert.Equal(t, uint64(2), ch.Stats().Captures)
}
