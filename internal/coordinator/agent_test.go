// ABOUTME: Tests for the coordinator agent against scripted requesters
// ABOUTME: Covers collection windows, attach and detach, requests and unsubscribes

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wardlink/internal/events"
	"github.com/2389/wardlink/internal/session"
	"github.com/2389/wardlink/internal/transport"
	"github.com/2389/wardlink/internal/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1", 0)
	require.NoError(t, err)
	port := ln.Port()
	require.NoError(t, ln.Close())
	return port
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Identity:      "station-3",
		LocalAddress:  "127.0.0.1",
		DiscoveryPort: freePort(t),
		PairingPort:   freePort(t),
		SessionPort:   freePort(t),
		QuietPeriod:   200 * time.Millisecond,
		DialTimeout:   200 * time.Millisecond,
		ReadTimeout:   time.Second,
	}
}

func deliver(port int, cmd wire.Command) error {
	return transport.Deliver(context.Background(), "127.0.0.1", port, 100*time.Millisecond, cmd)
}

// deliverEventually retries until the agent's listener is up.
func deliverEventually(t *testing.T, port int, cmd wire.Command) {
	t.Helper()
	require.Eventually(t, func() bool {
		return deliver(port, cmd) == nil
	}, 2*time.Second, 5*time.Millisecond)
}

var carerA = session.Contact{Identity: "carer-a", Address: "127.0.0.1"}

type result struct {
	value string
	err   error
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{}.withDefaults()
	assert.Equal(t, wire.DefaultDiscoveryPort, o.DiscoveryPort)
	assert.Equal(t, wire.DefaultPairingPort, o.PairingPort)
	assert.Equal(t, wire.DefaultSessionPort, o.SessionPort)
	assert.Equal(t, DefaultQuietPeriod, o.QuietPeriod)
	assert.Equal(t, transport.DefaultReadTimeout, o.ReadTimeout)
}

func TestCollectRequesters_DistinctIdentities(t *testing.T) {
	opts := testOptions(t)
	a := New(opts, nil, nil)

	go func() {
		deliverEventually(t, opts.DiscoveryPort, wire.Broadcast{Identity: "carer-a"})
		for i := 0; i < 4; i++ {
			_ = deliver(opts.DiscoveryPort, wire.Broadcast{Identity: "carer-a"})
		}
		_ = deliver(opts.DiscoveryPort, wire.Unsubscribe{Identity: "carer-z"})
		for i := 0; i < 3; i++ {
			_ = deliver(opts.DiscoveryPort, wire.Broadcast{Identity: "carer-b"})
		}
	}()

	found, err := a.CollectRequesters(t.Context(), 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []session.Contact{
		{Identity: "carer-a", Address: "127.0.0.1"},
		{Identity: "carer-b", Address: "127.0.0.1"},
	}, found)
	assert.Equal(t, session.StateIdle, a.State())
	assert.Empty(t, a.ActiveLoops())
}

func TestCollectRequesters_EmptyAfterQuietPeriod(t *testing.T) {
	a := New(testOptions(t), nil, nil)

	start := time.Now()
	found, err := a.CollectRequesters(t.Context(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestCollectRequesters_NewIdentitiesKeepWindowOpen(t *testing.T) {
	opts := testOptions(t)
	a := New(opts, nil, nil)

	const quiet = 200 * time.Millisecond
	names := []string{"carer-1", "carer-2", "carer-3", "carer-4"}
	go func() {
		deliverEventually(t, opts.DiscoveryPort, wire.Broadcast{Identity: names[0]})
		for _, name := range names[1:] {
			time.Sleep(quiet / 2)
			_ = deliver(opts.DiscoveryPort, wire.Broadcast{Identity: name})
		}
	}()

	start := time.Now()
	found, err := a.CollectRequesters(t.Context(), quiet)
	require.NoError(t, err)
	require.Len(t, found, len(names))
	for i, c := range found {
		assert.Equal(t, names[i], c.Identity)
	}
	// Three spaced arrivals plus a final quiet period outlast any single window.
	assert.Greater(t, time.Since(start), 2*quiet)
}

func TestCollectRequesters_DefaultQuietPeriod(t *testing.T) {
	opts := testOptions(t)
	opts.QuietPeriod = 50 * time.Millisecond
	a := New(opts, nil, nil)

	start := time.Now()
	_, err := a.CollectRequesters(t.Context(), 0)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCollectRequesters_Cancelled(t *testing.T) {
	opts := testOptions(t)
	a := New(opts, nil, nil)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		deliverEventually(t, opts.DiscoveryPort, wire.Broadcast{Identity: "carer-a"})
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	found, err := a.CollectRequesters(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, found, 1)
}

func TestCollectRequesters_PortBusy(t *testing.T) {
	opts := testOptions(t)
	busy, err := transport.Listen("127.0.0.1", opts.DiscoveryPort)
	require.NoError(t, err)
	defer busy.Close()

	_, err = New(opts, nil, nil).CollectRequesters(t.Context(), 0)
	assert.ErrorIs(t, err, transport.ErrBind)
}

func TestAttach_EmptyContact(t *testing.T) {
	err := New(testOptions(t), nil, nil).Attach(t.Context(), session.Contact{}, "res-1")
	assert.ErrorIs(t, err, session.ErrEmptyContact)
}

func TestAttach_SendsConnect(t *testing.T) {
	opts := testOptions(t)
	b := events.NewBroadcaster(nil)
	defer b.Close()
	feed, _ := b.Subscribe(t.Context(), "station-3")

	pairing, err := transport.Listen("127.0.0.1", opts.PairingPort)
	require.NoError(t, err)
	defer pairing.Close()

	a := New(opts, nil, b)
	require.NoError(t, a.Attach(t.Context(), carerA, "res-1"))

	cmd, _, err := pairing.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, wire.Connect{Identity: "station-3", ResourceID: "res-1"}, cmd)

	peer, resource, ok := a.Peer()
	require.True(t, ok)
	assert.Equal(t, carerA, peer)
	assert.Equal(t, "res-1", resource)
	assert.Equal(t, session.StateAttached, a.State())

	select {
	case ev := <-feed:
		assert.Equal(t, events.KindAttached, ev.Kind)
		assert.Equal(t, carerA, ev.Peer)
	case <-time.After(time.Second):
		t.Fatal("no attached event")
	}
}

func TestAttach_UnreachableKeepsBinding(t *testing.T) {
	a := New(testOptions(t), nil, nil)

	err := a.Attach(t.Context(), carerA, "res-1")
	require.ErrorIs(t, err, session.ErrPeerUnreachable)
	assert.ErrorIs(t, err, transport.ErrUnreachable)

	peer, _, ok := a.Peer()
	assert.True(t, ok)
	assert.Equal(t, carerA, peer)
}

func TestDetach_Unbound(t *testing.T) {
	err := New(testOptions(t), nil, nil).Detach(t.Context())
	assert.ErrorIs(t, err, session.ErrNoPeerBound)
}

func TestDetach_SendsDisconnectAndClears(t *testing.T) {
	opts := testOptions(t)
	pairing, err := transport.Listen("127.0.0.1", opts.PairingPort)
	require.NoError(t, err)
	defer pairing.Close()

	a := New(opts, nil, nil)
	require.NoError(t, a.Attach(t.Context(), carerA, "res-1"))
	_, _, err = pairing.Next(t.Context())
	require.NoError(t, err)

	require.NoError(t, a.Detach(t.Context()))

	cmd, _, err := pairing.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, wire.Disconnect{Confirm: true}, cmd)

	_, _, ok := a.Peer()
	assert.False(t, ok)
	assert.Equal(t, session.StateIdle, a.State())
}

func TestDetach_UnreachableKeepsBinding(t *testing.T) {
	a := New(testOptions(t), nil, nil)
	_ = a.Attach(t.Context(), carerA, "res-1")

	err := a.Detach(t.Context())
	require.ErrorIs(t, err, session.ErrPeerUnreachable)
	_, _, ok := a.Peer()
	assert.True(t, ok)
}

func TestAwaitRequest_OneShot(t *testing.T) {
	opts := testOptions(t)
	a := New(opts, nil, nil)

	done := make(chan result, 1)
	go func() {
		r, err := a.AwaitRequest(t.Context())
		done <- result{r, err}
	}()

	deliverEventually(t, opts.SessionPort, wire.Broadcast{Identity: "carer-a"})
	deliverEventually(t, opts.SessionPort, wire.Request{ResourceID: "res-1"})

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "res-1", r.value)

	// The listener is gone until the next call.
	err := deliver(opts.SessionPort, wire.Request{ResourceID: "res-1"})
	assert.ErrorIs(t, err, transport.ErrUnreachable)
}

func TestRequests_YieldsUntilBreak(t *testing.T) {
	opts := testOptions(t)
	a := New(opts, nil, nil)

	go func() {
		deliverEventually(t, opts.SessionPort, wire.Request{ResourceID: "res-1"})
		deliverEventually(t, opts.SessionPort, wire.Request{ResourceID: "res-2"})
		deliverEventually(t, opts.SessionPort, wire.Request{ResourceID: "res-3"})
	}()

	var got []string
	for resource, err := range a.Requests(t.Context()) {
		require.NoError(t, err)
		got = append(got, resource)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"res-1", "res-2", "res-3"}, got)
	assert.Empty(t, a.ActiveLoops())
}

func TestRequests_StopsQuietlyOnCancel(t *testing.T) {
	a := New(testOptions(t), nil, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	for _, err := range a.Requests(ctx) {
		t.Fatalf("unexpected element, err=%v", err)
	}
}

func TestRequests_Restartable(t *testing.T) {
	opts := testOptions(t)
	a := New(opts, nil, nil)

	for round := 0; round < 2; round++ {
		go deliverEventually(t, opts.SessionPort, wire.Request{ResourceID: "res-1"})
		for resource, err := range a.Requests(t.Context()) {
			require.NoError(t, err)
			assert.Equal(t, "res-1", resource)
			break
		}
	}
}

func TestAwaitUnsubscribe_NonMatchingIsDiscarded(t *testing.T) {
	opts := testOptions(t)
	a := New(opts, nil, nil)
	_ = a.Attach(t.Context(), carerA, "res-1")

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	reqDone := make(chan result, 1)
	go func() {
		r, err := a.AwaitRequest(ctx)
		reqDone <- result{r, err}
	}()
	unsubDone := make(chan result, 1)
	go func() {
		r, err := a.AwaitUnsubscribe(ctx)
		unsubDone <- result{r, err}
	}()
	require.Eventually(t, func() bool {
		return len(a.ActiveLoops()) == 2
	}, time.Second, 5*time.Millisecond)

	deliverEventually(t, opts.DiscoveryPort, wire.Unsubscribe{Identity: "carer-b"})

	select {
	case r := <-unsubDone:
		t.Fatalf("unsubscribe listener stopped: %+v", r)
	case r := <-reqDone:
		t.Fatalf("request listener stopped: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}

	peer, _, ok := a.Peer()
	assert.True(t, ok)
	assert.Equal(t, carerA, peer)
	assert.Equal(t, []string{session.LoopRequests, session.LoopUnsubscribe}, a.ActiveLoops())

	cancel()
	assert.ErrorIs(t, (<-reqDone).err, context.Canceled)
	assert.ErrorIs(t, (<-unsubDone).err, context.Canceled)
}

func TestAwaitUnsubscribe_MatchingCancelsRequests(t *testing.T) {
	opts := testOptions(t)
	b := events.NewBroadcaster(nil)
	defer b.Close()
	feed, _ := b.Subscribe(t.Context(), "station-3")

	a := New(opts, nil, b)
	_ = a.Attach(t.Context(), carerA, "res-1")

	reqErr := make(chan error, 1)
	go func() {
		for _, err := range a.Requests(t.Context()) {
			if err != nil {
				reqErr <- err
				return
			}
		}
		reqErr <- nil
	}()
	unsubDone := make(chan result, 1)
	go func() {
		r, err := a.AwaitUnsubscribe(t.Context())
		unsubDone <- result{r, err}
	}()
	require.Eventually(t, func() bool {
		return len(a.ActiveLoops()) == 2
	}, time.Second, 5*time.Millisecond)

	deliverEventually(t, opts.DiscoveryPort, wire.Unsubscribe{Identity: "carer-a"})

	r := <-unsubDone
	require.NoError(t, r.err)
	assert.Equal(t, "carer-a", r.value)

	select {
	case err := <-reqErr:
		assert.ErrorIs(t, err, session.ErrPeerUnsubscribed)
	case <-time.After(time.Second):
		t.Fatal("request sequence survived the unsubscribe")
	}

	_, _, ok := a.Peer()
	assert.False(t, ok)
	assert.Equal(t, session.StateIdle, a.State())

	// Attach could not reach the peer, so the only event is the unsubscribe.
	select {
	case ev := <-feed:
		assert.Equal(t, events.KindUnsubscribed, ev.Kind)
		assert.Equal(t, "res-1", ev.ResourceID)
	case <-time.After(time.Second):
		t.Fatal("no unsubscribed event")
	}
}
