package realtime_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foani/CTA-Mission-sub000/envelope"
	"github.com/foani/CTA-Mission-sub000/errors"
	"github.com/foani/CTA-Mission-sub000/polling"
	"github.com/foani/CTA-Mission-sub000/realtime"
	"github.com/foani/CTA-Mission-sub000/testutil"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewRequiresURL(t *testing.T) {
	_, err := realtime.New()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConnectHappyPath(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	var mu sync.Mutex
	var states []realtime.State
	client, err := realtime.New(
		realtime.WithURL(server.URL()),
		realtime.WithOnConnectionChange(func(s realtime.State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	mu.Lock()
	assert.Equal(t, []realtime.State{realtime.StateConnecting, realtime.StateOpen}, states)
	mu.Unlock()

	assert.Equal(t, realtime.StateOpen, client.State())
	assert.False(t, client.IsPollingMode())
	assert.NoError(t, client.Err())
}

func TestLastMessageFromPush(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client, err := realtime.New(realtime.WithURL(server.URL()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	_, ok := client.LastMessage()
	assert.False(t, ok)

	update, err := envelope.New("price.update", map[string]any{"btc": 50000})
	require.NoError(t, err)
	require.NoError(t, server.Push(update))

	waitFor(t, 2*time.Second, func() bool {
		_, ok := client.LastMessage()
		return ok
	})

	last, _ := client.LastMessage()
	assert.Equal(t, "price.update", last.Type)
}

func TestSubscribeReferenceCounting(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client, err := realtime.New(realtime.WithURL(server.URL()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	// Two independent consumers of the same channel: one wire subscribe.
	unsub1, err := client.Subscribe("ranking.weekly", nil)
	require.NoError(t, err)
	unsub2, err := client.Subscribe("ranking.weekly", nil)
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool { return server.SubscribeCount("ranking.weekly") == 1 })

	// First release keeps the registration alive.
	unsub1()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, server.UnsubscribeCount("ranking.weekly"))
	assert.Equal(t, 1, client.Stats().Subscriptions)

	// Releasing the same handle again does not count.
	unsub1()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, client.Stats().Subscriptions)

	// Last release removes it and notifies the server.
	unsub2()
	waitFor(t, 2*time.Second, func() bool { return server.UnsubscribeCount("ranking.weekly") == 1 })
	assert.Zero(t, client.Stats().Subscriptions)
}

func TestResubscribeRoundTrip(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client, err := realtime.New(realtime.WithURL(server.URL()))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	unsub, err := client.Subscribe("prices", map[string]any{"symbol": "BTC"})
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return server.SubscribeCount("prices") == 1 })

	unsub()
	waitFor(t, 2*time.Second, func() bool { return server.UnsubscribeCount("prices") == 1 })

	// Subscribing again yields exactly one active registration.
	_, err = client.Subscribe("prices", map[string]any{"symbol": "BTC"})
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return server.SubscribeCount("prices") == 2 })
	assert.Equal(t, 1, client.Stats().Subscriptions)
}

func TestSubscriptionsSurviveReconnect(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client, err := realtime.New(
		realtime.WithURL(server.URL()),
		realtime.WithReconnect(3, 20*time.Millisecond),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	_, err = client.Subscribe("game.round", map[string]any{"round": 7})
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return server.SubscribeCount("game.round") == 1 })

	server.CloseConnections()

	// The subscription is consumer-scoped: it is retransmitted on the new
	// connection without any consumer involvement.
	waitFor(t, 2*time.Second, func() bool { return server.SubscribeCount("game.round") == 2 })
	assert.True(t, client.IsConnected())
}

func TestSendMessageWhileNotConnected(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	var mu sync.Mutex
	var reported []error
	client, err := realtime.New(
		realtime.WithURL(server.URL()),
		realtime.WithOnError(func(err error) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, err)
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	err = client.SendMessage(envelope.NewSubscribe("prices", nil))
	require.Error(t, err)
	assert.True(t, errors.IsSubscriptionError(err))
	assert.ErrorIs(t, client.Err(), errors.ErrNotConnected)

	mu.Lock()
	assert.NotEmpty(t, reported)
	mu.Unlock()
}

func TestPollingFallbackOnConnectTimeout(t *testing.T) {
	// The push endpoint never completes the handshake.
	stall := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer stall.Close()

	pollServer := testutil.NewServer()
	defer pollServer.Close()
	pollServer.SetPollBody("prices", `{"btc":50000}`)

	client, err := realtime.New(
		realtime.WithURL("ws"+strings.TrimPrefix(stall.URL, "http")),
		realtime.WithConnectionTimeout(100*time.Millisecond),
		realtime.WithoutReconnect(),
		realtime.WithPollingFallback(30*time.Millisecond, []polling.Endpoint{
			{Channel: "prices", URL: pollServer.PollURL("prices")},
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Subscribe("prices", nil)
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))

	waitFor(t, 3*time.Second, func() bool { return client.IsPollingMode() })

	// Polled updates arrive through the normal delivery path.
	waitFor(t, 2*time.Second, func() bool {
		last, ok := client.LastMessage()
		return ok && last.Type == envelope.PollingPrefix+"prices"
	})

	last, _ := client.LastMessage()
	assert.JSONEq(t, `{"btc":50000}`, string(last.Data))
	assert.True(t, errors.IsTimeoutError(client.Err()) || errors.IsConnectionError(client.Err()))
	assert.Positive(t, client.Stats().LastFetchTimestamp)
}

func TestPollingStopsWhenPushRestored(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()
	server.SetPollBody("prices", `{"btc":1}`)

	client, err := realtime.New(
		realtime.WithURL(server.URL()),
		realtime.WithReconnect(1, 20*time.Millisecond),
		realtime.WithPollingFallback(30*time.Millisecond, []polling.Endpoint{
			{Channel: "prices", URL: server.PollURL("prices")},
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Subscribe("prices", nil)
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	// Kill push entirely: reconnect budget drains, polling takes over.
	server.RejectUpgrades(true)
	server.CloseConnections()
	waitFor(t, 3*time.Second, func() bool { return client.IsPollingMode() })

	// Push comes back; a forced reconnect restores it and stops polling.
	server.RejectUpgrades(false)
	require.NoError(t, client.Reconnect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	assert.False(t, client.IsPollingMode())
	assert.False(t, client.Stats().PollingActive)
}

func TestMessageFilter(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client, err := realtime.New(
		realtime.WithURL(server.URL()),
		realtime.WithMessageFilter(func(env envelope.Envelope) bool {
			return env.Type != "noise"
		}),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	noise, err := envelope.New("noise", nil)
	require.NoError(t, err)
	require.NoError(t, server.Push(noise))

	wanted, err := envelope.New("price.update", nil)
	require.NoError(t, err)
	require.NoError(t, server.Push(wanted))

	waitFor(t, 2*time.Second, func() bool {
		last, ok := client.LastMessage()
		return ok && last.Type == "price.update"
	})

	// The filtered envelope never became the last message.
	last, _ := client.LastMessage()
	assert.Equal(t, "price.update", last.Type)
}

func TestDisconnectIdempotent(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client, err := realtime.New(
		realtime.WithURL(server.URL()),
		realtime.WithPollingFallback(time.Second, nil),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	client.Disconnect()
	client.Disconnect()

	assert.Equal(t, realtime.StateClosed, client.State())
	assert.False(t, client.IsPollingMode())
}

func TestHistoryDrain(t *testing.T) {
	server := testutil.NewServer()
	defer server.Close()

	client, err := realtime.New(
		realtime.WithURL(server.URL()),
		realtime.WithHistory(2),
	)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Connect(context.Background()))
	waitFor(t, 2*time.Second, func() bool { return client.IsConnected() })

	for i := 0; i < 3; i++ {
		env, err := envelope.New("ticker", map[string]any{"seq": i})
		require.NoError(t, err)
		require.NoError(t, server.Push(env))
	}

	waitFor(t, 2*time.Second, func() bool {
		last, ok := client.LastMessage()
		return ok && strings.Contains(string(last.Data), "2")
	})

	drained := client.Drain("ticker")
	require.Len(t, drained, 2)
	assert.JSONEq(t, `{"seq":1}`, string(drained[0].Data))
	assert.JSONEq(t, `{"seq":2}`, string(drained[1].Data))
}
