package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_CanonicalizesParams(t *testing.T) {
	a := Subscription{Channel: "price.live", Params: map[string]any{"symbol": "CTA", "interval": "1m"}}
	b := Subscription{Channel: "price.live", Params: map[string]any{"interval": "1m", "symbol": "CTA"}}

	assert.Equal(t, a.Key(), b.Key(), "param order must not change the key")
}

func TestKey_NoParams(t *testing.T) {
	s := Subscription{Channel: "ranking.weekly"}
	assert.Equal(t, "ranking.weekly", s.Key())
}

func TestKey_DifferentParamsDifferentKeys(t *testing.T) {
	a := Subscription{Channel: "price.live", Params: map[string]any{"symbol": "CTA"}}
	b := Subscription{Channel: "price.live", Params: map[string]any{"symbol": "BTC"}}
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestSubscribe_FirstAndSecondReference(t *testing.T) {
	r := NewRegistry(nil)

	h1, first := r.Subscribe("ranking.weekly", nil, nil)
	assert.True(t, first)
	assert.Equal(t, 1, r.Refs("ranking.weekly", nil))

	h2, first := r.Subscribe("ranking.weekly", nil, nil)
	assert.False(t, first, "second subscribe to the same key must not create a new entry")
	assert.Equal(t, 2, r.Refs("ranking.weekly", nil))
	assert.Equal(t, 1, r.Len())

	h1.Release()
	assert.Equal(t, 1, r.Refs("ranking.weekly", nil), "one holder remaining keeps the entry alive")

	h2.Release()
	assert.Equal(t, 0, r.Refs("ranking.weekly", nil))
	assert.Equal(t, 0, r.Len())
}

func TestRelease_OnLastFiresExactlyOnce(t *testing.T) {
	r := NewRegistry(nil)

	lastCalls := 0
	onLast := func(Subscription) { lastCalls++ }

	h1, _ := r.Subscribe("price.live", nil, onLast)
	h2, _ := r.Subscribe("price.live", nil, onLast)

	h1.Release()
	assert.Equal(t, 0, lastCalls, "onLast must not fire while references remain")

	h2.Release()
	assert.Equal(t, 1, lastCalls)
}

func TestRelease_Idempotent(t *testing.T) {
	r := NewRegistry(nil)

	h1, _ := r.Subscribe("price.live", nil, nil)
	_, _ = r.Subscribe("price.live", nil, nil)

	h1.Release()
	h1.Release() // double release must not steal the other holder's reference
	assert.Equal(t, 1, r.Refs("price.live", nil))
}

func TestResubscribeAfterFullRelease(t *testing.T) {
	r := NewRegistry(nil)

	h, first := r.Subscribe("round.state", nil, nil)
	assert.True(t, first)
	h.Release()

	_, first = r.Subscribe("round.state", nil, nil)
	assert.True(t, first, "a fresh subscribe after full release is first again")
	assert.Equal(t, 1, r.Refs("round.state", nil), "refcount returns to 1, not 2")
}

func TestSnapshotAndChannels(t *testing.T) {
	r := NewRegistry(nil)

	_, _ = r.Subscribe("price.live", map[string]any{"symbol": "CTA"}, nil)
	_, _ = r.Subscribe("price.live", map[string]any{"symbol": "BTC"}, nil)
	_, _ = r.Subscribe("ranking.weekly", nil, nil)

	snap := r.Snapshot()
	require.Len(t, snap, 3)

	channels := r.Channels()
	assert.Equal(t, []string{"price.live", "ranking.weekly"}, channels,
		"channels are distinct and sorted")
}

func TestHandleSubscriptionAccessor(t *testing.T) {
	r := NewRegistry(nil)
	h, _ := r.Subscribe("price.live", map[string]any{"symbol": "CTA"}, nil)
	assert.Equal(t, "price.live", h.Subscription().Channel)
	assert.Equal(t, "CTA", h.Subscription().Params["symbol"])
}
