// Package subscription tracks which logical channels consumers currently
// want. Entries are reference counted: two consumers subscribing to the same
// channel+params share one wire subscription, and the entry survives until
// the last holder releases it. Registrations are session-scoped on the wire
// but consumer-scoped in memory, so they survive reconnects transparently.
package subscription

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Subscription identifies one logical channel stream.
type Subscription struct {
	Channel string
	Params  map[string]any
}

// Key returns the derived identity: channel plus canonicalized params.
// json.Marshal sorts map keys, so equal param sets always produce equal keys.
func (s Subscription) Key() string {
	if len(s.Params) == 0 {
		return s.Channel
	}
	raw, err := json.Marshal(s.Params)
	if err != nil {
		// Unmarshalable params cannot round-trip to the wire either;
		// fall back to a best-effort stable rendering of the keys.
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("%s?%v", s.Channel, keys)
	}
	return s.Channel + "?" + string(raw)
}

type entry struct {
	sub  Subscription
	refs int
}

// Registry is the single owner of the channel -> refcount mapping.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Handle releases one reference when invoked. Handles are idempotent: a
// second Release is a no-op, so a consumer double-freeing cannot tear down
// another consumer's registration.
type Handle struct {
	once     sync.Once
	registry *Registry
	sub      Subscription
	onLast   func(Subscription)
}

// Subscription returns the registration this handle holds a reference to.
func (h *Handle) Subscription() Subscription {
	return h.sub
}

// Release decrements the reference count. When the count reaches zero the
// entry is removed and onLast (if provided at Subscribe time) fires.
func (h *Handle) Release() {
	h.once.Do(func() {
		last := h.registry.release(h.sub)
		if last && h.onLast != nil {
			h.onLast(h.sub)
		}
	})
}

// Subscribe records one reference to channel+params. first is true when this
// call created the entry, meaning a subscribe control message (or polling
// registration) is needed. onLast fires when the returned handle releases
// the final reference.
func (r *Registry) Subscribe(channel string, params map[string]any, onLast func(Subscription)) (*Handle, bool) {
	sub := Subscription{Channel: channel, Params: params}
	key := sub.Key()

	r.mu.Lock()
	e, exists := r.entries[key]
	if !exists {
		e = &entry{sub: sub}
		r.entries[key] = e
	}
	e.refs++
	refs := e.refs
	r.mu.Unlock()

	r.logger.Debug("subscription reference added",
		"channel", channel, "key", key, "refs", refs)

	return &Handle{registry: r, sub: sub, onLast: onLast}, !exists
}

// release removes one reference; returns true when the entry was removed.
func (r *Registry) release(sub Subscription) bool {
	key := sub.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[key]
	if !exists {
		return false
	}
	e.refs--
	if e.refs > 0 {
		r.logger.Debug("subscription reference released",
			"channel", sub.Channel, "key", key, "refs", e.refs)
		return false
	}
	delete(r.entries, key)
	r.logger.Debug("subscription removed", "channel", sub.Channel, "key", key)
	return true
}

// Snapshot returns every live registration. The session iterates this on
// (re)connection to re-issue subscribe control messages.
func (r *Registry) Snapshot() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscription, 0, len(r.entries))
	for _, e := range r.entries {
		subs = append(subs, e.sub)
	}
	return subs
}

// Channels returns the distinct channel names with at least one reference,
// sorted for deterministic polling order.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	seen := make(map[string]struct{}, len(r.entries))
	for _, e := range r.entries {
		seen[e.sub.Channel] = struct{}{}
	}
	r.mu.Unlock()

	channels := make([]string, 0, len(seen))
	for ch := range seen {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// Refs returns the current reference count for channel+params.
func (r *Registry) Refs(channel string, params map[string]any) int {
	key := Subscription{Channel: channel, Params: params}.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, exists := r.entries[key]; exists {
		return e.refs
	}
	return 0
}

// Len returns the number of distinct live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
