package topic

import (
	"sync/atomic"
)

// Subscription represents an active MQTT 3.1.1 subscription request.
type Subscription struct {
	ClientID    string
	TopicFilter string
	QoS         byte
	SharedGroup string // set for shared subscriptions ($share/groupname/topic)
}

// SubscriberInfo contains subscriber metadata for routing, stored at the
// trie node that owns it.
type SubscriberInfo struct {
	ClientID string
	QoS      byte
}

// SharedSubscriptionGroup load-balances a shared subscription
// ($share/<group>/<filter>) across its members round-robin. It is owned by
// the single Broker Core goroutine, so it carries no mutex of its own; only
// the round-robin counter needs to survive concurrent reads safely, which it
// does not need to here either, but atomic keeps NextSubscriber callable from
// tests without synchronization ceremony.
type SharedSubscriptionGroup struct {
	groupName   string
	subscribers []SubscriberInfo
	counter     atomic.Uint64
}

// NewSharedSubscriptionGroup creates a new shared subscription group
func NewSharedSubscriptionGroup(groupName string) *SharedSubscriptionGroup {
	return &SharedSubscriptionGroup{
		groupName:   groupName,
		subscribers: make([]SubscriberInfo, 0),
	}
}

// AddSubscriber adds a subscriber to the group, replacing any existing
// entry for the same ClientID so the newly granted QoS supersedes the old.
func (g *SharedSubscriptionGroup) AddSubscriber(sub SubscriberInfo) {
	for i, existing := range g.subscribers {
		if existing.ClientID == sub.ClientID {
			g.subscribers[i] = sub
			return
		}
	}
	g.subscribers = append(g.subscribers, sub)
}

// RemoveSubscriber removes a subscriber from the group
func (g *SharedSubscriptionGroup) RemoveSubscriber(clientID string) bool {
	for i, sub := range g.subscribers {
		if sub.ClientID == clientID {
			g.subscribers = append(g.subscribers[:i], g.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// NextSubscriber returns the next subscriber using round-robin
func (g *SharedSubscriptionGroup) NextSubscriber() (SubscriberInfo, bool) {
	if len(g.subscribers) == 0 {
		return SubscriberInfo{}, false
	}
	idx := g.counter.Add(1) - 1
	return g.subscribers[idx%uint64(len(g.subscribers))], true
}

// Size returns the number of subscribers in the group
func (g *SharedSubscriptionGroup) Size() int {
	return len(g.subscribers)
}

// GetSubscribers returns all subscribers in the group
func (g *SharedSubscriptionGroup) GetSubscribers() []SubscriberInfo {
	result := make([]SubscriberInfo, len(g.subscribers))
	copy(result, g.subscribers)
	return result
}
