package topic

// Router is the Broker Core's subscription registry: it wraps the trie and
// tracks, per client, which filters that client currently holds so a
// disconnect or UNSUBSCRIBE can find them without a trie walk. Like the Trie
// it wraps, a Router is owned by a single goroutine and carries no lock.
type Router struct {
	trie          *Trie
	subscriptions map[string]map[string]*Subscription // clientID -> filter -> Subscription
}

// NewRouter creates a new topic router
func NewRouter() *Router {
	return &Router{
		trie:          NewTrie(),
		subscriptions: make(map[string]map[string]*Subscription),
	}
}

// Subscribe adds a subscription to the router
func (r *Router) Subscribe(sub *Subscription) error {
	if IsSharedSubscription(sub.TopicFilter) {
		groupName, topicFilter, err := ValidateSharedSubscription(sub.TopicFilter)
		if err != nil {
			return err
		}

		subInfo := SubscriberInfo{ClientID: sub.ClientID, QoS: sub.QoS}
		if err := r.trie.SubscribeShared(groupName, topicFilter, subInfo); err != nil {
			return err
		}

		sub.SharedGroup = groupName
		r.record(sub)
		return nil
	}

	if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
		return err
	}

	subInfo := SubscriberInfo{ClientID: sub.ClientID, QoS: sub.QoS}
	if err := r.trie.Subscribe(sub.TopicFilter, subInfo); err != nil {
		return err
	}

	r.record(sub)
	return nil
}

func (r *Router) record(sub *Subscription) {
	if r.subscriptions[sub.ClientID] == nil {
		r.subscriptions[sub.ClientID] = make(map[string]*Subscription)
	}
	r.subscriptions[sub.ClientID][sub.TopicFilter] = sub
}

// Unsubscribe removes a subscription from the router
func (r *Router) Unsubscribe(clientID, filter string) bool {
	var found bool
	if IsSharedSubscription(filter) {
		groupName, topicFilter, err := ValidateSharedSubscription(filter)
		if err != nil {
			return false
		}
		found = r.trie.UnsubscribeShared(groupName, topicFilter, clientID)
	} else {
		found = r.trie.Unsubscribe(filter, clientID)
	}

	if clientSubs, ok := r.subscriptions[clientID]; ok {
		delete(clientSubs, filter)
		if len(clientSubs) == 0 {
			delete(r.subscriptions, clientID)
		}
	}

	return found
}

// UnsubscribeAll removes all subscriptions for a client, returning the
// topic filters it had been subscribed to (the caller typically logs these).
func (r *Router) UnsubscribeAll(clientID string) []string {
	clientSubs, ok := r.subscriptions[clientID]
	if !ok {
		return nil
	}

	filters := make([]string, 0, len(clientSubs))
	for filter := range clientSubs {
		filters = append(filters, filter)
	}

	for _, filter := range filters {
		r.Unsubscribe(clientID, filter)
	}

	return filters
}

// Match finds all subscribers for a topic
func (r *Router) Match(topic string) []SubscriberInfo {
	return r.trie.Match(topic)
}

// GetSubscription retrieves a specific subscription
func (r *Router) GetSubscription(clientID, filter string) (*Subscription, bool) {
	if clientSubs, ok := r.subscriptions[clientID]; ok {
		sub, ok := clientSubs[filter]
		return sub, ok
	}
	return nil, false
}

// GetClientSubscriptions retrieves all subscriptions for a client
func (r *Router) GetClientSubscriptions(clientID string) []*Subscription {
	clientSubs, ok := r.subscriptions[clientID]
	if !ok {
		return nil
	}

	result := make([]*Subscription, 0, len(clientSubs))
	for _, sub := range clientSubs {
		result = append(result, sub)
	}
	return result
}

// Count returns the total number of subscriptions
func (r *Router) Count() int {
	return r.trie.Count()
}

// CountClients returns the number of clients with subscriptions
func (r *Router) CountClients() int {
	return len(r.subscriptions)
}

// Clear removes all subscriptions
func (r *Router) Clear() {
	r.subscriptions = make(map[string]map[string]*Subscription)
	r.trie.Clear()
}
