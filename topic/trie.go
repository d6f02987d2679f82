package topic

import "strings"

// trieNode represents a node in the topic filter trie. The trie is owned
// exclusively by the Broker Core goroutine (see broker package); it carries
// no internal locking because it is never touched from any other goroutine.
type trieNode struct {
	children     map[string]*trieNode
	subscribers  []SubscriberInfo
	sharedGroups map[string]*SharedSubscriptionGroup
}

func newTrieNode() *trieNode {
	return &trieNode{
		children:     make(map[string]*trieNode),
		subscribers:  make([]SubscriberInfo, 0),
		sharedGroups: make(map[string]*SharedSubscriptionGroup),
	}
}

// Trie implements a trie-based topic filter matcher for MQTT 3.1.1 single
// ('+') and multi-level ('#') wildcards, including shared subscriptions
// ($share/<group>/<filter>).
type Trie struct {
	root *trieNode
}

// NewTrie creates a new topic trie
func NewTrie() *Trie {
	return &Trie{root: newTrieNode()}
}

// Subscribe adds a subscription to the trie. A prior subscriber entry for
// the same ClientID at this node is replaced in place so the new granted
// QoS supersedes the old one instead of producing a duplicate leaf.
func (t *Trie) Subscribe(filter string, sub SubscriberInfo) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	node := t.navigateToNode(filter)
	for i, existing := range node.subscribers {
		if existing.ClientID == sub.ClientID {
			node.subscribers[i] = sub
			return nil
		}
	}
	node.subscribers = append(node.subscribers, sub)
	return nil
}

// SubscribeShared adds a shared subscription to the trie. Re-subscribing the
// same ClientID to the same group replaces its granted QoS rather than
// adding a second entry (see SharedSubscriptionGroup.AddSubscriber).
func (t *Trie) SubscribeShared(groupName, filter string, sub SubscriberInfo) error {
	if err := ValidateTopicFilter(filter); err != nil {
		return err
	}

	node := t.navigateToNode(filter)
	if node.sharedGroups[groupName] == nil {
		node.sharedGroups[groupName] = NewSharedSubscriptionGroup(groupName)
	}
	node.sharedGroups[groupName].AddSubscriber(sub)
	return nil
}

// navigateToNode traverses the trie to find or create the node for a filter
func (t *Trie) navigateToNode(filter string) *trieNode {
	levels := splitTopicLevels(filter)
	node := t.root

	for _, level := range levels {
		if node.children[level] == nil {
			node.children[level] = newTrieNode()
		}
		node = node.children[level]
	}

	return node
}

// Unsubscribe removes a subscription from the trie. Reports whether a
// matching subscription was found and removed.
func (t *Trie) Unsubscribe(filter, clientID string) bool {
	levels := splitTopicLevels(filter)
	return t.unsubscribeRecursive(t.root, levels, clientID, 0)
}

func (t *Trie) unsubscribeRecursive(node *trieNode, levels []string, clientID string, depth int) bool {
	if depth == len(levels) {
		for i, sub := range node.subscribers {
			if sub.ClientID == clientID {
				node.subscribers = append(node.subscribers[:i], node.subscribers[i+1:]...)
				return true
			}
		}
		return false
	}

	level := levels[depth]
	child := node.children[level]
	if child == nil {
		return false
	}

	found := t.unsubscribeRecursive(child, levels, clientID, depth+1)

	if found && shouldPruneNode(child) {
		delete(node.children, level)
	}

	return found
}

// UnsubscribeShared removes a shared subscription from the trie
func (t *Trie) UnsubscribeShared(groupName, filter, clientID string) bool {
	levels := splitTopicLevels(filter)
	return t.unsubscribeSharedRecursive(t.root, levels, groupName, clientID, 0)
}

func (t *Trie) unsubscribeSharedRecursive(node *trieNode, levels []string, groupName, clientID string, depth int) bool {
	if depth == len(levels) {
		group, ok := node.sharedGroups[groupName]
		if !ok {
			return false
		}

		removed := group.RemoveSubscriber(clientID)
		if group.Size() == 0 {
			delete(node.sharedGroups, groupName)
		}
		return removed
	}

	level := levels[depth]
	child := node.children[level]
	if child == nil {
		return false
	}

	found := t.unsubscribeSharedRecursive(child, levels, groupName, clientID, depth+1)

	if found && shouldPruneNode(child) {
		delete(node.children, level)
	}

	return found
}

// Match finds all subscribers whose filter matches topic, deduplicated by
// ClientID so a client subscribed via two overlapping filters is only
// delivered one copy of the message.
func (t *Trie) Match(topic string) []SubscriberInfo {
	if err := ValidateTopic(topic); err != nil {
		return nil
	}

	levels := splitTopicLevels(topic)
	suppressWildcardFirstLevel := strings.HasPrefix(levels[0], "$")

	subscribers := make([]SubscriberInfo, 0, 16)
	t.matchRecursive(t.root, levels, 0, suppressWildcardFirstLevel, &subscribers)

	return dedupeByClientID(subscribers)
}

// matchRecursive walks the trie alongside the topic's levels. suppressWildcard
// blocks a '#' or '+' match at the current level only when depth == 0 and the
// topic's first level begins with '$' (MQTT 3.1.1 section 4.7.2: wildcard
// subscriptions starting with '#' or '+' do not match topics beginning with
// '$').
func (t *Trie) matchRecursive(node *trieNode, levels []string, depth int, suppressWildcard bool, subscribers *[]SubscriberInfo) {
	blockWildcard := suppressWildcard && depth == 0

	if !blockWildcard {
		if multiNode := node.children["#"]; multiNode != nil {
			*subscribers = append(*subscribers, multiNode.subscribers...)
			for _, group := range multiNode.sharedGroups {
				if sub, ok := group.NextSubscriber(); ok {
					*subscribers = append(*subscribers, sub)
				}
			}
		}
	}

	if depth == len(levels) {
		*subscribers = append(*subscribers, node.subscribers...)
		for _, group := range node.sharedGroups {
			if sub, ok := group.NextSubscriber(); ok {
				*subscribers = append(*subscribers, sub)
			}
		}
		return
	}

	level := levels[depth]

	if exactNode := node.children[level]; exactNode != nil {
		t.matchRecursive(exactNode, levels, depth+1, suppressWildcard, subscribers)
	}

	if !blockWildcard {
		if plusNode := node.children["+"]; plusNode != nil {
			t.matchRecursive(plusNode, levels, depth+1, suppressWildcard, subscribers)
		}
	}
}

func dedupeByClientID(subs []SubscriberInfo) []SubscriberInfo {
	seen := make(map[string]struct{}, len(subs))
	result := make([]SubscriberInfo, 0, len(subs))
	for _, sub := range subs {
		if _, ok := seen[sub.ClientID]; ok {
			continue
		}
		seen[sub.ClientID] = struct{}{}
		result = append(result, sub)
	}
	return result
}

// shouldPruneNode checks if a node should be removed (has no subscribers,
// shared groups, or children of its own)
func shouldPruneNode(node *trieNode) bool {
	return len(node.subscribers) == 0 && len(node.children) == 0 && len(node.sharedGroups) == 0
}

// Clear removes all subscriptions from the trie
func (t *Trie) Clear() {
	t.root = newTrieNode()
}

// Count returns the total number of subscriptions
func (t *Trie) Count() int {
	return countRecursive(t.root)
}

func countRecursive(node *trieNode) int {
	count := len(node.subscribers)
	for _, group := range node.sharedGroups {
		count += group.Size()
	}

	for _, child := range node.children {
		count += countRecursive(child)
	}

	return count
}
