package broker

import (
	"strings"
	"sync"

	"github.com/pyr33x/goqtt/internal/packet"
)

// Subscription is one (session, filter) pairing stored at a trie leaf.
type Subscription struct {
	ClientID              string
	Filter                string
	QoS                   packet.QoSLevel
	NoLocal               bool
	RetainAsPublished     bool
	SubscriptionID        uint32
	ShareGroup            string // empty for a non-shared subscription
}

// trieNode is one level of the '/'-split topic trie. Ordinary children are
// keyed by literal level name; '+' and '#' get dedicated pointers so lookup
// never has to special-case wildcard characters against a map key.
type trieNode struct {
	children map[string]*trieNode
	plus     *trieNode
	hash     *trieNode

	subs map[string]*Subscription // clientID -> subscription, this exact filter

	// shareGroups holds shared-subscription members for this filter,
	// grouped by share-group name, for round-robin delivery selection.
	shareGroups map[string][]*Subscription
	rrIndex     map[string]int
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// SubscriptionTree is the broker's topic matcher: a trie over '/'-separated
// topic levels supporting '+' (single-level) and '#' (multi-level, terminal
// only) wildcards, with `$`-prefixed topics (e.g. `$SYS/...`) isolated from
// bare '+'/'#' subscriptions at the root per spec.md §4.2.
type SubscriptionTree struct {
	root   *trieNode
	dollar *trieNode // subtree rooted at any "$..." top level
	mu     sync.RWMutex
}

func NewSubscriptionTree() *SubscriptionTree {
	return &SubscriptionTree{
		root:   newTrieNode(),
		dollar: newTrieNode(),
	}
}

func splitLevels(topic string) []string {
	return strings.Split(topic, "/")
}

// Subscribe inserts or replaces clientID's subscription to filter.
func (t *SubscriptionTree) Subscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, tail, isShared := packet.SplitShareFilter(sub.Filter)
	matchFilter := sub.Filter
	if isShared {
		matchFilter = tail
	}

	levels := splitLevels(matchFilter)
	node := t.rootFor(levels)
	for _, lvl := range levels {
		node = node.child(lvl)
	}

	if isShared {
		if node.shareGroups == nil {
			node.shareGroups = make(map[string][]*Subscription)
			node.rrIndex = make(map[string]int)
		}
		members := node.shareGroups[group]
		for i, m := range members {
			if m.ClientID == sub.ClientID {
				members[i] = sub
				return
			}
		}
		node.shareGroups[group] = append(members, sub)
		return
	}

	if node.subs == nil {
		node.subs = make(map[string]*Subscription)
	}
	node.subs[sub.ClientID] = sub
}

func (t *SubscriptionTree) rootFor(levels []string) *trieNode {
	if len(levels) > 0 && strings.HasPrefix(levels[0], "$") {
		return t.dollar
	}
	return t.root
}

func (n *trieNode) child(level string) *trieNode {
	switch level {
	case "+":
		if n.plus == nil {
			n.plus = newTrieNode()
		}
		return n.plus
	case "#":
		if n.hash == nil {
			n.hash = newTrieNode()
		}
		return n.hash
	default:
		c, ok := n.children[level]
		if !ok {
			c = newTrieNode()
			n.children[level] = c
		}
		return c
	}
}

// Unsubscribe removes clientID's subscription to filter, if any.
func (t *SubscriptionTree) Unsubscribe(clientID, filter string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	group, tail, isShared := packet.SplitShareFilter(filter)
	matchFilter := filter
	if isShared {
		matchFilter = tail
	}

	levels := splitLevels(matchFilter)
	node := t.rootFor(levels)
	for _, lvl := range levels {
		var next *trieNode
		switch lvl {
		case "+":
			next = node.plus
		case "#":
			next = node.hash
		default:
			next = node.children[lvl]
		}
		if next == nil {
			return
		}
		node = next
	}

	if isShared {
		members := node.shareGroups[group]
		for i, m := range members {
			if m.ClientID == clientID {
				node.shareGroups[group] = append(members[:i], members[i+1:]...)
				break
			}
		}
		return
	}
	delete(node.subs, clientID)
}

// UnsubscribeAll removes every subscription belonging to clientID. Used on
// session close (clean session) or session expiry.
func (t *SubscriptionTree) UnsubscribeAll(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removeClientFromNode(t.root, clientID)
	removeClientFromNode(t.dollar, clientID)
}

func removeClientFromNode(n *trieNode, clientID string) {
	if n == nil {
		return
	}
	delete(n.subs, clientID)
	for group, members := range n.shareGroups {
		for i, m := range members {
			if m.ClientID == clientID {
				n.shareGroups[group] = append(members[:i], members[i+1:]...)
				break
			}
		}
	}
	for _, c := range n.children {
		removeClientFromNode(c, clientID)
	}
	removeClientFromNode(n.plus, clientID)
	removeClientFromNode(n.hash, clientID)
}

// Match returns every subscription whose filter matches topic: all ordinary
// matches, plus exactly one representative per matched shared-subscription
// group (round-robin among that group's members) per spec.md §4.2.
func (t *SubscriptionTree) Match(topic string) []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := splitLevels(topic)
	var out []*Subscription
	root := t.root
	if len(levels) > 0 && strings.HasPrefix(levels[0], "$") {
		root = t.dollar
	}
	matchNode(root, levels, root == t.dollar, &out)
	return out
}

func matchNode(n *trieNode, levels []string, dollarIsolated bool, out *[]*Subscription) {
	if n == nil {
		return
	}

	if len(levels) == 0 {
		collect(n, out)
		if n.hash != nil {
			// '#' also matches the parent level itself (zero remaining levels).
			collect(n.hash, out)
		}
		return
	}

	head, rest := levels[0], levels[1:]

	if c, ok := n.children[head]; ok {
		matchNode(c, rest, false, out)
	}

	// '+' never matches a level starting with '$' when that level is the
	// subscription's first level (isolation is enforced by routing to the
	// dollar subtree only for '$'-prefixed topics; a bare '+' subtree is
	// never reached from there because the dollar root has no plus/hash
	// unless explicitly subscribed under "$SYS/+" style filters, which is
	// legal once already inside the dollar namespace).
	if n.plus != nil {
		matchNode(n.plus, rest, false, out)
	}

	if n.hash != nil {
		// '#' matches all of the one or more remaining levels.
		collect(n.hash, out)
	}
}

func collect(n *trieNode, out *[]*Subscription) {
	for _, s := range n.subs {
		*out = append(*out, s)
	}
	for group, members := range n.shareGroups {
		if len(members) == 0 {
			continue
		}
		if n.rrIndex == nil {
			n.rrIndex = make(map[string]int)
		}
		idx := n.rrIndex[group] % len(members)
		n.rrIndex[group] = idx + 1
		*out = append(*out, members[idx])
	}
}

// GetSubscriptions returns every subscription belonging to clientID.
func (t *SubscriptionTree) GetSubscriptions(clientID string) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Subscription
	collectClient(t.root, clientID, &out)
	collectClient(t.dollar, clientID, &out)
	return out
}

func collectClient(n *trieNode, clientID string, out *[]*Subscription) {
	if n == nil {
		return
	}
	if s, ok := n.subs[clientID]; ok {
		*out = append(*out, s)
	}
	for _, members := range n.shareGroups {
		for _, m := range members {
			if m.ClientID == clientID {
				*out = append(*out, m)
			}
		}
	}
	for _, c := range n.children {
		collectClient(c, clientID, out)
	}
	collectClient(n.plus, clientID, out)
	collectClient(n.hash, clientID, out)
}

// Count returns the total number of individual subscriptions in the tree.
func (t *SubscriptionTree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return countNode(t.root) + countNode(t.dollar)
}

func countNode(n *trieNode) int {
	if n == nil {
		return 0
	}
	total := len(n.subs)
	for _, members := range n.shareGroups {
		total += len(members)
	}
	for _, c := range n.children {
		total += countNode(c)
	}
	total += countNode(n.plus)
	total += countNode(n.hash)
	return total
}
