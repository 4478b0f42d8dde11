// Package registry implements the subscription index: which connections
// hold which patterns, and which connections match a given topic.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/rickgao/eventrouter/internal/topic"
)

// DefaultShards is the number of index and connection shards.
const DefaultShards = 16

// Registry is a sharded segment trie of subscription patterns.
//
// Patterns whose first segment is a literal live in the shard chosen by
// hashing that segment. Patterns starting with a wildcard live in a
// separate wild shard that every match consults. Lock order is always
// connection shard, then index shard.
type Registry struct {
	index []*indexShard
	wild  *indexShard
	conns []*connShard
}

type indexShard struct {
	mu   sync.RWMutex
	root *node
	n    int // patterns stored
}

type connShard struct {
	mu sync.Mutex
	m  map[string]map[string]struct{} // conn id -> patterns
}

type node struct {
	children map[string]*node
	single   *node               // "*" edge
	multi    map[string]struct{} // subscribers of "<prefix>.**"
	subs     map[string]struct{} // subscribers of the exact prefix
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (n *node) empty() bool {
	return len(n.children) == 0 && n.single == nil && len(n.multi) == 0 && len(n.subs) == 0
}

// New creates a registry with the given number of shards (DefaultShards if <= 0).
func New(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{
		index: make([]*indexShard, shards),
		wild:  &indexShard{root: newNode()},
		conns: make([]*connShard, shards),
	}
	for i := range r.index {
		r.index[i] = &indexShard{root: newNode()}
		r.conns[i] = &connShard{m: make(map[string]map[string]struct{})}
	}
	return r
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func (r *Registry) connShard(id string) *connShard {
	return r.conns[hash(id)%uint32(len(r.conns))]
}

func (r *Registry) shardFor(first string) *indexShard {
	if topic.IsWildcard(first) {
		return r.wild
	}
	return r.index[hash(first)%uint32(len(r.index))]
}

// Add subscribes connection id to pattern. Re-adding an existing pattern
// is a no-op and returns false.
func (r *Registry) Add(id, pattern string) (bool, error) {
	if err := topic.ValidatePattern(pattern); err != nil {
		return false, err
	}

	cs := r.connShard(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	set := cs.m[id]
	if _, ok := set[pattern]; ok {
		return false, nil
	}
	if set == nil {
		set = make(map[string]struct{})
		cs.m[id] = set
	}
	set[pattern] = struct{}{}

	segs := topic.Split(pattern)
	s := r.shardFor(segs[0])
	s.mu.Lock()
	insert(s.root, segs, id)
	s.n++
	s.mu.Unlock()
	return true, nil
}

// Remove unsubscribes connection id from pattern. It reports whether the
// pattern was present.
func (r *Registry) Remove(id, pattern string) bool {
	cs := r.connShard(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	set := cs.m[id]
	if _, ok := set[pattern]; !ok {
		return false
	}
	delete(set, pattern)
	if len(set) == 0 {
		delete(cs.m, id)
	}
	r.removeIndexed(id, pattern)
	return true
}

// RemoveAll drops every pattern held by id and returns how many were removed.
// The connection shard stays locked for the whole removal, so no concurrent
// Add for id can interleave.
func (r *Registry) RemoveAll(id string) int {
	cs := r.connShard(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	set := cs.m[id]
	for p := range set {
		r.removeIndexed(id, p)
	}
	delete(cs.m, id)
	return len(set)
}

func (r *Registry) removeIndexed(id, pattern string) {
	segs := topic.Split(pattern)
	s := r.shardFor(segs[0])
	s.mu.Lock()
	if remove(s.root, segs, id) {
		s.n--
	}
	s.mu.Unlock()
}

// Patterns returns the patterns held by id.
func (r *Registry) Patterns(id string) []string {
	cs := r.connShard(id)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	set := cs.m[id]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// Match returns the de-duplicated connection ids with at least one pattern
// matching t. Order is unspecified.
func (r *Registry) Match(t string) []string {
	segs := topic.Split(t)
	seen := make(map[string]struct{})

	s := r.shardFor(segs[0])
	s.mu.RLock()
	collect(s.root, segs, seen)
	s.mu.RUnlock()

	r.wild.mu.RLock()
	collect(r.wild.root, segs, seen)
	r.wild.mu.RUnlock()

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections  int `json:"connections"` // connections holding at least one pattern
	Patterns     int `json:"patterns"`    // (connection, pattern) pairs
	WildPatterns int `json:"wild_patterns"`
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	var st Stats
	for _, cs := range r.conns {
		cs.mu.Lock()
		st.Connections += len(cs.m)
		cs.mu.Unlock()
	}
	for _, s := range r.index {
		s.mu.RLock()
		st.Patterns += s.n
		s.mu.RUnlock()
	}
	r.wild.mu.RLock()
	st.WildPatterns = r.wild.n
	r.wild.mu.RUnlock()
	st.Patterns += st.WildPatterns
	return st
}

// -----------------------------------------------------------------------------
// Trie operations (caller holds the shard lock)
// -----------------------------------------------------------------------------

func insert(n *node, segs []string, id string) {
	for _, seg := range segs {
		switch seg {
		case topic.MultiWildcard:
			if n.multi == nil {
				n.multi = make(map[string]struct{})
			}
			n.multi[id] = struct{}{}
			return
		case topic.SingleWildcard:
			if n.single == nil {
				n.single = newNode()
			}
			n = n.single
		default:
			child, ok := n.children[seg]
			if !ok {
				child = newNode()
				n.children[seg] = child
			}
			n = child
		}
	}
	if n.subs == nil {
		n.subs = make(map[string]struct{})
	}
	n.subs[id] = struct{}{}
}

// remove deletes id at segs and prunes empty nodes on the way back up.
func remove(n *node, segs []string, id string) bool {
	if len(segs) == 0 {
		_, ok := n.subs[id]
		delete(n.subs, id)
		return ok
	}
	seg := segs[0]
	switch seg {
	case topic.MultiWildcard:
		_, ok := n.multi[id]
		delete(n.multi, id)
		return ok
	case topic.SingleWildcard:
		if n.single == nil {
			return false
		}
		ok := remove(n.single, segs[1:], id)
		if n.single.empty() {
			n.single = nil
		}
		return ok
	default:
		child, exists := n.children[seg]
		if !exists {
			return false
		}
		ok := remove(child, segs[1:], id)
		if child.empty() {
			delete(n.children, seg)
		}
		return ok
	}
}

func collect(n *node, segs []string, seen map[string]struct{}) {
	for id := range n.multi {
		seen[id] = struct{}{}
	}
	if len(segs) == 0 {
		for id := range n.subs {
			seen[id] = struct{}{}
		}
		return
	}
	if child, ok := n.children[segs[0]]; ok {
		collect(child, segs[1:], seen)
	}
	if n.single != nil {
		collect(n.single, segs[1:], seen)
	}
}
