// bus.go
//
// Package bus is a small in-process message bus with MQTT-style matching.
// Topics are slices of comparable tokens (strings, ints, ...), which lets
// capability addresses carry numeric ids without string formatting. Patterns
// may use "+" to match exactly one token and a trailing "#" to match zero or
// more remaining tokens. Messages published with Retained=true are stored
// and replayed to later subscribers; a retained publish with a nil payload
// clears the stored value.
//
// Delivery is best-effort: each subscription has a buffered channel and a
// publish never blocks, so a slow consumer loses messages rather than
// stalling the publisher.
package bus

import (
	"context"
	"sync"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// Token is a single element in a topic path. Any comparable value works;
// strings and small ints are the common cases.
type Token = any

// Topic is a sequence of tokens.
type Topic []Token

func (t Topic) Len() int       { return len(t) }
func (t Topic) At(i int) Token { return t[i] }

// T builds a Topic from its arguments. Tokens are used as trie keys, so a
// non-comparable token (slice, map, func) panics here, at construction,
// instead of later inside a publish.
func T(tokens ...Token) Topic {
	for _, tok := range tokens {
		_ = map[Token]struct{}{tok: {}}
	}
	return Topic(tokens)
}

const (
	wildOne = "+" // matches exactly one token
	wildAll = "#" // matches zero or more remaining tokens; terminal only
)

func isWild(tok Token, w string) bool {
	s, ok := tok.(string)
	return ok && s == w
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	// ReplyTo names the topic a responder should publish its reply on.
	// Request/RequestWait populate it when empty.
	ReplyTo Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	pattern Topic
	ch      chan *Message
	conn    *Connection
	closed  bool
}

func (s *Subscription) Pattern() Topic           { return s.pattern }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

// node is one level of the combined subscription/retained trie. Exact tokens
// hang off children; the "+" edge is separate so a publish can branch into
// it. Retained messages only ever live along exact-token paths.
type node struct {
	children map[Token]*node
	plus     *node
	subs     []*Subscription // patterns ending exactly here
	hash     []*Subscription // patterns ending in "#" at this level
	retained *Message
}

func newNode() *node { return &node{children: map[Token]*node{}} }

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu       sync.Mutex
	root     *node
	qLen     int
	replySeq int
}

// NewBus creates a new bus with the given per-subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{root: newNode(), qLen: queueLen}
}

// NewMessage builds a message without publishing it.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection is a named handle on the bus. The name is informational (it
// also seeds generated reply topics); every connection sees all traffic it
// subscribes to.
type Connection struct {
	bus  *Bus
	name string
}

func (b *Bus) NewConnection(name string) *Connection {
	return &Connection{bus: b, name: name}
}

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

// Subscribe registers a pattern and returns its subscription. Retained
// messages matching the pattern are queued before Subscribe returns.
func (c *Connection) Subscribe(pattern Topic) *Subscription {
	b := c.bus
	sub := &Subscription{pattern: pattern, ch: make(chan *Message, b.qLen), conn: c}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	attached := false
	for _, tok := range pattern {
		if isWild(tok, wildAll) {
			// "#" is terminal; anything after it would be unreachable.
			n.hash = append(n.hash, sub)
			attached = true
			break
		}
		if isWild(tok, wildOne) {
			if n.plus == nil {
				n.plus = newNode()
			}
			n = n.plus
			continue
		}
		child, ok := n.children[tok]
		if !ok {
			child = newNode()
			n.children[tok] = child
		}
		n = child
	}
	if !attached {
		n.subs = append(n.subs, sub)
	}

	b.collectRetained(b.root, pattern, 0, sub)
	return sub
}

// Unsubscribe detaches the subscription and closes its channel.
func (c *Connection) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	detach(b.root, sub.pattern, 0, sub)
	sub.closed = true
	close(sub.ch)
}

func detach(n *node, pattern Topic, i int, sub *Subscription) {
	if n == nil {
		return
	}
	if i == len(pattern) {
		n.subs = removeSub(n.subs, sub)
		return
	}
	tok := pattern[i]
	switch {
	case isWild(tok, wildAll):
		n.hash = removeSub(n.hash, sub)
	case isWild(tok, wildOne):
		detach(n.plus, pattern, i+1, sub)
	default:
		detach(n.children[tok], pattern, i+1, sub)
	}
}

func removeSub(list []*Subscription, sub *Subscription) []*Subscription {
	for i, s := range list {
		if s == sub {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// -----------------------------------------------------------------------------
// Publish + matching
// -----------------------------------------------------------------------------

// Publish delivers msg to every matching subscription and, when Retained is
// set, updates stored retained state first.
func (c *Connection) Publish(msg *Message) { c.bus.publish(msg) }

func (b *Bus) publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		b.setRetained(msg)
	}
	match(b.root, msg.Topic, 0, msg)
}

func match(n *node, t Topic, i int, msg *Message) {
	if n == nil {
		return
	}
	// "#" at this level matches the remaining suffix, including an empty one.
	for _, s := range n.hash {
		deliver(s, msg)
	}
	if i == len(t) {
		for _, s := range n.subs {
			deliver(s, msg)
		}
		return
	}
	if child, ok := n.children[t[i]]; ok {
		match(child, t, i+1, msg)
	}
	match(n.plus, t, i+1, msg)
}

func deliver(s *Subscription, msg *Message) {
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// Queue full: drop rather than block the publisher.
	}
}

// -----------------------------------------------------------------------------
// Retained state
// -----------------------------------------------------------------------------

func (b *Bus) setRetained(msg *Message) {
	n := b.root
	for _, tok := range msg.Topic {
		child, ok := n.children[tok]
		if !ok {
			if msg.Payload == nil {
				return // clearing something never stored
			}
			child = newNode()
			n.children[tok] = child
		}
		n = child
	}
	if msg.Payload == nil {
		n.retained = nil
		return
	}
	n.retained = msg
}

func (b *Bus) collectRetained(n *node, pattern Topic, i int, sub *Subscription) {
	if n == nil {
		return
	}
	if i == len(pattern) {
		if n.retained != nil {
			deliver(sub, n.retained)
		}
		return
	}
	tok := pattern[i]
	switch {
	case isWild(tok, wildAll):
		b.collectSubtree(n, sub)
	case isWild(tok, wildOne):
		for _, child := range n.children {
			b.collectRetained(child, pattern, i+1, sub)
		}
	default:
		b.collectRetained(n.children[tok], pattern, i+1, sub)
	}
}

func (b *Bus) collectSubtree(n *node, sub *Subscription) {
	if n.retained != nil {
		deliver(sub, n.retained)
	}
	for _, child := range n.children {
		b.collectSubtree(child, sub)
	}
}

// -----------------------------------------------------------------------------
// Request / reply
// -----------------------------------------------------------------------------

// Request publishes msg with a generated ReplyTo topic and returns a
// subscription on that topic. The caller owns the subscription and must
// Unsubscribe it when done.
func (c *Connection) Request(msg *Message) *Subscription {
	if len(msg.ReplyTo) == 0 {
		b := c.bus
		b.mu.Lock()
		b.replySeq++
		seq := b.replySeq
		b.mu.Unlock()
		msg.ReplyTo = Topic{"$reply", c.name, seq}
	}
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait performs Request and blocks for a single reply or context
// expiry. The request's ReplyTo field is left populated for inspection.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case reply, ok := <-sub.Channel():
		if !ok {
			return nil, ctx.Err()
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply publishes a response on req.ReplyTo. A request without a ReplyTo is
// ignored, so handlers can call Reply unconditionally.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if len(req.ReplyTo) == 0 {
		return
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
}
