package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"resumerag/model"
	"resumerag/types"
)

// MaxTurns is the number of exchanges a conversation remembers.
const MaxTurns = 5

// Conversation is the bounded question/answer history of one session.
type Conversation struct {
	mu    sync.Mutex
	turns []types.Turn
}

// Append keeps the last MaxTurns-1 turns and adds the new one.
func (c *Conversation) Append(question, answer string, class types.Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) > MaxTurns-1 {
		c.turns = append([]types.Turn(nil), c.turns[len(c.turns)-(MaxTurns-1):]...)
	}
	c.turns = append(c.turns, types.Turn{Question: question, Answer: answer, Classification: class})
}

// Turns returns a copy of the history, oldest first.
func (c *Conversation) Turns() []types.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Turn(nil), c.turns...)
}

// Messages renders the history as chat messages.
func (c *Conversation) Messages() []model.ChatMessage {
	turns := c.Turns()
	out := make([]model.ChatMessage, 0, 2*len(turns))
	for _, t := range turns {
		out = append(out,
			model.ChatMessage{Role: "user", Content: t.Question},
			model.ChatMessage{Role: "assistant", Content: t.Answer},
		)
	}
	return out
}

// Sessions holds one Conversation per session id. Conversations idle for
// longer than the TTL are dropped by Sweep, and once max sessions are held
// the least recently used one makes room for a new id.
type Sessions struct {
	mu    sync.Mutex
	convs map[string]*session
	ttl   time.Duration
	max   int
	now   func() time.Time
}

type session struct {
	conv     *Conversation
	lastSeen time.Time
}

// NewSessions returns an empty store. A zero ttl or max disables that bound.
func NewSessions(ttl time.Duration, max int) *Sessions {
	return &Sessions{
		convs: make(map[string]*session),
		ttl:   ttl,
		max:   max,
		now:   time.Now,
	}
}

// Get returns the conversation of id, creating it when missing, and marks it
// as used.
func (s *Sessions) Get(id string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.convs[id]; ok {
		e.lastSeen = now
		return e.conv
	}
	if s.max > 0 && len(s.convs) >= s.max {
		s.evictOldest()
	}
	e := &session{conv: &Conversation{}, lastSeen: now}
	s.convs[id] = e
	return e.conv
}

func (s *Sessions) evictOldest() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range s.convs {
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	delete(s.convs, oldestID)
}

// Sweep drops the conversations idle for longer than the TTL and returns how
// many were dropped.
func (s *Sessions) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	dropped := 0
	for id, e := range s.convs {
		if e.lastSeen.Before(cutoff) {
			delete(s.convs, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("[SESSIONS] dropped %d idle sessions", n)
			}
		}
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
