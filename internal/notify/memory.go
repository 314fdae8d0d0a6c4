package notify

import (
	"context"
	"fmt"
	"sync"
)

// Memory records sends and edits in process. Used by tests and as the
// default when no channel endpoints are configured.
type Memory struct {
	mu    sync.Mutex
	seq   int
	sent  []Sent
	edits map[MessageRef]Message
}

type Sent struct {
	Ref     MessageRef
	Message Message
}

func NewMemory() *Memory {
	return &Memory{edits: make(map[MessageRef]Message)}
}

func (m *Memory) Send(_ context.Context, msg Message) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ref := MessageRef(fmt.Sprintf("mem-%d", m.seq))
	m.sent = append(m.sent, Sent{Ref: ref, Message: msg})
	return ref, nil
}

func (m *Memory) Edit(_ context.Context, ref MessageRef, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits[ref] = msg
	return nil
}

// ByChannel returns all recorded sends for a channel.
func (m *Memory) ByChannel(ch Channel) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Sent
	for _, s := range m.sent {
		if s.Message.Channel == ch {
			res = append(res, s)
		}
	}
	return res
}

// EditOf returns the latest edit applied to ref, if any.
func (m *Memory) EditOf(ref MessageRef) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.edits[ref]
	return msg, ok
}

// Reset clears all recorded traffic.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.edits = make(map[MessageRef]Message)
	m.seq = 0
}
