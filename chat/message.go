// Package chat holds conversation state and drives streaming exchanges
// against it.
package chat

import (
	"strings"
	"sync"

	"github.com/vinayprograms/ollamakit/ollama"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation. Mutators never notify on their
// own; whoever mutates calls Refresh once the message is consistent.
type Message struct {
	mu      sync.RWMutex
	role    Role
	content string
	hidden  bool
	refresh func(*Message)
}

// NewMessage creates a visible message.
func NewMessage(role Role, content string) *Message {
	return &Message{role: role, content: content}
}

func (m *Message) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

func (m *Message) Content() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.content
}

// Hidden reports whether the message is left out of request payloads.
func (m *Message) Hidden() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hidden
}

func (m *Message) SetRole(role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.role = role
}

func (m *Message) SetContent(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
}

// Append adds a fragment to the content.
func (m *Message) Append(fragment string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content += fragment
}

func (m *Message) SetHidden(hidden bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = hidden
}

// OnRefresh sets the hook Refresh calls. A nil hook disables it.
func (m *Message) OnRefresh(fn func(*Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh = fn
}

// Refresh tells the presentation layer the message changed.
func (m *Message) Refresh() {
	m.mu.RLock()
	fn := m.refresh
	m.mu.RUnlock()
	if fn != nil {
		fn(m)
	}
}

// Label is the display heading, e.g. "Assistant" or "User (hidden)".
func (m *Message) Label() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	label := string(m.role)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	if m.hidden {
		label += " (hidden)"
	}
	return label
}

// Dump returns the wire form of the message.
func (m *Message) Dump() ollama.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ollama.Message{Role: string(m.role), Content: m.content}
}

// History is an ordered conversation.
type History struct {
	mu       sync.RWMutex
	messages []*Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Add appends messages.
func (h *History) Add(msgs ...*Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// Remove drops the given messages.
func (h *History) Remove(msgs ...*Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.messages[:0]
	for _, m := range h.messages {
		if !contains(msgs, m) {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(h.messages); i++ {
		h.messages[i] = nil
	}
	h.messages = kept
}

// Clear drops every message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Messages returns a copy of the message list.
func (h *History) Messages() []*Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*Message(nil), h.messages...)
}

// Dump returns the wire form of every visible message except those in
// exclude.
func (h *History) Dump(exclude ...*Message) []ollama.Message {
	return h.dump(false, exclude)
}

// DumpAll is Dump including hidden messages.
func (h *History) DumpAll(exclude ...*Message) []ollama.Message {
	return h.dump(true, exclude)
}

func (h *History) dump(includeHidden bool, exclude []*Message) []ollama.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ollama.Message, 0, len(h.messages))
	for _, m := range h.messages {
		if contains(exclude, m) {
			continue
		}
		if !includeHidden && m.Hidden() {
			continue
		}
		out = append(out, m.Dump())
	}
	return out
}

func contains(msgs []*Message, m *Message) bool {
	for _, x := range msgs {
		if x == m {
			return true
		}
	}
	return false
}
