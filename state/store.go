// Package state holds the local authority for conversation transcripts.
//
// Store owns the ordered message list of one open conversation together with
// the in-flight assistant placeholder. List owns the local conversation list.
// Both are single-owner actors: one goroutine applies every mutation, callers
// reach it only through the exported methods, which post a closure to the
// actor's mailbox and wait for its result.
package state

import (
	"slices"
	"sync"

	"github.com/hupe1980/streamchat/core"
)

// Token identifies one placeholder. A token is superseded as soon as a later
// placeholder is created or the store is cleared.
type Token uint64

type inFlight struct {
	token       Token
	user        core.Message
	hasUser     bool
	assistant   core.Message
	metadataSet bool
}

// View is an immutable snapshot of a Store.
type View struct {
	ConversationID string
	Phase          core.SessionPhase
	Messages       []core.Message
	Unsynced       bool
	InFlight       bool
}

// Store is the Session State Store of one open conversation.
type Store struct {
	mailbox   chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the actor goroutine.
	conversationID string
	messages       []core.Message
	phase          core.SessionPhase
	generation     Token
	pending        *inFlight
	lastUser       *core.Message
	unsynced       bool
	// local lists, in append order, the ids of messages appended since the
	// last acknowledged commit.
	local []string
}

// NewStore starts an actor for conversationID ("" for a brand new
// conversation) seeded with history.
func NewStore(conversationID string, history []core.Message) *Store {
	s := &Store{
		mailbox:        make(chan func()),
		done:           make(chan struct{}),
		conversationID: conversationID,
		messages:       core.CloneMessages(history),
	}
	go s.loop()
	return s
}

func (s *Store) loop() {
	for {
		select {
		case fn := <-s.mailbox:
			fn()
		case <-s.done:
			return
		}
	}
}

// Close stops the actor. Further calls return core.ErrClosed.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func call[T any](s *Store, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	reply := make(chan result, 1)
	op := func() {
		v, err := fn()
		reply <- result{v, err}
	}

	var zero T
	select {
	case s.mailbox <- op:
	case <-s.done:
		return zero, core.ErrClosed
	}
	r := <-reply
	return r.v, r.err
}

func exec(s *Store, fn func() error) error {
	_, err := call(s, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Begin moves an idle store to Sending. It fails with core.ErrSessionBusy
// when another exchange is in flight.
func (s *Store) Begin() error {
	return exec(s, func() error {
		if s.phase != core.PhaseIdle || s.pending != nil {
			return core.ErrSessionBusy
		}
		s.phase = core.PhaseSending
		return nil
	})
}

// SetPhase records a phase transition and returns the previous phase.
func (s *Store) SetPhase(p core.SessionPhase) (core.SessionPhase, error) {
	return call(s, func() (core.SessionPhase, error) {
		prev := s.phase
		s.phase = p
		return prev, nil
	})
}

// Phase returns the current phase.
func (s *Store) Phase() (core.SessionPhase, error) {
	return call(s, func() (core.SessionPhase, error) { return s.phase, nil })
}

// AppendUser appends a user message.
func (s *Store) AppendUser(msg core.Message) error {
	return exec(s, func() error {
		msg = msg.Clone()
		msg.Role = core.RoleUser
		s.messages = append(s.messages, msg)
		s.lastUser = &msg
		s.local = append(s.local, msg.ID)
		return nil
	})
}

// AppendAssistantPlaceholder appends an empty assistant message, pairs it
// with the user message appended just before and returns its token.
// Any earlier token becomes stale.
func (s *Store) AppendAssistantPlaceholder() (Token, error) {
	return call(s, func() (Token, error) {
		s.generation++
		p := &inFlight{token: s.generation, assistant: core.NewAssistantMessage()}
		if s.lastUser != nil {
			p.user = *s.lastUser
			p.hasUser = true
			s.lastUser = nil
		}
		s.pending = p
		s.messages = append(s.messages, p.assistant.Clone())
		s.local = append(s.local, p.assistant.ID)
		return p.token, nil
	})
}

// current returns the placeholder for tok or core.ErrStaleToken.
func (s *Store) current(tok Token) (*inFlight, int, error) {
	if s.pending == nil || s.pending.token != tok {
		return nil, -1, core.ErrStaleToken
	}
	idx := s.indexOf(s.pending.assistant.ID)
	if idx < 0 {
		return nil, -1, core.ErrStaleToken
	}
	return s.pending, idx, nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.messages, func(m core.Message) bool { return m.ID == id })
}

// AppendDelta appends text to the placeholder identified by tok.
func (s *Store) AppendDelta(tok Token, text string) error {
	return exec(s, func() error {
		_, idx, err := s.current(tok)
		if err != nil {
			return err
		}
		s.messages[idx].Content.Text += text
		return nil
	})
}

// SetMetadata attaches concepts and references to the placeholder. It can
// only succeed once per placeholder.
func (s *Store) SetMetadata(tok Token, concepts []core.Concept, references []core.Reference) error {
	return exec(s, func() error {
		p, idx, err := s.current(tok)
		if err != nil {
			return err
		}
		if p.metadataSet {
			return core.ErrMetadataAlreadySet
		}
		p.metadataSet = true
		s.messages[idx].Content.Concepts = slices.Clone(concepts)
		s.messages[idx].Content.References = slices.Clone(references)
		return nil
	})
}

// Finalize freezes the placeholder and returns the finished message.
func (s *Store) Finalize(tok Token) (core.Message, error) {
	return call(s, func() (core.Message, error) {
		_, idx, err := s.current(tok)
		if err != nil {
			return core.Message{}, err
		}
		s.pending = nil
		return s.messages[idx].Clone(), nil
	})
}

// Rollback removes the placeholder and its paired user message, restoring
// the transcript to its state before the submission.
func (s *Store) Rollback(tok Token) error {
	return exec(s, func() error {
		p, _, err := s.current(tok)
		if err != nil {
			return err
		}
		s.pending = nil
		drop := func(id string) bool { return id == p.assistant.ID || (p.hasUser && id == p.user.ID) }
		s.messages = slices.DeleteFunc(s.messages, func(m core.Message) bool { return drop(m.ID) })
		s.local = slices.DeleteFunc(s.local, drop)
		return nil
	})
}

// Messages returns a copy of the transcript.
func (s *Store) Messages() ([]core.Message, error) {
	return call(s, func() ([]core.Message, error) { return core.CloneMessages(s.messages), nil })
}

// ConversationID returns the store-assigned id, or "" before the first commit.
func (s *Store) ConversationID() (string, error) {
	return call(s, func() (string, error) { return s.conversationID, nil })
}

// SetConversationID records the store-assigned id. Once set the id cannot
// change.
func (s *Store) SetConversationID(id string) error {
	return exec(s, func() error {
		if s.conversationID != "" && s.conversationID != id {
			return core.ErrConversationIDImmutable
		}
		s.conversationID = id
		return nil
	})
}

// Replace overwrites the transcript with a remote record. Messages appended
// locally since the last acknowledged commit are kept at the tail when the
// record lacks them, so an in-flight or uncommitted exchange is not lost to a
// stale echo.
func (s *Store) Replace(conv *core.Conversation) error {
	return exec(s, func() error {
		if s.conversationID != "" && conv.ID != s.conversationID {
			return core.ErrConversationIDImmutable
		}
		s.conversationID = conv.ID
		msgs := core.CloneMessages(conv.Messages)
		for _, id := range s.local {
			if slices.ContainsFunc(msgs, func(m core.Message) bool { return m.ID == id }) {
				continue
			}
			if idx := s.indexOf(id); idx >= 0 {
				msgs = append(msgs, s.messages[idx].Clone())
			}
		}
		s.messages = msgs
		return nil
	})
}

// Clear empties the store and returns it to Idle. Any placeholder token
// becomes stale.
func (s *Store) Clear() error {
	return exec(s, func() error {
		s.conversationID = ""
		s.messages = nil
		s.pending = nil
		s.lastUser = nil
		s.local = nil
		s.unsynced = false
		s.phase = core.PhaseIdle
		return nil
	})
}

// MarkUnsynced flags whether the transcript differs from the durable store.
func (s *Store) MarkUnsynced(unsynced bool) error {
	return exec(s, func() error {
		s.unsynced = unsynced
		return nil
	})
}

// Acknowledge records that committed reached the durable store. Those
// messages stop being local-only and the unsynced flag clears.
func (s *Store) Acknowledge(committed []core.Message) error {
	return exec(s, func() error {
		s.local = slices.DeleteFunc(s.local, func(id string) bool {
			return slices.ContainsFunc(committed, func(m core.Message) bool { return m.ID == id })
		})
		s.unsynced = false
		return nil
	})
}

// Snapshot returns an immutable view of the store.
func (s *Store) Snapshot() (View, error) {
	return call(s, func() (View, error) {
		return View{
			ConversationID: s.conversationID,
			Phase:          s.phase,
			Messages:       core.CloneMessages(s.messages),
			Unsynced:       s.unsynced,
			InFlight:       s.pending != nil,
		}, nil
	})
}
