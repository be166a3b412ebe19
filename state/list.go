package state

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/streamchat/core"
)

// Summary is one entry of the local conversation list.
type Summary struct {
	ID        string
	Title     string
	UpdatedAt time.Time
	Record    *core.Conversation
}

// List is the local conversation list. Like Store it is a single-owner
// actor, so the controller and the change-feed reconciler never race on it.
type List struct {
	mailbox   chan func()
	done      chan struct{}
	closeOnce sync.Once

	items map[string]*core.Conversation
}

// NewList starts an empty list actor.
func NewList() *List {
	l := &List{mailbox: make(chan func()), done: make(chan struct{}), items: map[string]*core.Conversation{}}
	go func() {
		for {
			select {
			case fn := <-l.mailbox:
				fn()
			case <-l.done:
				return
			}
		}
	}()
	return l
}

// Close stops the actor.
func (l *List) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *List) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case l.mailbox <- func() { fn(); close(finished) }:
	case <-l.done:
		return core.ErrClosed
	}
	<-finished
	return nil
}

// Upsert replaces the entry for conv.ID wholesale.
func (l *List) Upsert(conv *core.Conversation) error {
	c := conv.Clone()
	return l.do(func() { l.items[c.ID] = c })
}

// Remove drops the entry for id. It reports whether an entry was present;
// removing an absent id is a no-op.
func (l *List) Remove(id string) (bool, error) {
	var removed bool
	err := l.do(func() {
		_, removed = l.items[id]
		delete(l.items, id)
	})
	return removed, err
}

// Reset replaces the whole list.
func (l *List) Reset(convs []*core.Conversation) error {
	fresh := make(map[string]*core.Conversation, len(convs))
	for _, c := range convs {
		fresh[c.ID] = c.Clone()
	}
	return l.do(func() { l.items = fresh })
}

// Get returns a copy of the entry for id, or nil.
func (l *List) Get(id string) (*core.Conversation, error) {
	var out *core.Conversation
	err := l.do(func() { out = l.items[id].Clone() })
	return out, err
}

// Items returns the list sorted by UpdatedAt, newest first.
func (l *List) Items() ([]Summary, error) {
	var out []Summary
	err := l.do(func() {
		out = make([]Summary, 0, len(l.items))
		for _, c := range l.items {
			out = append(out, Summary{ID: c.ID, Title: c.Title(), UpdatedAt: c.UpdatedAt, Record: c.Clone()})
		}
	})
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, err
}
