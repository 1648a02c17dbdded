package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"luxmarket/core/events"
	"luxmarket/core/types"
)

const eventHistoryLimit = 2048

// EventUpdate is a committed event as delivered to stream subscribers.
// Cursor is the decimal sequence number, usable to resume a stream.
type EventUpdate struct {
	Sequence   uint64
	Cursor     string
	Type       string
	Attributes map[string]string
}

type typedEvent interface {
	Event() *types.Event
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if update.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

func (n *Node) publishStream(evt events.Event) {
	if n == nil || evt == nil {
		return
	}
	update := EventUpdate{Type: evt.EventType()}
	if typed, ok := evt.(typedEvent); ok {
		if converted := typed.Event(); converted != nil {
			update.Attributes = converted.Attributes
		}
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan EventUpdate)
	}
	n.streamSeq++
	update.Sequence = n.streamSeq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	n.streamHistory = append(n.streamHistory, cloneEventUpdate(update))
	if len(n.streamHistory) > eventHistoryLimit {
		excess := len(n.streamHistory) - eventHistoryLimit
		trimmed := make([]EventUpdate, eventHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	for _, ch := range n.streamSubs {
		select {
		case ch <- cloneEventUpdate(update):
		default:
		}
	}
	n.streamMu.Unlock()
}

// SubscribeEvents registers a subscriber for committed events after cursor.
// The returned backlog holds retained events newer than cursor; cancel
// detaches the subscriber and closes the channel. Slow subscribers miss
// updates rather than blocking commits.
func (n *Node) SubscribeEvents(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan EventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan EventUpdate)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	history := make([]EventUpdate, len(n.streamHistory))
	copy(history, n.streamHistory)
	n.streamMu.Unlock()

	backlog := make([]EventUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}

	var once sync.Once
	released := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(released)
			n.streamMu.Lock()
			sub, ok := n.streamSubs[id]
			if ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-released:
			}
		}()
	}

	return updates, cancel, backlog, nil
}
