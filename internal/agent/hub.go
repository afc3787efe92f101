package agent

import (
	"log/slog"
	"sync"

	"github.com/paseohq/paseo/pkg/protocol"
)

const minSubscriberQueue = 256

// Hub fans agent events out to session subscribers. Every subscriber gets
// a bounded queue; a subscriber that stops draining is dropped (its channel
// closed) rather than ever blocking the producing run.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu   sync.Mutex
	subs map[string]*eventSub
}

type eventSub struct {
	id      string
	agentID string // empty subscribes to all agents
	ch      chan protocol.AgentEvent
}

func NewHub(queueSize int, logger *slog.Logger) *Hub {
	if queueSize < minSubscriberQueue {
		queueSize = minSubscriberQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, queueSize: queueSize, subs: make(map[string]*eventSub)}
}

// Subscribe registers a subscriber for one agent's events (or all agents
// when agentID is empty). The channel closes when the subscriber is dropped
// or unsubscribed.
func (h *Hub) Subscribe(subID, agentID string) <-chan protocol.AgentEvent {
	sub := &eventSub{id: subID, agentID: agentID, ch: make(chan protocol.AgentEvent, h.queueSize)}
	h.mu.Lock()
	if old, ok := h.subs[subID]; ok {
		close(old.ch)
	}
	h.subs[subID] = sub
	h.mu.Unlock()
	return sub.ch
}

func (h *Hub) Unsubscribe(subID string) {
	h.mu.Lock()
	sub, ok := h.subs[subID]
	if ok {
		delete(h.subs, subID)
	}
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Publish delivers to every matching subscriber without blocking. A full
// queue drops that subscriber with reason lagging.
func (h *Hub) Publish(ev protocol.AgentEvent) {
	h.mu.Lock()
	var dropped []*eventSub
	for _, sub := range h.subs {
		if sub.agentID != "" && sub.agentID != ev.AgentID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, sub.id)
			dropped = append(dropped, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range dropped {
		close(sub.ch)
		h.logger.Warn("subscriber_dropped", "subscription_id", sub.id, "reason", "lagging")
	}
}

// UpdateHub fans out agent list projections (upsert/remove) to
// subscribe_agent_updates subscribers, each with a label filter.
type UpdateHub struct {
	logger    *slog.Logger
	queueSize int

	mu   sync.Mutex
	subs map[string]*updateSub
}

type updateSub struct {
	id              string
	labels          map[string]string
	includeArchived bool
	ch              chan protocol.AgentUpdate
}

func NewUpdateHub(queueSize int, logger *slog.Logger) *UpdateHub {
	if queueSize < minSubscriberQueue {
		queueSize = minSubscriberQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateHub{logger: logger, queueSize: queueSize, subs: make(map[string]*updateSub)}
}

// Subscribe registers a filtered subscriber. replay snapshots, when given,
// are enqueued as initial upserts before any live update.
func (h *UpdateHub) Subscribe(req protocol.SubscribeAgentUpdatesRequest, replay []protocol.AgentSnapshot) <-chan protocol.AgentUpdate {
	sub := &updateSub{
		id:              req.SubscriptionID,
		labels:          req.Labels,
		includeArchived: req.IncludeArchived,
		ch:              make(chan protocol.AgentUpdate, h.queueSize),
	}
	for i := range replay {
		snap := replay[i]
		sub.ch <- protocol.AgentUpdate{
			SubscriptionID: sub.id,
			Kind:           protocol.AgentUpdateUpsert,
			AgentID:        snap.ID,
			Agent:          &snap,
		}
	}
	h.mu.Lock()
	if old, ok := h.subs[sub.id]; ok {
		close(old.ch)
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub.ch
}

func (h *UpdateHub) Unsubscribe(subID string) {
	h.mu.Lock()
	sub, ok := h.subs[subID]
	if ok {
		delete(h.subs, subID)
	}
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// PublishUpsert pushes a changed snapshot to matching subscribers.
func (h *UpdateHub) PublishUpsert(snap protocol.AgentSnapshot) {
	h.publish(snap.ID, &snap)
}

// PublishRemove pushes a removal. Removals go to every subscriber that
// could have seen the agent, filters included, so stale entries clear.
func (h *UpdateHub) PublishRemove(agentID string) {
	h.publish(agentID, nil)
}

func (h *UpdateHub) publish(agentID string, snap *protocol.AgentSnapshot) {
	h.mu.Lock()
	var dropped []*updateSub
	for _, sub := range h.subs {
		if snap != nil {
			if snap.Archived && !sub.includeArchived {
				continue
			}
			if !labelsMatch(sub.labels, snap.Labels) {
				continue
			}
		}
		upd := protocol.AgentUpdate{
			SubscriptionID: sub.id,
			AgentID:        agentID,
		}
		if snap != nil {
			copied := *snap
			upd.Kind = protocol.AgentUpdateUpsert
			upd.Agent = &copied
		} else {
			upd.Kind = protocol.AgentUpdateRemove
		}
		select {
		case sub.ch <- upd:
		default:
			delete(h.subs, sub.id)
			dropped = append(dropped, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range dropped {
		close(sub.ch)
		h.logger.Warn("subscriber_dropped", "subscription_id", sub.id, "reason", "lagging")
	}
}

// labelsMatch reports whether every filter label is present with the same
// value. An empty filter matches everything.
func labelsMatch(filter, labels map[string]string) bool {
	for k, v := range filter {
		if labels[k] != v {
			return false
		}
	}
	return true
}
