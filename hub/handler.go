package hub

import (
	"contenthub/content"
	"contenthub/transfer"
)

// Handler receives the transfers an application has to act on.
// OnExportRequested fires when the application is the source of a
// transfer awaiting content; OnImportRequested and OnShareRequested fire
// when it is the destination of a charged transfer. Callbacks run on the
// goroutine driving the transfer and may drive it further.
type Handler interface {
	OnExportRequested(t Transfer)
	OnImportRequested(t Transfer)
	OnShareRequested(t Transfer)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields ignore the
// corresponding event.
type HandlerFuncs struct {
	ExportRequested func(t Transfer)
	ImportRequested func(t Transfer)
	ShareRequested  func(t Transfer)
}

func (f HandlerFuncs) OnExportRequested(t Transfer) {
	if f.ExportRequested != nil {
		f.ExportRequested(t)
	}
}

func (f HandlerFuncs) OnImportRequested(t Transfer) {
	if f.ImportRequested != nil {
		f.ImportRequested(t)
	}
}

func (f HandlerFuncs) OnShareRequested(t Transfer) {
	if f.ShareRequested != nil {
		f.ShareRequested(t)
	}
}

var _ Handler = HandlerFuncs{}

type handlerEvent int

const (
	producerEvent handlerEvent = iota
	consumerEvent
)

// RegisterHandler installs the handler for an application and replays
// the events it missed. Each event reaches an application's handler at
// most once per transfer, no matter how often handlers come and go.
func (h *Hub) RegisterHandler(appID string, handler Handler) {
	if appID == "" || handler == nil {
		return
	}
	h.mu.Lock()
	h.handlers[appID] = handler
	h.mu.Unlock()
	log.Debugf("handler registered for %s", appID)
	h.replay(appID)
}

// UnregisterHandler removes the application's handler. Events occurring
// while no handler is installed are replayed on the next registration.
func (h *Hub) UnregisterHandler(appID string) {
	h.mu.Lock()
	delete(h.handlers, appID)
	h.mu.Unlock()
}

// HasPending reports whether a handler registered for the application
// right now would immediately receive work.
func (h *Hub) HasPending(appID string) bool {
	for _, t := range h.registry.Snapshot() {
		if len(h.pendingEvents(t, appID)) > 0 {
			return true
		}
	}
	return false
}

func (h *Hub) replay(appID string) {
	for _, t := range h.registry.Snapshot() {
		for _, event := range h.pendingEvents(t, appID) {
			h.deliver(appID, t, event)
		}
	}
}

// pendingEvents lists the undelivered events the application holds a
// role in. deliver re-checks under the lock, so a stale answer here only
// costs a no-op call.
func (h *Hub) pendingEvents(t *transfer.Transfer, appID string) []handlerEvent {
	h.mu.Lock()
	tk := h.tracked[t.ID()]
	var producerDone, consumerDone bool
	if tk != nil {
		producerDone, consumerDone = tk.producerNotified, tk.consumerNotified
	}
	h.mu.Unlock()
	if tk == nil {
		return nil
	}

	var events []handlerEvent
	switch t.State() {
	case content.StateInProgress:
		if !producerDone && t.Direction() == content.DirectionImport && t.Source().ID() == appID {
			events = append(events, producerEvent)
		}
	case content.StateCharged, content.StateCollected:
		if !consumerDone && t.Destination().ID() == appID {
			events = append(events, consumerEvent)
		}
	}
	return events
}

// deliver hands one event to the application's handler, if one is
// installed, marking it delivered first so a racing replay cannot double
// it.
func (h *Hub) deliver(appID string, t Transfer, event handlerEvent) {
	if appID == "" {
		return
	}
	h.mu.Lock()
	tk := h.tracked[t.ID()]
	if tk == nil {
		h.mu.Unlock()
		return
	}
	mark := &tk.producerNotified
	if event == consumerEvent {
		mark = &tk.consumerNotified
	}
	handler := h.handlers[appID]
	if handler == nil || *mark {
		h.mu.Unlock()
		return
	}
	*mark = true
	h.mu.Unlock()

	switch {
	case event == producerEvent:
		log.Debugf("transfer %s: export requested from %s", t.ID(), appID)
		handler.OnExportRequested(t)
	case t.Direction() == content.DirectionShare:
		log.Debugf("transfer %s: share offered to %s", t.ID(), appID)
		handler.OnShareRequested(t)
	default:
		log.Debugf("transfer %s: import ready for %s", t.ID(), appID)
		handler.OnImportRequested(t)
	}
}
