// Package transfer implements the state machine for one content exchange
// and the registry that tracks live exchanges by identifier.
package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"contenthub/content"
)

// Options configure a new Transfer.
type Options struct {
	// ID is the transfer identifier. Generated when empty.
	ID string

	// Direction distinguishes import, export, and share.
	Direction content.Direction

	// ContentType is the kind of content exchanged. The wildcard is
	// rejected.
	ContentType content.Type

	// Source is the producing end. May be the unknown sentinel for an
	// import pending peer selection.
	Source content.Peer

	// Destination is the consuming end. May be the unknown sentinel for
	// an export or share pending peer selection.
	Destination content.Peer

	// Selection flags whether more than one item may be charged.
	Selection content.SelectionType

	// AllowEmpty permits charging with no items.
	AllowEmpty bool
}

// Transfer is one content exchange. State advances monotonically along
// Created, InProgress, Charged, Collected, Finalized; Aborted is reachable
// from every non-terminal state. The current state encodes whose turn it
// is: while Created or InProgress the producer charges, once Charged the
// consumer collects and finalizes. All methods are safe for concurrent
// use; a losing concurrent transition receives ErrInvalidTransition.
type Transfer struct {
	id          string
	direction   content.Direction
	contentType content.Type
	selection   content.SelectionType
	allowEmpty  bool
	createdAt   time.Time

	mu          sync.Mutex
	state       content.State
	source      content.Peer
	destination content.Peer
	items       []content.Item
	lastChange  time.Time

	subs      map[int]func(content.State)
	nextSub   int
	queue     []content.State
	notifying bool
}

// New validates options and returns a transfer in the Created state.
func New(options Options) (*Transfer, error) {
	if !options.ContentType.Transferable() {
		return nil, fmt.Errorf("transfer: content type %s is not transferable", options.ContentType)
	}
	id := options.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Transfer{
		id:          id,
		direction:   options.Direction,
		contentType: options.ContentType,
		selection:   options.Selection,
		allowEmpty:  options.AllowEmpty,
		createdAt:   now,
		state:       content.StateCreated,
		source:      options.Source,
		destination: options.Destination,
		lastChange:  now,
	}, nil
}

// ID returns the process-wide unique identifier.
func (t *Transfer) ID() string { return t.id }

// Direction returns the exchange direction.
func (t *Transfer) Direction() content.Direction { return t.direction }

// ContentType returns the kind of content exchanged.
func (t *Transfer) ContentType() content.Type { return t.contentType }

// SelectionType reports whether multiple items are allowed.
func (t *Transfer) SelectionType() content.SelectionType { return t.selection }

// CreatedAt returns the creation time.
func (t *Transfer) CreatedAt() time.Time { return t.createdAt }

// State returns the current lifecycle state.
func (t *Transfer) State() content.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Source returns the producing peer.
func (t *Transfer) Source() content.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.source
}

// Destination returns the consuming peer.
func (t *Transfer) Destination() content.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destination
}

// Items returns a copy of the charged item sequence, in attachment order.
func (t *Transfer) Items() []content.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]content.Item(nil), t.items...)
}

// LastChange returns the time of the most recent state change. Stall
// watchdogs use it to find abandoned transfers.
func (t *Transfer) LastChange() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastChange
}

// SelectPeer resolves the open end of the exchange: the source for an
// import, the destination for an export or share. Legal only while the
// transfer is still Created.
func (t *Transfer) SelectPeer(p content.Peer) error {
	if p.IsUnknown() {
		return fmt.Errorf("cannot select the sentinel: %w", ErrPeerUnresolved)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != content.StateCreated {
		return ErrInvalidTransition
	}
	if t.direction == content.DirectionImport {
		t.source = p
	} else {
		t.destination = p
	}
	return nil
}

// Start moves the transfer from Created to InProgress, marking that the
// request is being handled. Fails with ErrPeerUnresolved while the open
// end has no peer.
func (t *Transfer) Start() error {
	t.mu.Lock()
	if t.state != content.StateCreated {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	if !t.peerResolvedLocked() {
		t.mu.Unlock()
		return ErrPeerUnresolved
	}
	t.setStateLocked(content.StateInProgress)
	t.mu.Unlock()
	t.notify()
	return nil
}

// Charge attaches the final item sequence and moves the transfer to
// Charged. Producer-side only: legal from InProgress alone. The sequence
// must be non-empty unless the transfer allows empty payloads, and at
// most one item long for a single-selection transfer. After a successful
// charge the items are immutable.
func (t *Transfer) Charge(items []content.Item) error {
	t.mu.Lock()
	if t.state != content.StateInProgress {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	if len(items) == 0 && !t.allowEmpty {
		t.mu.Unlock()
		return ErrEmptyPayload
	}
	if t.selection == content.SelectionSingle && len(items) > 1 {
		t.mu.Unlock()
		return fmt.Errorf("transfer: single selection allows at most one item, got %d", len(items))
	}
	t.items = append([]content.Item(nil), items...)
	t.setStateLocked(content.StateCharged)
	t.mu.Unlock()
	t.notify()
	return nil
}

// Collect marks the charged items as read by the consumer and returns
// them in attachment order. Legal from Charged alone.
func (t *Transfer) Collect() ([]content.Item, error) {
	t.mu.Lock()
	if t.state != content.StateCharged {
		t.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	t.setStateLocked(content.StateCollected)
	items := append([]content.Item(nil), t.items...)
	t.mu.Unlock()
	t.notify()
	return items, nil
}

// Finalize concludes the exchange from the consumer side. Legal from
// Charged or Collected.
func (t *Transfer) Finalize() error {
	t.mu.Lock()
	if t.state != content.StateCharged && t.state != content.StateCollected {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	t.setStateLocked(content.StateFinalized)
	t.mu.Unlock()
	t.notify()
	return nil
}

// Abort concludes the exchange from either side. Legal from every
// non-terminal state; aborting a concluded transfer fails with
// ErrInvalidTransition.
func (t *Transfer) Abort() error {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	t.setStateLocked(content.StateAborted)
	t.mu.Unlock()
	t.notify()
	return nil
}

// Subscribe registers fn to be called after every state change, in commit
// order. The returned cancel removes the subscription. Callbacks run on
// the goroutine that drove the transition and may call back into the
// transfer; changes committed from inside a callback are delivered after
// the current one returns.
func (t *Transfer) Subscribe(fn func(content.State)) (cancel func()) {
	t.mu.Lock()
	if t.subs == nil {
		t.subs = make(map[int]func(content.State))
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Transfer) peerResolvedLocked() bool {
	if t.direction == content.DirectionImport {
		return !t.source.IsUnknown()
	}
	return !t.destination.IsUnknown()
}

func (t *Transfer) setStateLocked(s content.State) {
	t.state = s
	t.lastChange = time.Now()
	t.queue = append(t.queue, s)
}

// notify drains queued state changes in commit order. Only the outermost
// call pumps the queue, which keeps delivery ordered when a subscriber
// drives a further transition.
func (t *Transfer) notify() {
	t.mu.Lock()
	if t.notifying {
		t.mu.Unlock()
		return
	}
	t.notifying = true
	for len(t.queue) > 0 {
		state := t.queue[0]
		t.queue = t.queue[1:]
		subs := make([]func(content.State), 0, len(t.subs))
		for _, fn := range t.subs {
			subs = append(subs, fn)
		}
		t.mu.Unlock()
		for _, fn := range subs {
			fn(state)
		}
		t.mu.Lock()
	}
	t.notifying = false
	t.mu.Unlock()
}
