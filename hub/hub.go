// Package hub wires the content-exchange pieces together: it resolves
// peers through a directory, creates and registers transfers, routes
// notifications to per-application handlers, and orchestrates peer
// application launch and shutdown around a transfer's lifecycle.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"contenthub/content"
	"contenthub/transfer"
)

var log = logging.Logger("hub")

// ErrPeerUnreachable reports a transport or launch failure reaching a
// peer application. It surfaces as a forced abort of the affected
// transfer, never as a crash.
var ErrPeerUnreachable = errors.New("hub: peer unreachable")

// Transfer is the surface handlers and observers drive. In process it is
// implemented by *transfer.Transfer; wire clients supply remote handles
// resolving the same identifier.
type Transfer interface {
	ID() string
	Direction() content.Direction
	ContentType() content.Type
	SelectionType() content.SelectionType
	State() content.State
	Source() content.Peer
	Destination() content.Peer
	Items() []content.Item
	SelectPeer(p content.Peer) error
	Start() error
	Charge(items []content.Item) error
	Collect() ([]content.Item, error)
	Finalize() error
	Abort() error
	Subscribe(fn func(content.State)) (cancel func())
}

var _ Transfer = (*transfer.Transfer)(nil)

// Directory resolves peers able to handle a content type.
type Directory interface {
	DefaultPeerFor(t content.Type) content.Peer
	KnownPeersFor(t content.Type) []content.Peer
}

// Launcher starts and stops peer applications on demand. EnsureRunning
// reports whether it actually started the application, so the hub can
// stop again only what it launched itself.
type Launcher interface {
	EnsureRunning(ctx context.Context, appID string) (started bool, err error)
	Stop(ctx context.Context, appID string) error
}

// Record describes a concluded transfer.
type Record struct {
	ID          string
	Direction   content.Direction
	ContentType content.Type
	Source      string
	Destination string
	FinalState  content.State
	ItemCount   int
	CreatedAt   time.Time
	ConcludedAt time.Time
}

// Recorder receives a record each time a transfer concludes. Failures are
// logged and never fail the transfer.
type Recorder interface {
	RecordConcluded(rec Record) error
}

// Options configure a Hub. Every field is optional.
type Options struct {
	// App is the application identity used by the Request* convenience
	// methods when the request does not name one.
	App string

	// Registry tracks live transfers. A private registry is created when
	// nil.
	Registry *transfer.Registry

	// Directory resolves default and known peers. Without one, default
	// resolution yields the unknown sentinel.
	Directory Directory

	// Launcher starts dormant peer applications.
	Launcher Launcher

	// Recorder is told about concluded transfers.
	Recorder Recorder
}

// Request describes a transfer to create.
type Request struct {
	// App is the requesting application. Falls back to Options.App.
	App string

	Direction   content.Direction
	ContentType content.Type

	// Peer is the counterpart: the source for an import, the destination
	// for an export or share. Leave unknown to use the directory default
	// (imports) or to defer to an external picker.
	Peer content.Peer

	Selection  content.SelectionType
	AllowEmpty bool
}

type tracked struct {
	cancel           func()
	producerNotified bool
	consumerNotified bool
}

// Hub is the facade brokering content exchange between applications. A
// host constructs exactly one per process and owns its lifecycle; there
// is no package-level instance.
type Hub struct {
	options  Options
	registry *transfer.Registry

	mu       sync.Mutex
	handlers map[string]Handler
	tracked  map[string]*tracked
	started  map[string]bool
	closed   bool

	ctx       context.Context
	cancelCtx context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New returns a Hub using the supplied collaborators.
func New(options Options) *Hub {
	registry := options.Registry
	if registry == nil {
		registry = transfer.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		options:   options,
		registry:  registry,
		handlers:  make(map[string]Handler),
		tracked:   make(map[string]*tracked),
		started:   make(map[string]bool),
		ctx:       ctx,
		cancelCtx: cancel,
	}
}

// Registry returns the registry backing this hub.
func (h *Hub) Registry() *transfer.Registry {
	return h.registry
}

// Lookup resolves a transfer identifier, as arriving in a wire
// notification, to the live transfer.
func (h *Hub) Lookup(id string) (*transfer.Transfer, error) {
	return h.registry.Lookup(id)
}

// RequestImport asks for content of the given type from the directory's
// default peer. With no default installed the transfer stays Created
// until a peer is selected.
func (h *Hub) RequestImport(t content.Type) (*transfer.Transfer, error) {
	return h.Create(Request{Direction: content.DirectionImport, ContentType: t})
}

// RequestImportFrom asks for content of the given type from a specific
// peer.
func (h *Hub) RequestImportFrom(t content.Type, peer content.Peer) (*transfer.Transfer, error) {
	return h.Create(Request{Direction: content.DirectionImport, ContentType: t, Peer: peer})
}

// RequestExport offers content of the given type to a specific peer.
func (h *Hub) RequestExport(peer content.Peer, t content.Type) (*transfer.Transfer, error) {
	return h.Create(Request{Direction: content.DirectionExport, ContentType: t, Peer: peer})
}

// RequestShare shares content of the given type with a specific peer.
func (h *Hub) RequestShare(peer content.Peer, t content.Type) (*transfer.Transfer, error) {
	return h.Create(Request{Direction: content.DirectionShare, ContentType: t, Peer: peer})
}

// Create builds, registers, and starts routing a transfer, returning the
// caller's handle immediately. The caller observes progress through the
// handle's subscription, never by blocking here. Creating a transfer
// addressed to a peer aborts any in-progress transfer already addressed
// to that peer.
func (h *Hub) Create(req Request) (*transfer.Transfer, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, errors.New("hub: closed")
	}

	app := req.App
	if app == "" {
		app = h.options.App
	}
	if app == "" {
		return nil, errors.New("hub: requesting application unknown")
	}

	peer := req.Peer
	if peer.IsUnknown() && req.Direction == content.DirectionImport && h.options.Directory != nil {
		peer = h.options.Directory.DefaultPeerFor(req.ContentType)
	}

	opts := transfer.Options{
		Direction:   req.Direction,
		ContentType: req.ContentType,
		Selection:   req.Selection,
		AllowEmpty:  req.AllowEmpty,
	}
	if req.Direction == content.DirectionImport {
		opts.Source = peer
		opts.Destination = content.NewPeer(app)
	} else {
		opts.Source = content.NewPeer(app)
		opts.Destination = peer
	}

	t, err := transfer.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}

	h.abortStale(req.Direction, peer)

	if _, err := h.registry.Register(t); err != nil {
		return nil, fmt.Errorf("register transfer: %w", err)
	}

	h.mu.Lock()
	tk := &tracked{}
	h.tracked[t.ID()] = tk
	h.mu.Unlock()
	tk.cancel = t.Subscribe(func(state content.State) { h.onStateChange(t, state) })

	// The creator of an export or share is the producer and is already
	// handling the request; imports wait for the consumer's Start.
	if req.Direction != content.DirectionImport && !peer.IsUnknown() {
		if err := t.Start(); err != nil {
			log.Warnf("starting %s transfer %s: %v", req.Direction, t.ID(), err)
		}
	}

	log.Debugf("created %s transfer %s (%s) %s -> %s",
		req.Direction, t.ID(), req.ContentType, t.Source(), t.Destination())
	return t, nil
}

// abortStale enforces the single-in-progress rule: a new transfer
// addressed to a peer displaces any in-progress one addressed to the
// same peer.
func (h *Hub) abortStale(direction content.Direction, peer content.Peer) {
	if peer.IsUnknown() {
		return
	}
	for _, t := range h.registry.Snapshot() {
		if t.State() != content.StateInProgress {
			continue
		}
		var counterpart content.Peer
		if direction == content.DirectionImport {
			counterpart = t.Source()
		} else {
			counterpart = t.Destination()
		}
		if !counterpart.Equal(peer) {
			continue
		}
		log.Infof("aborting stale transfer %s for peer %s", t.ID(), peer.ID())
		if err := t.Abort(); err != nil && !errors.Is(err, transfer.ErrInvalidTransition) {
			log.Warnf("aborting stale transfer %s: %v", t.ID(), err)
		}
	}
}

func (h *Hub) onStateChange(t *transfer.Transfer, state content.State) {
	switch state {
	case content.StateInProgress:
		// Only an import needs the source told to produce; the creator of
		// an export or share is the producer already.
		if t.Direction() == content.DirectionImport {
			h.launch(t, t.Source().ID())
			h.deliver(t.Source().ID(), t, producerEvent)
		}
	case content.StateCharged:
		h.launch(t, t.Destination().ID())
		h.deliver(t.Destination().ID(), t, consumerEvent)
		// The producer's part is done once charged.
		h.releaseApp(t.Source().ID(), t)
	case content.StateFinalized, content.StateAborted:
		h.conclude(t, state)
	}
}

// launch asynchronously makes sure the peer application runs. A launch
// failure means the peer is unreachable, which forces an abort.
func (h *Hub) launch(t *transfer.Transfer, appID string) {
	if h.options.Launcher == nil || appID == "" {
		return
	}
	if !h.addWorker() {
		return
	}
	go func() {
		defer h.wg.Done()
		started, err := h.options.Launcher.EnsureRunning(h.ctx, appID)
		if err != nil {
			h.forceAbort(t, fmt.Errorf("%w: launching %s: %v", ErrPeerUnreachable, appID, err))
			return
		}
		if started {
			h.mu.Lock()
			h.started[appID] = true
			h.mu.Unlock()
			log.Debugf("launched %s for transfer %s", appID, t.ID())
			// The transfer may have concluded while the launch was in flight.
			h.releaseApp(appID, nil)
		}
	}()
}

// forceAbort concludes a transfer after an irrecoverable external
// failure. Losing a race against a regular conclusion is fine.
func (h *Hub) forceAbort(t *transfer.Transfer, cause error) {
	log.Warnf("forcing abort of transfer %s: %v", t.ID(), cause)
	if err := t.Abort(); err != nil && !errors.Is(err, transfer.ErrInvalidTransition) {
		log.Warnf("aborting transfer %s: %v", t.ID(), err)
	}
}

func (h *Hub) conclude(t *transfer.Transfer, state content.State) {
	h.mu.Lock()
	tk := h.tracked[t.ID()]
	delete(h.tracked, t.ID())
	h.mu.Unlock()
	if tk != nil && tk.cancel != nil {
		defer tk.cancel()
	}

	if h.options.Recorder != nil {
		rec := Record{
			ID:          t.ID(),
			Direction:   t.Direction(),
			ContentType: t.ContentType(),
			Source:      t.Source().ID(),
			Destination: t.Destination().ID(),
			FinalState:  state,
			ItemCount:   len(t.Items()),
			CreatedAt:   t.CreatedAt(),
			ConcludedAt: time.Now(),
		}
		if err := h.options.Recorder.RecordConcluded(rec); err != nil {
			log.Warnf("recording transfer %s: %v", t.ID(), err)
		}
	}

	h.releaseApp(t.Source().ID(), t)
	h.releaseApp(t.Destination().ID(), t)
	log.Infof("transfer %s concluded: %s", t.ID(), state)
}

// releaseApp stops an application the hub launched once no live transfer
// other than exclude references it.
func (h *Hub) releaseApp(appID string, exclude *transfer.Transfer) {
	if appID == "" || h.options.Launcher == nil {
		return
	}
	h.mu.Lock()
	if !h.started[appID] {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	if h.hasLiveTransferFor(appID, exclude) {
		return
	}

	h.mu.Lock()
	delete(h.started, appID)
	h.mu.Unlock()

	if !h.addWorker() {
		return
	}
	go func() {
		defer h.wg.Done()
		if err := h.options.Launcher.Stop(h.ctx, appID); err != nil {
			log.Warnf("stopping %s: %v", appID, err)
		}
	}()
}

// addWorker reserves a slot in the hub's wait group unless the hub is
// closing. Taking the slot under the mutex keeps Close's Wait sound.
func (h *Hub) addWorker() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *Hub) hasLiveTransferFor(appID string, exclude *transfer.Transfer) bool {
	for _, t := range h.registry.Snapshot() {
		if t == exclude || t.State().Terminal() {
			continue
		}
		if t.Source().ID() == appID || t.Destination().ID() == appID {
			return true
		}
	}
	return false
}

// KnownPeersFor lists peers able to handle the given type.
func (h *Hub) KnownPeersFor(t content.Type) []content.Peer {
	if h.options.Directory == nil {
		return nil
	}
	return h.options.Directory.KnownPeersFor(t)
}

// DefaultPeerFor resolves the default peer for the given type, the
// unknown sentinel when none is installed.
func (h *Hub) DefaultPeerFor(t content.Type) content.Peer {
	if h.options.Directory == nil {
		return content.UnknownPeer()
	}
	return h.options.Directory.DefaultPeerFor(t)
}

// Close stops background work. Live transfers are left to the registry's
// owner; callers wanting a clean slate abort them first.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.cancelCtx()
		h.wg.Wait()
	})
}
