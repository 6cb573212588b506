package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"contenthub/content"
	"contenthub/hub"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// App is the application identity announced to the hub.
	App string

	// Network is the dial network, "unix" or "tcp".
	Network string

	// Address is the socket path or host:port of the hub.
	Address string

	// Handler, when set, is registered right after the hello so pending
	// events replay immediately.
	Handler hub.Handler

	// CallTimeout bounds each request round trip.
	CallTimeout time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Network == "" {
		o.Network = "unix"
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Client talks to a hub server on behalf of one application. Handler
// callbacks and transfer subscriptions run on their own goroutines, so
// they may issue further calls.
type Client struct {
	options ClientOptions
	conn    net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	waiters  map[string]chan ResultPayload
	handles  map[string]*RemoteTransfer
	handler  hub.Handler
	closeErr error

	done      chan struct{}
	readDone  chan struct{}
	failOnce  sync.Once
	closeOnce sync.Once
}

// Dial connects to a hub server and performs the hello exchange.
func Dial(options ClientOptions) (*Client, error) {
	options = options.withDefaults()
	if options.App == "" {
		return nil, errors.New("wire: client requires an application id")
	}
	if options.Address == "" {
		return nil, errors.New("wire: client requires an address")
	}

	conn, err := net.Dial(options.Network, options.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", options.Network, options.Address, err)
	}

	c := &Client{
		options:  options,
		conn:     conn,
		waiters:  make(map[string]chan ResultPayload),
		handles:  make(map[string]*RemoteTransfer),
		handler:  options.Handler,
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()

	hello := HelloPayload{App: options.App, ProtocolVersion: ProtocolVersion}
	if _, err := c.call(TypeHello, hello); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	if options.Handler != nil {
		if _, err := c.call(TypeRegisterHandler, nil); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("register handler: %w", err)
		}
	}

	return c, nil
}

// App returns the application identity this client announced.
func (c *Client) App() string {
	return c.options.App
}

// CreateOptions describes a transfer to create.
type CreateOptions struct {
	Direction   content.Direction
	ContentType content.Type

	// Peer is the counterpart, the source for an import or the
	// destination for an export or share.
	Peer content.Peer

	Selection  content.SelectionType
	AllowEmpty bool
}

// Create asks the hub for a new transfer and returns a live handle.
func (c *Client) Create(opts CreateOptions) (*RemoteTransfer, error) {
	res, err := c.call(TypeCreateTransfer, CreatePayload{
		Direction:   opts.Direction.String(),
		ContentType: opts.ContentType.String(),
		Peer:        opts.Peer.ID(),
		Selection:   opts.Selection.String(),
		AllowEmpty:  opts.AllowEmpty,
	})
	if err != nil {
		return nil, err
	}
	if res.Transfer == nil {
		return nil, errors.New("wire: create result carries no transfer")
	}
	return c.handleFor(*res.Transfer)
}

// RequestImport asks to pull content of the given type from the
// default peer.
func (c *Client) RequestImport(t content.Type) (*RemoteTransfer, error) {
	return c.Create(CreateOptions{Direction: content.DirectionImport, ContentType: t})
}

// RequestImportFrom asks to pull content of the given type from a
// specific peer.
func (c *Client) RequestImportFrom(t content.Type, peer content.Peer) (*RemoteTransfer, error) {
	return c.Create(CreateOptions{Direction: content.DirectionImport, ContentType: t, Peer: peer})
}

// RequestExport asks to push content of the given type to a peer.
func (c *Client) RequestExport(peer content.Peer, t content.Type) (*RemoteTransfer, error) {
	return c.Create(CreateOptions{Direction: content.DirectionExport, ContentType: t, Peer: peer})
}

// RequestShare asks to share content of the given type with a peer.
func (c *Client) RequestShare(peer content.Peer, t content.Type) (*RemoteTransfer, error) {
	return c.Create(CreateOptions{Direction: content.DirectionShare, ContentType: t, Peer: peer})
}

// KnownPeersFor lists peers able to provide the given content type.
func (c *Client) KnownPeersFor(t content.Type) ([]content.Peer, error) {
	res, err := c.call(TypeKnownPeers, TypeQueryPayload{ContentType: t.String()})
	if err != nil {
		return nil, err
	}
	peers := make([]content.Peer, 0, len(res.Peers))
	for _, p := range res.Peers {
		peers = append(peers, p.peer())
	}
	return peers, nil
}

// DefaultPeerFor returns the preferred provider for the given content
// type, the unknown peer when there is none.
func (c *Client) DefaultPeerFor(t content.Type) (content.Peer, error) {
	res, err := c.call(TypeDefaultPeer, TypeQueryPayload{ContentType: t.String()})
	if err != nil {
		return content.UnknownPeer(), err
	}
	if res.Peer == nil {
		return content.UnknownPeer(), nil
	}
	return res.Peer.peer(), nil
}

// HasPending reports whether an application has undelivered handler
// events. An empty app means this client's own application.
func (c *Client) HasPending(app string) (bool, error) {
	res, err := c.call(TypeHasPending, PendingQueryPayload{App: app})
	if err != nil {
		return false, err
	}
	return res.Pending, nil
}

// SetHandler installs the handler and registers it with the hub, which
// replays any pending events.
func (c *Client) SetHandler(handler hub.Handler) error {
	if handler == nil {
		return errors.New("wire: handler must not be nil")
	}
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	_, err := c.call(TypeRegisterHandler, nil)
	return err
}

// Close drops the connection. Blocked calls return ErrClosed.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.fail(ErrClosed)
		_ = c.conn.Close()
		<-c.readDone
	})
	return nil
}

func (c *Client) call(msgType string, payload any) (ResultPayload, error) {
	select {
	case <-c.done:
		return ResultPayload{}, c.closedErr()
	default:
	}

	requestID := uuid.NewString()
	raw, err := EncodeEnvelope(msgType, requestID, payload)
	if err != nil {
		return ResultPayload{}, err
	}

	ch := make(chan ResultPayload, 1)
	c.mu.Lock()
	c.waiters[requestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, requestID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(raw); err != nil {
		return ResultPayload{}, fmt.Errorf("send %s: %w", msgType, err)
	}

	timer := time.NewTimer(c.options.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if !res.OK {
			return res, errorForCode(res.Code, res.Error)
		}
		return res, nil
	case <-timer.C:
		return ResultPayload{}, fmt.Errorf("wire: %s timed out after %s", msgType, c.options.CallTimeout)
	case <-c.done:
		return ResultPayload{}, c.closedErr()
	}
}

func (c *Client) writeFrame(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	return WriteFrame(c.conn, raw)
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		payload, err := ReadFrame(c.conn)
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.fail(fmt.Errorf("%w: bad envelope: %v", ErrClosed, err))
			return
		}

		switch env.Type {
		case TypeResult:
			var res ResultPayload
			if err := json.Unmarshal(env.Payload, &res); err != nil {
				log.Warnf("dropping malformed result: %v", err)
				continue
			}
			c.mu.Lock()
			ch := c.waiters[env.RequestID]
			delete(c.waiters, env.RequestID)
			c.mu.Unlock()
			if ch != nil {
				ch <- res
			}
		case TypeNotification:
			var note NotificationPayload
			if err := json.Unmarshal(env.Payload, &note); err != nil {
				log.Warnf("dropping malformed notification: %v", err)
				continue
			}
			c.handleNotification(note)
		default:
			log.Debugf("ignoring message type %q", env.Type)
		}
	}
}

func (c *Client) handleNotification(note NotificationPayload) {
	t, err := c.handleFor(note.Transfer)
	if err != nil {
		log.Warnf("dropping %s notification: %v", note.Event, err)
		return
	}
	t.apply(note.Transfer)

	if note.Event == EventStateChanged {
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}

	// Handler callbacks issue calls of their own, so they must not run
	// on the read loop.
	go func() {
		switch note.Event {
		case EventExportRequested:
			handler.OnExportRequested(t)
		case EventImportRequested:
			handler.OnImportRequested(t)
		case EventShareRequested:
			handler.OnShareRequested(t)
		default:
			log.Debugf("ignoring notification event %q", note.Event)
		}
	}()
}

func (c *Client) handleFor(info TransferPayload) (*RemoteTransfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.handles[info.ID]; ok {
		return t, nil
	}
	t, err := newRemoteTransfer(c, info)
	if err != nil {
		return nil, err
	}
	c.handles[info.ID] = t
	return t, nil
}

func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		if c.closeErr == nil {
			c.closeErr = err
		}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrClosed
}

// RemoteTransfer is a client-side handle on a transfer living in the
// hub. It mirrors the remote state from results and notifications.
type RemoteTransfer struct {
	client *Client

	id          string
	direction   content.Direction
	contentType content.Type
	selection   content.SelectionType

	mu          sync.Mutex
	state       content.State
	source      content.Peer
	destination content.Peer
	items       []content.Item
	subs        map[int]func(content.State)
	nextSub     int
	queue       []content.State
	notifying   bool
}

var _ hub.Transfer = (*RemoteTransfer)(nil)

func newRemoteTransfer(c *Client, info TransferPayload) (*RemoteTransfer, error) {
	direction, err := content.ParseDirection(info.Direction)
	if err != nil {
		return nil, err
	}
	contentType, err := content.ParseType(info.ContentType)
	if err != nil {
		return nil, err
	}
	selection := content.SelectionSingle
	if info.Selection != "" {
		if selection, err = content.ParseSelectionType(info.Selection); err != nil {
			return nil, err
		}
	}
	state, err := content.ParseState(info.State)
	if err != nil {
		return nil, err
	}

	return &RemoteTransfer{
		client:      c,
		id:          info.ID,
		direction:   direction,
		contentType: contentType,
		selection:   selection,
		state:       state,
		source:      info.Source.peer(),
		destination: info.Destination.peer(),
		items:       payloadItems(info.Items),
		subs:        make(map[int]func(content.State)),
	}, nil
}

func (t *RemoteTransfer) ID() string {
	return t.id
}

func (t *RemoteTransfer) Direction() content.Direction {
	return t.direction
}

func (t *RemoteTransfer) ContentType() content.Type {
	return t.contentType
}

func (t *RemoteTransfer) SelectionType() content.SelectionType {
	return t.selection
}

func (t *RemoteTransfer) State() content.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *RemoteTransfer) Source() content.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.source
}

func (t *RemoteTransfer) Destination() content.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destination
}

func (t *RemoteTransfer) Items() []content.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := make([]content.Item, len(t.items))
	copy(items, t.items)
	return items
}

// SelectPeer resolves the transfer's open end.
func (t *RemoteTransfer) SelectPeer(peer content.Peer) error {
	res, err := t.client.call(TypeSelectPeer, SelectPeerPayload{
		TransferID: t.id,
		Peer:       peerPayload(peer),
	})
	return t.applyResult(res, err)
}

// Start moves the transfer into negotiation.
func (t *RemoteTransfer) Start() error {
	return t.transition(TypeStart)
}

// Charge loads items onto the transfer.
func (t *RemoteTransfer) Charge(items []content.Item) error {
	res, err := t.client.call(TypeCharge, ChargePayload{
		TransferID: t.id,
		Items:      itemPayloads(items),
	})
	return t.applyResult(res, err)
}

// Collect takes delivery of the charged items. When the hub stages
// files, the returned items point at the staged copies.
func (t *RemoteTransfer) Collect() ([]content.Item, error) {
	res, err := t.client.call(TypeCollect, TransferRefPayload{TransferID: t.id})
	if err != nil {
		return nil, err
	}
	if res.Transfer != nil {
		t.apply(*res.Transfer)
	}
	return payloadItems(res.Items), nil
}

// Finalize concludes the transfer successfully.
func (t *RemoteTransfer) Finalize() error {
	return t.transition(TypeFinalize)
}

// Abort cancels the transfer.
func (t *RemoteTransfer) Abort() error {
	return t.transition(TypeAbort)
}

// Subscribe registers a state listener and returns its cancel func.
// Listeners run on their own goroutine in transition order.
func (t *RemoteTransfer) Subscribe(fn func(content.State)) func() {
	t.mu.Lock()
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

func (t *RemoteTransfer) transition(msgType string) error {
	res, err := t.client.call(msgType, TransferRefPayload{TransferID: t.id})
	return t.applyResult(res, err)
}

func (t *RemoteTransfer) applyResult(res ResultPayload, err error) error {
	if err != nil {
		return err
	}
	if res.Transfer != nil {
		t.apply(*res.Transfer)
	}
	return nil
}

// apply folds a remote snapshot into the handle. Frames can arrive on
// two paths (results and notifications), so anything older than the
// current state is dropped.
func (t *RemoteTransfer) apply(info TransferPayload) {
	state, err := content.ParseState(info.State)
	if err != nil {
		log.Warnf("ignoring update for %s: %v", t.id, err)
		return
	}

	t.mu.Lock()
	if state < t.state {
		t.mu.Unlock()
		return
	}
	changed := state > t.state
	t.state = state
	t.source = info.Source.peer()
	t.destination = info.Destination.peer()
	if changed || len(info.Items) > 0 {
		t.items = payloadItems(info.Items)
	}
	startPump := false
	if changed {
		t.queue = append(t.queue, state)
		if !t.notifying {
			t.notifying = true
			startPump = true
		}
	}
	t.mu.Unlock()

	if startPump {
		go t.pump()
	}
}

func (t *RemoteTransfer) pump() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.notifying = false
			t.mu.Unlock()
			return
		}
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
	}
}
