package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"contenthub/content"
	"contenthub/handoff"
	"contenthub/hub"
)

var log = logging.Logger("wire")

// ServerOptions configures a Server.
type ServerOptions struct {
	// Hub handles every request.
	Hub *hub.Hub

	// Network is the listener network, "unix" or "tcp".
	Network string

	// Address is the socket path or host:port to listen on.
	Address string

	// StagingDir, when set, makes Collect copy file-backed items into a
	// per-destination directory below it before handing them over.
	StagingDir string
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.Network == "" {
		o.Network = "unix"
	}
	return o
}

// Server accepts client connections and relays their requests to a hub.
type Server struct {
	options ServerOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[*serverConn]struct{}
	closed   bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer validates options and returns an unstarted server.
func NewServer(options ServerOptions) (*Server, error) {
	options = options.withDefaults()
	if options.Hub == nil {
		return nil, errors.New("wire: server requires a hub")
	}
	if options.Address == "" {
		return nil, errors.New("wire: server requires an address")
	}
	return &Server{
		options: options,
		conns:   make(map[*serverConn]struct{}),
	}, nil
}

// Start begins listening and serving connections.
func (s *Server) Start() error {
	if s.options.Network == "unix" {
		// A crash leaves the socket file behind; a fresh daemon owns it.
		_ = os.Remove(s.options.Address)
	}

	listener, err := net.Listen(s.options.Network, s.options.Address)
	if err != nil {
		return fmt.Errorf("listen on %s %s: %w", s.options.Network, s.options.Address, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener)

	log.Infof("listening on %s %s", s.options.Network, listener.Addr())
	return nil
}

// Addr returns the listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				log.Warnf("accept failed: %v", err)
			}
			return
		}

		c := &serverConn{server: s, conn: conn}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			c.serve()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// Stop closes the listener and all connections and waits for the
// serving goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		listener := s.listener
		conns := make([]*serverConn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		if listener != nil {
			_ = listener.Close()
		}
		for _, c := range conns {
			c.close()
		}
		s.wg.Wait()
	})
}

type serverConn struct {
	server *Server
	conn   net.Conn

	writeMu sync.Mutex

	mu         sync.Mutex
	app        string
	handling   bool
	subCancels []func()
	closed     bool
}

func (c *serverConn) serve() {
	defer c.close()

	for {
		payload, err := ReadFrame(c.conn)
		if err != nil {
			log.Debugf("connection %s gone: %v", c.conn.RemoteAddr(), err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Warnf("dropping connection, bad envelope: %v", err)
			return
		}

		c.dispatch(env)
	}
}

func (c *serverConn) dispatch(env Envelope) {
	if env.Type == TypeHello {
		c.handleHello(env)
		return
	}

	c.mu.Lock()
	app := c.app
	c.mu.Unlock()
	if app == "" {
		c.respondErr(env, CodeBadRequest, errors.New("wire: hello required before requests"))
		return
	}

	switch env.Type {
	case TypeCreateTransfer:
		c.handleCreate(env, app)
	case TypeStart:
		c.handleTransition(env, func(t hub.Transfer) error { return t.Start() })
	case TypeCharge:
		c.handleCharge(env)
	case TypeCollect:
		c.handleCollect(env)
	case TypeFinalize:
		c.handleTransition(env, func(t hub.Transfer) error { return t.Finalize() })
	case TypeAbort:
		c.handleTransition(env, func(t hub.Transfer) error { return t.Abort() })
	case TypeSelectPeer:
		c.handleSelectPeer(env)
	case TypeKnownPeers:
		c.handleKnownPeers(env)
	case TypeDefaultPeer:
		c.handleDefaultPeer(env)
	case TypeHasPending:
		c.handleHasPending(env, app)
	case TypeRegisterHandler:
		c.handleRegisterHandler(env, app)
	default:
		c.respondErr(env, CodeBadRequest, fmt.Errorf("%w: %q", ErrInvalidMessageType, env.Type))
	}
}

func (c *serverConn) handleHello(env Envelope) {
	var hello HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		c.respondErr(env, CodeBadRequest, fmt.Errorf("decode hello: %w", err))
		return
	}
	if hello.App == "" {
		c.respondErr(env, CodeBadRequest, errors.New("wire: hello requires an application id"))
		return
	}
	if hello.ProtocolVersion != ProtocolVersion {
		c.respondErr(env, CodeBadRequest,
			fmt.Errorf("wire: unsupported protocol version %d", hello.ProtocolVersion))
		return
	}

	c.mu.Lock()
	c.app = hello.App
	c.mu.Unlock()

	log.Debugf("connection %s is %s", c.conn.RemoteAddr(), hello.App)
	c.respond(env, ResultPayload{OK: true})
}

func (c *serverConn) handleCreate(env Envelope, app string) {
	var create CreatePayload
	if err := json.Unmarshal(env.Payload, &create); err != nil {
		c.respondErr(env, CodeBadRequest, fmt.Errorf("decode create: %w", err))
		return
	}

	direction, err := content.ParseDirection(create.Direction)
	if err != nil {
		c.respondErr(env, CodeBadRequest, err)
		return
	}
	contentType, err := content.ParseType(create.ContentType)
	if err != nil {
		c.respondErr(env, CodeBadRequest, err)
		return
	}
	selection := content.SelectionSingle
	if create.Selection != "" {
		if selection, err = content.ParseSelectionType(create.Selection); err != nil {
			c.respondErr(env, CodeBadRequest, err)
			return
		}
	}

	t, err := c.server.options.Hub.Create(hub.Request{
		App:         app,
		Direction:   direction,
		ContentType: contentType,
		Peer:        content.NewPeer(create.Peer),
		Selection:   selection,
		AllowEmpty:  create.AllowEmpty,
	})
	if err != nil {
		c.fail(env, err)
		return
	}

	// The creator observes every later transition through this connection.
	cancel := t.Subscribe(func(content.State) {
		c.pushNotification(EventStateChanged, transferPayload(t))
	})
	c.mu.Lock()
	c.subCancels = append(c.subCancels, cancel)
	c.mu.Unlock()

	info := transferPayload(t)
	c.respond(env, ResultPayload{OK: true, Transfer: &info})
}

func (c *serverConn) lookup(env Envelope) (hub.Transfer, bool) {
	var ref TransferRefPayload
	if err := json.Unmarshal(env.Payload, &ref); err != nil {
		c.respondErr(env, CodeBadRequest, fmt.Errorf("decode transfer ref: %w", err))
		return nil, false
	}
	t, err := c.server.options.Hub.Lookup(ref.TransferID)
	if err != nil {
		c.fail(env, err)
		return nil, false
	}
	return t, true
}

func (c *serverConn) handleTransition(env Envelope, op func(hub.Transfer) error) {
	t, ok := c.lookup(env)
	if !ok {
		return
	}
	if err := op(t); err != nil {
		c.fail(env, err)
		return
	}
	info := transferPayload(t)
	c.respond(env, ResultPayload{OK: true, Transfer: &info})
}

func (c *serverConn) handleCharge(env Envelope) {
	var charge ChargePayload
	if err := json.Unmarshal(env.Payload, &charge); err != nil {
		c.respondErr(env, CodeBadRequest, fmt.Errorf("decode charge: %w", err))
		return
	}
	t, err := c.server.options.Hub.Lookup(charge.TransferID)
	if err != nil {
		c.fail(env, err)
		return
	}
	if err := t.Charge(payloadItems(charge.Items)); err != nil {
		c.fail(env, err)
		return
	}
	info := transferPayload(t)
	c.respond(env, ResultPayload{OK: true, Transfer: &info})
}

func (c *serverConn) handleCollect(env Envelope) {
	t, ok := c.lookup(env)
	if !ok {
		return
	}

	items, err := t.Collect()
	if err != nil {
		c.fail(env, err)
		return
	}

	if dir := c.stagingDirFor(t); dir != "" {
		staged, err := handoff.Stage(dir, items)
		if err != nil {
			c.fail(env, fmt.Errorf("stage items: %w", err))
			return
		}
		items = staged
		// Collected copies are only kept when the exchange completes.
		t.Subscribe(func(state content.State) {
			if state == content.StateAborted {
				if err := handoff.Purge(dir); err != nil {
					log.Warnf("purge staging dir %s: %v", dir, err)
				}
			}
		})
	}

	info := transferPayload(t)
	c.respond(env, ResultPayload{OK: true, Transfer: &info, Items: itemPayloads(items)})
}

func (c *serverConn) stagingDirFor(t hub.Transfer) string {
	root := c.server.options.StagingDir
	if root == "" {
		return ""
	}
	return filepath.Join(root, t.Destination().ID(), t.ID())
}

func (c *serverConn) handleSelectPeer(env Envelope) {
	var sel SelectPeerPayload
	if err := json.Unmarshal(env.Payload, &sel); err != nil {
		c.respondErr(env, CodeBadRequest, fmt.Errorf("decode select peer: %w", err))
		return
	}
	t, err := c.server.options.Hub.Lookup(sel.TransferID)
	if err != nil {
		c.fail(env, err)
		return
	}
	if err := t.SelectPeer(sel.Peer.peer()); err != nil {
		c.fail(env, err)
		return
	}
	info := transferPayload(t)
	c.respond(env, ResultPayload{OK: true, Transfer: &info})
}

func (c *serverConn) handleKnownPeers(env Envelope) {
	var query TypeQueryPayload
	if err := json.Unmarshal(env.Payload, &query); err != nil {
		c.respondErr(env, CodeBadRequest, fmt.Errorf("decode peer query: %w", err))
		return
	}
	contentType, err := content.ParseType(query.ContentType)
	if err != nil {
		c.respondErr(env, CodeBadRequest, err)
		return
	}

	peers := c.server.options.Hub.KnownPeersFor(contentType)
	payloads := make([]PeerPayload, 0, len(peers))
	for _, p := range peers {
		payloads = append(payloads, peerPayload(p))
	}
	c.respond(env, ResultPayload{OK: true, Peers: payloads})
}

func (c *serverConn) handleDefaultPeer(env Envelope) {
	var query TypeQueryPayload
	if err := json.Unmarshal(env.Payload, &query); err != nil {
		c.respondErr(env, CodeBadRequest, fmt.Errorf("decode peer query: %w", err))
		return
	}
	contentType, err := content.ParseType(query.ContentType)
	if err != nil {
		c.respondErr(env, CodeBadRequest, err)
		return
	}

	peer := peerPayload(c.server.options.Hub.DefaultPeerFor(contentType))
	c.respond(env, ResultPayload{OK: true, Peer: &peer})
}

func (c *serverConn) handleHasPending(env Envelope, app string) {
	var query PendingQueryPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &query); err != nil {
			c.respondErr(env, CodeBadRequest, fmt.Errorf("decode pending query: %w", err))
			return
		}
	}
	if query.App == "" {
		query.App = app
	}
	c.respond(env, ResultPayload{OK: true, Pending: c.server.options.Hub.HasPending(query.App)})
}

func (c *serverConn) handleRegisterHandler(env Envelope, app string) {
	c.mu.Lock()
	c.handling = true
	c.mu.Unlock()

	// Registration replays pending events, so notifications may reach the
	// client before this result does.
	c.server.options.Hub.RegisterHandler(app, connHandler{conn: c})
	c.respond(env, ResultPayload{OK: true})
}

func (c *serverConn) respond(env Envelope, result ResultPayload) {
	raw, err := EncodeEnvelope(TypeResult, env.RequestID, result)
	if err != nil {
		log.Errorf("encode result: %v", err)
		return
	}
	if err := c.writeFrame(raw); err != nil {
		log.Debugf("write result to %s: %v", c.conn.RemoteAddr(), err)
	}
}

// fail answers with the wire code derived from a hub or transfer error.
func (c *serverConn) fail(env Envelope, err error) {
	c.respondErr(env, codeForError(err), err)
}

func (c *serverConn) respondErr(env Envelope, code string, err error) {
	c.respond(env, ResultPayload{OK: false, Code: code, Error: err.Error()})
}

func (c *serverConn) pushNotification(event string, info TransferPayload) {
	raw, err := EncodeEnvelope(TypeNotification, "", NotificationPayload{Event: event, Transfer: info})
	if err != nil {
		log.Errorf("encode notification: %v", err)
		return
	}
	if err := c.writeFrame(raw); err != nil {
		log.Warnf("push %s to %s: %v", event, c.conn.RemoteAddr(), err)
	}
}

func (c *serverConn) writeFrame(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	return WriteFrame(c.conn, raw)
}

func (c *serverConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	app := c.app
	handling := c.handling
	cancels := c.subCancels
	c.subCancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if handling {
		c.server.options.Hub.UnregisterHandler(app)
	}
	_ = c.conn.Close()
}

// connHandler forwards hub events to one connected application.
type connHandler struct {
	conn *serverConn
}

func (h connHandler) OnExportRequested(t hub.Transfer) {
	h.conn.pushNotification(EventExportRequested, transferPayload(t))
}

func (h connHandler) OnImportRequested(t hub.Transfer) {
	h.conn.pushNotification(EventImportRequested, transferPayload(t))
}

func (h connHandler) OnShareRequested(t hub.Transfer) {
	h.conn.pushNotification(EventShareRequested, transferPayload(t))
}
