// Package wire exposes a hub to other local processes over a stream
// socket. Frames are length-prefixed JSON envelopes: requests carry a
// request id echoed by the matching result, notifications flow
// server-to-client without one.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"contenthub/content"
	"contenthub/hub"
	"contenthub/transfer"
)

const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = 1
	// MaxFrameSize is the maximum accepted frame payload size (4 MB).
	MaxFrameSize = 4 * 1024 * 1024
	// DefaultWriteTimeout bounds each frame write so one dead peer
	// cannot wedge the hub.
	DefaultWriteTimeout = 5 * time.Second
	// DefaultCallTimeout bounds each client request round trip.
	DefaultCallTimeout = 10 * time.Second
)

const (
	TypeHello           = "hello"
	TypeResult          = "result"
	TypeCreateTransfer  = "create_transfer"
	TypeStart           = "start"
	TypeCharge          = "charge"
	TypeCollect         = "collect"
	TypeFinalize        = "finalize"
	TypeAbort           = "abort"
	TypeSelectPeer      = "select_peer"
	TypeKnownPeers      = "known_peers"
	TypeDefaultPeer     = "default_peer"
	TypeHasPending      = "has_pending"
	TypeRegisterHandler = "register_handler"
	TypeNotification    = "notification"
)

const (
	EventStateChanged    = "state_changed"
	EventExportRequested = "export_requested"
	EventImportRequested = "import_requested"
	EventShareRequested  = "share_requested"
)

const (
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeEmptyPayload      = "empty_payload"
	CodePeerUnresolved    = "peer_unresolved"
	CodePeerUnreachable   = "peer_unreachable"
	CodeBadRequest        = "bad_request"
	CodeInternal          = "internal"
)

var (
	// ErrFrameTooLarge indicates a payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("wire: frame exceeds max size")
	// ErrInvalidMessageType indicates the message type is missing or unknown.
	ErrInvalidMessageType = errors.New("wire: invalid message type")
	// ErrClosed indicates the connection is gone.
	ErrClosed = errors.New("wire: connection closed")
)

// Envelope frames every message on the wire.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload identifies the connecting application.
type HelloPayload struct {
	App             string `json:"app"`
	ProtocolVersion int    `json:"protocol_version"`
}

// CreatePayload describes a transfer to create.
type CreatePayload struct {
	Direction   string `json:"direction"`
	ContentType string `json:"content_type"`
	Peer        string `json:"peer,omitempty"`
	Selection   string `json:"selection,omitempty"`
	AllowEmpty  bool   `json:"allow_empty,omitempty"`
}

// TransferRefPayload addresses an existing transfer.
type TransferRefPayload struct {
	TransferID string `json:"transfer_id"`
}

// ChargePayload loads items onto a transfer.
type ChargePayload struct {
	TransferID string        `json:"transfer_id"`
	Items      []ItemPayload `json:"items"`
}

// SelectPeerPayload resolves a transfer's open end.
type SelectPeerPayload struct {
	TransferID string      `json:"transfer_id"`
	Peer       PeerPayload `json:"peer"`
}

// TypeQueryPayload asks about peers for a content type.
type TypeQueryPayload struct {
	ContentType string `json:"content_type"`
}

// PendingQueryPayload asks whether an application has undelivered work.
// An empty App means the connected application.
type PendingQueryPayload struct {
	App string `json:"app,omitempty"`
}

// PeerPayload is a peer on the wire. An empty id is the unknown peer.
type PeerPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ItemPayload is a content item on the wire.
type ItemPayload struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// TransferPayload mirrors a transfer's observable surface.
type TransferPayload struct {
	ID          string        `json:"id"`
	Direction   string        `json:"direction"`
	ContentType string        `json:"content_type"`
	Selection   string        `json:"selection"`
	State       string        `json:"state"`
	Source      PeerPayload   `json:"source"`
	Destination PeerPayload   `json:"destination"`
	Items       []ItemPayload `json:"items,omitempty"`
}

// ResultPayload answers one request.
type ResultPayload struct {
	OK       bool             `json:"ok"`
	Code     string           `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
	Transfer *TransferPayload `json:"transfer,omitempty"`
	Items    []ItemPayload    `json:"items,omitempty"`
	Peers    []PeerPayload    `json:"peers,omitempty"`
	Peer     *PeerPayload     `json:"peer,omitempty"`
	Pending  bool             `json:"pending,omitempty"`
}

// NotificationPayload pushes an event about a transfer.
type NotificationPayload struct {
	Event    string          `json:"event"`
	Transfer TransferPayload `json:"transfer"`
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// EncodeEnvelope marshals an envelope with its payload.
func EncodeEnvelope(msgType, requestID string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Payload = raw
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return raw, nil
}

func peerPayload(p content.Peer) PeerPayload {
	if p.IsUnknown() {
		return PeerPayload{}
	}
	return PeerPayload{ID: p.ID(), Name: p.Name()}
}

func (p PeerPayload) peer() content.Peer {
	if p.ID == "" {
		return content.UnknownPeer()
	}
	return content.NewNamedPeer(p.ID, p.Name)
}

func itemPayloads(items []content.Item) []ItemPayload {
	out := make([]ItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, ItemPayload{URL: item.URL(), Name: item.Name()})
	}
	return out
}

func payloadItems(payloads []ItemPayload) []content.Item {
	out := make([]content.Item, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, content.NewNamedItem(p.URL, p.Name))
	}
	return out
}

func transferPayload(t hub.Transfer) TransferPayload {
	return TransferPayload{
		ID:          t.ID(),
		Direction:   t.Direction().String(),
		ContentType: t.ContentType().String(),
		Selection:   t.SelectionType().String(),
		State:       t.State().String(),
		Source:      peerPayload(t.Source()),
		Destination: peerPayload(t.Destination()),
		Items:       itemPayloads(t.Items()),
	}
}

// codeForError maps hub and transfer errors to wire codes.
func codeForError(err error) string {
	switch {
	case errors.Is(err, transfer.ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, transfer.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, transfer.ErrEmptyPayload):
		return CodeEmptyPayload
	case errors.Is(err, transfer.ErrPeerUnresolved):
		return CodePeerUnresolved
	case errors.Is(err, hub.ErrPeerUnreachable):
		return CodePeerUnreachable
	default:
		return CodeInternal
	}
}

// wireError carries a result failure back to callers while staying
// matchable with errors.Is against the local sentinels.
type wireError struct {
	code    string
	message string
	base    error
}

func (e *wireError) Error() string {
	if e.message != "" {
		return e.message
	}
	if e.base != nil {
		return e.base.Error()
	}
	return e.code
}

func (e *wireError) Unwrap() error {
	return e.base
}

// errorForCode reverses codeForError on the client side.
func errorForCode(code, message string) error {
	var base error
	switch code {
	case CodeInvalidTransition:
		base = transfer.ErrInvalidTransition
	case CodeNotFound:
		base = transfer.ErrNotFound
	case CodeEmptyPayload:
		base = transfer.ErrEmptyPayload
	case CodePeerUnresolved:
		base = transfer.ErrPeerUnresolved
	case CodePeerUnreachable:
		base = hub.ErrPeerUnreachable
	}
	return &wireError{code: code, message: message, base: base}
}
