// Package content holds the value types shared across the hub: peers,
// content types, items, and the transfer lifecycle enums. Everything here
// is immutable once constructed and safe to share between goroutines.
package content

// peerMeta carries display data shared by every copy of a Peer.
type peerMeta struct {
	name string
}

// Peer identifies an application able to produce or consume content.
// Identity is the identifier alone; display metadata never participates
// in equality. The zero value is the unknown sentinel.
type Peer struct {
	id   string
	meta *peerMeta
}

// NewPeer returns a peer identified by id with no display metadata.
func NewPeer(id string) Peer {
	return Peer{id: id}
}

// NewNamedPeer returns a peer identified by id carrying a display name.
func NewNamedPeer(id, name string) Peer {
	return Peer{id: id, meta: &peerMeta{name: name}}
}

// UnknownPeer returns the sentinel used when no peer has been resolved.
// It compares unequal to every real peer.
func UnknownPeer() Peer {
	return Peer{}
}

// ID returns the stable identifier.
func (p Peer) ID() string {
	return p.id
}

// Name returns the display name, falling back to the identifier when no
// metadata was resolved.
func (p Peer) Name() string {
	if p.meta != nil && p.meta.name != "" {
		return p.meta.name
	}
	return p.id
}

// IsUnknown reports whether p is the unresolved sentinel.
func (p Peer) IsUnknown() bool {
	return p.id == ""
}

// Equal reports identity equality, by identifier only.
func (p Peer) Equal(other Peer) bool {
	return p.id == other.id
}

func (p Peer) String() string {
	if p.IsUnknown() {
		return "peer(unknown)"
	}
	return "peer(" + p.id + ")"
}
