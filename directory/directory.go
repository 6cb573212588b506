// Package directory resolves which peers can provide, receive, or share
// content of a given type. Entries come from pluggable sources (manifest
// files, LAN announcements) and are refreshed as a whole snapshot.
package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	logging "github.com/ipfs/go-log/v2"

	"contenthub/content"
)

var log = logging.Logger("directory")

// Entry declares one peer's capabilities per role.
type Entry struct {
	Peer        content.Peer
	Source      []content.Type
	Destination []content.Type
	Share       []content.Type
}

// CanSource reports whether the peer can provide the type.
func (e Entry) CanSource(ct content.Type) bool { return typeListed(e.Source, ct) }

// CanSink reports whether the peer can receive the type.
func (e Entry) CanSink(ct content.Type) bool { return typeListed(e.Destination, ct) }

// CanShare reports whether the peer accepts shares of the type.
func (e Entry) CanShare(ct content.Type) bool { return typeListed(e.Share, ct) }

func typeListed(list []content.Type, ct content.Type) bool {
	if ct == content.TypeAll {
		return len(list) > 0
	}
	for _, have := range list {
		if have == ct || have == content.TypeAll {
			return true
		}
	}
	return false
}

// Source supplies capability entries, for example from manifest files or
// a LAN scan.
type Source interface {
	Entries(ctx context.Context) ([]Entry, error)
}

// Options configure a Directory.
type Options struct {
	// Sources are queried in order on Refresh; earlier sources win ties
	// during default resolution.
	Sources []Source

	// Defaults maps a content type to the peer id preferred for it.
	Defaults map[content.Type]string
}

// Directory holds the current capability snapshot.
type Directory struct {
	options Options

	mu      sync.RWMutex
	entries []Entry
}

// New returns an empty directory; call Refresh to populate it.
func New(options Options) *Directory {
	return &Directory{options: options}
}

// Refresh rebuilds the snapshot from all sources. Sources that fail
// contribute nothing to the snapshot; their errors come back joined
// while the rest of the snapshot still applies.
func (d *Directory) Refresh(ctx context.Context) error {
	var next []Entry
	var errs []error
	for _, src := range d.options.Sources {
		entries, err := src.Entries(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next = append(next, entries...)
	}

	d.mu.Lock()
	d.entries = next
	d.mu.Unlock()
	log.Debugf("refreshed directory: %d entries", len(next))
	return errors.Join(errs...)
}

// Entries returns a copy of the current snapshot.
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// KnownPeersFor lists the peers able to provide the type.
func (d *Directory) KnownPeersFor(ct content.Type) []content.Peer {
	return d.KnownSourcesFor(ct)
}

// KnownSourcesFor lists the peers able to provide the type.
func (d *Directory) KnownSourcesFor(ct content.Type) []content.Peer {
	return d.peersWhere(func(e Entry) bool { return e.CanSource(ct) })
}

// KnownDestinationsFor lists the peers able to receive the type.
func (d *Directory) KnownDestinationsFor(ct content.Type) []content.Peer {
	return d.peersWhere(func(e Entry) bool { return e.CanSink(ct) })
}

// KnownSharesFor lists the peers accepting shares of the type.
func (d *Directory) KnownSharesFor(ct content.Type) []content.Peer {
	return d.peersWhere(func(e Entry) bool { return e.CanShare(ct) })
}

func (d *Directory) peersWhere(match func(Entry) bool) []content.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []content.Peer
	seen := make(map[string]struct{})
	for _, e := range d.entries {
		if !match(e) {
			continue
		}
		if _, dup := seen[e.Peer.ID()]; dup {
			continue
		}
		seen[e.Peer.ID()] = struct{}{}
		out = append(out, e.Peer)
	}
	return out
}

// DefaultPeerFor resolves the preferred provider for a type: the
// configured default when set, otherwise the first known provider,
// otherwise the unknown sentinel.
func (d *Directory) DefaultPeerFor(ct content.Type) content.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if id := d.options.Defaults[ct]; id != "" {
		for _, e := range d.entries {
			if e.Peer.ID() == id {
				return e.Peer
			}
		}
		// Configured but not (yet) announced; trust the configuration.
		return content.NewPeer(id)
	}

	for _, e := range d.entries {
		if e.CanSource(ct) {
			return e.Peer
		}
	}
	return content.UnknownPeer()
}

// SearchPeers ranks the peers capable of handling the type in any role
// by how closely their name or id matches the query. An empty query
// returns them unranked.
func (d *Directory) SearchPeers(ct content.Type, query string) []content.Peer {
	peers := d.peersWhere(func(e Entry) bool {
		return e.CanSource(ct) || e.CanSink(ct) || e.CanShare(ct)
	})
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return peers
	}

	distances := make(map[string]int, len(peers))
	for _, p := range peers {
		distances[p.ID()] = searchDistance(p, query)
	}
	sort.SliceStable(peers, func(i, j int) bool {
		return distances[peers[i].ID()] < distances[peers[j].ID()]
	})
	return peers
}

func searchDistance(p content.Peer, query string) int {
	name := strings.ToLower(p.Name())
	id := strings.ToLower(p.ID())
	if strings.Contains(name, query) || strings.Contains(id, query) {
		return 0
	}
	dist := levenshtein.ComputeDistance(name, query)
	if idDist := levenshtein.ComputeDistance(id, query); idDist < dist {
		dist = idDist
	}
	return dist
}
