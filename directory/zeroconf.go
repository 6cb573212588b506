package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"contenthub/content"
)

const (
	// DefaultService is the mDNS service content peers announce under.
	DefaultService = "_content-peer._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultScanTimeout bounds each browse window.
	DefaultScanTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// ZeroconfConfig controls announcing and browsing content peers on the
// local network.
type ZeroconfConfig struct {
	Service     string
	Domain      string
	ScanTimeout time.Duration

	// Local describes this host. Announce publishes it; browsing skips
	// it by peer id.
	Local Entry
	Port  int

	registerFn registerFunc
	browseFn   browseFunc
}

func (c ZeroconfConfig) withDefaults() ZeroconfConfig {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Announcer advertises the local hub's capabilities via mDNS.
type Announcer struct {
	server *zeroconf.Server
}

// Announce publishes the local entry on the LAN.
func Announce(config ZeroconfConfig) (*Announcer, error) {
	cfg := config.withDefaults()
	if cfg.Local.Peer.IsUnknown() {
		return nil, errors.New("directory: announcing requires a local peer id")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("directory: announcing requires a port")
	}

	txt := []string{
		"id=" + cfg.Local.Peer.ID(),
		"name=" + cfg.Local.Peer.Name(),
		"source=" + joinTypes(cfg.Local.Source),
		"destination=" + joinTypes(cfg.Local.Destination),
		"share=" + joinTypes(cfg.Local.Share),
	}

	server, err := cfg.registerFn(cfg.Local.Peer.Name(), cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	return &Announcer{server: server}, nil
}

// Stop withdraws the announcement.
func (a *Announcer) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// ZeroconfSource discovers content peers announced on the local
// network. Each Entries call runs one bounded browse window.
type ZeroconfSource struct {
	cfg    ZeroconfConfig
	browse browseFunc
}

// NewZeroconfSource returns a source browsing for announced peers.
func NewZeroconfSource(config ZeroconfConfig) (*ZeroconfSource, error) {
	cfg := config.withDefaults()
	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}
	return &ZeroconfSource{cfg: cfg, browse: browse}, nil
}

// Entries browses until the scan window closes and returns the peers
// seen, ordered by id.
func (s *ZeroconfSource) Entries(ctx context.Context) ([]Entry, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	found := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]Entry)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-found:
				if entry == nil {
					continue
				}
				parsed, ok := parseServiceEntry(entry, s.cfg.Local.Peer.ID())
				if !ok {
					continue
				}
				collectedMu.Lock()
				collected[parsed.Peer.ID()] = parsed
				collectedMu.Unlock()
			}
		}
	}()

	if err := s.browse(scanCtx, s.cfg.Service, s.cfg.Domain, found); err != nil {
		return nil, fmt.Errorf("browse %s: %w", s.cfg.Service, err)
	}

	<-scanCtx.Done()
	<-collectorDone

	collectedMu.Lock()
	defer collectedMu.Unlock()
	out := make([]Entry, 0, len(collected))
	for _, e := range collected {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer.ID() < out[j].Peer.ID() })
	return out, nil
}

func parseServiceEntry(entry *zeroconf.ServiceEntry, selfID string) (Entry, bool) {
	txt := txtToMap(entry.Text)

	id := strings.TrimSpace(txt["id"])
	if id == "" || id == selfID {
		return Entry{}, false
	}

	name := strings.TrimSpace(txt["name"])
	if name == "" {
		name = strings.TrimSpace(entry.Instance)
	}

	return Entry{
		Peer:        content.NewNamedPeer(id, name),
		Source:      splitTypes(txt["source"]),
		Destination: splitTypes(txt["destination"]),
		Share:       splitTypes(txt["share"]),
	}, true
}

func joinTypes(types []content.Type) string {
	names := make([]string, 0, len(types))
	for _, ct := range types {
		names = append(names, ct.String())
	}
	return strings.Join(names, ",")
}

func splitTypes(raw string) []content.Type {
	var out []content.Type
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ct, err := content.ParseType(name)
		if err != nil {
			continue
		}
		out = append(out, ct)
	}
	return out
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
