package directory

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"

	"contenthub/content"
)

func localEntry() Entry {
	return Entry{
		Peer:        content.NewNamedPeer("org.example.hub", "This Device"),
		Source:      []content.Type{content.TypePictures, content.TypeMusic},
		Destination: []content.Type{content.TypePictures},
	}
}

func TestAnnounceBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	cfg := ZeroconfConfig{
		Local: localEntry(),
		Port:  4533,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	announcer, err := Announce(cfg)
	if err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	defer announcer.Stop()

	if gotInstance != "This Device" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 4533 {
		t.Fatalf("unexpected port: %d", gotPort)
	}

	want := map[string]string{
		"id":          "org.example.hub",
		"name":        "This Device",
		"source":      "pictures,music",
		"destination": "pictures",
		"share":       "",
	}
	got := txtToMap(gotTXT)
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("txt[%s] = %q, want %q", key, got[key], value)
		}
	}
}

func TestAnnounceValidation(t *testing.T) {
	if _, err := Announce(ZeroconfConfig{Port: 4533}); err == nil {
		t.Fatal("expected error without a local peer id")
	}
	if _, err := Announce(ZeroconfConfig{Local: localEntry()}); err == nil {
		t.Fatal("expected error without a port")
	}
}

func fakeServiceEntry(instance string, txt []string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  DefaultService,
			Domain:   DefaultDomain,
		},
		HostName: instance + ".local",
		Port:     4533,
		Text:     txt,
	}
}

func TestZeroconfSourceCollectsAnnouncedPeers(t *testing.T) {
	cfg := ZeroconfConfig{
		Local:       localEntry(),
		ScanTimeout: 50 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- fakeServiceEntry("Gallery", []string{
				"id=org.example.gallery", "name=Gallery", "source=pictures,videos", "destination=pictures",
			})
			entries <- fakeServiceEntry("Tablet", []string{
				"id=org.example.tablet", "source=documents", "share=links",
			})
			// Our own announcement and a nameless one are skipped.
			entries <- fakeServiceEntry("This Device", []string{"id=org.example.hub", "source=pictures"})
			entries <- fakeServiceEntry("Ghost", []string{"source=music"})
			return nil
		},
	}

	src, err := NewZeroconfSource(cfg)
	if err != nil {
		t.Fatalf("NewZeroconfSource: %v", err)
	}

	entries, err := src.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if got := entries[0].Peer.ID(); got != "org.example.gallery" {
		t.Fatalf("first peer = %q", got)
	}
	if !entries[0].CanSource(content.TypeVideos) {
		t.Fatalf("gallery capabilities = %+v", entries[0])
	}
	// A missing name TXT record falls back to the instance name.
	if got := entries[1].Peer.Name(); got != "Tablet" {
		t.Fatalf("tablet name = %q", got)
	}
	if !entries[1].CanShare(content.TypeLinks) {
		t.Fatalf("tablet capabilities = %+v", entries[1])
	}
}

func TestZeroconfSourceHonorsContext(t *testing.T) {
	cfg := ZeroconfConfig{
		Local:       localEntry(),
		ScanTimeout: time.Minute,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			return nil
		},
	}

	src, err := NewZeroconfSource(cfg)
	if err != nil {
		t.Fatalf("NewZeroconfSource: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := src.Entries(ctx); err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("scan ignored context deadline, took %v", elapsed)
	}
}
