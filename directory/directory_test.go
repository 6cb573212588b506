package directory

import (
	"context"
	"errors"
	"testing"

	"contenthub/content"
)

type staticSource struct {
	entries []Entry
	err     error
}

func (s staticSource) Entries(ctx context.Context) ([]Entry, error) {
	return s.entries, s.err
}

func galleryEntry() Entry {
	return Entry{
		Peer:        content.NewNamedPeer("org.example.gallery", "Gallery"),
		Source:      []content.Type{content.TypePictures, content.TypeVideos},
		Destination: []content.Type{content.TypePictures},
	}
}

func playerEntry() Entry {
	return Entry{
		Peer:   content.NewNamedPeer("org.example.player", "Music Player"),
		Source: []content.Type{content.TypeMusic},
		Share:  []content.Type{content.TypeMusic},
	}
}

func refreshed(t *testing.T, options Options) *Directory {
	t.Helper()
	d := New(options)
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return d
}

func TestRefreshCollectsAllSources(t *testing.T) {
	d := refreshed(t, Options{Sources: []Source{
		staticSource{entries: []Entry{galleryEntry()}},
		staticSource{entries: []Entry{playerEntry()}},
	}})

	if got := len(d.Entries()); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}
	if got := d.KnownSourcesFor(content.TypePictures); len(got) != 1 || got[0].ID() != "org.example.gallery" {
		t.Fatalf("picture sources = %v", got)
	}
	if got := d.KnownSourcesFor(content.TypeMusic); len(got) != 1 || got[0].ID() != "org.example.player" {
		t.Fatalf("music sources = %v", got)
	}
}

func TestRefreshKeepsGoodSourcesOnFailure(t *testing.T) {
	scanErr := errors.New("network down")
	d := New(Options{Sources: []Source{
		staticSource{entries: []Entry{galleryEntry()}},
		staticSource{err: scanErr},
	}})

	err := d.Refresh(context.Background())
	if !errors.Is(err, scanErr) {
		t.Fatalf("Refresh error = %v, want %v", err, scanErr)
	}
	if got := d.KnownSourcesFor(content.TypePictures); len(got) != 1 {
		t.Fatalf("picture sources after partial failure = %v", got)
	}
}

func TestRoleFiltering(t *testing.T) {
	d := refreshed(t, Options{Sources: []Source{
		staticSource{entries: []Entry{galleryEntry(), playerEntry()}},
	}})

	if got := d.KnownDestinationsFor(content.TypePictures); len(got) != 1 || got[0].ID() != "org.example.gallery" {
		t.Fatalf("picture destinations = %v", got)
	}
	if got := d.KnownSharesFor(content.TypeMusic); len(got) != 1 || got[0].ID() != "org.example.player" {
		t.Fatalf("music shares = %v", got)
	}
	if got := d.KnownSharesFor(content.TypePictures); len(got) != 0 {
		t.Fatalf("picture shares = %v, want none", got)
	}
}

func TestWildcardCapabilities(t *testing.T) {
	vault := Entry{
		Peer:   content.NewNamedPeer("org.example.vault", "Vault"),
		Source: []content.Type{content.TypeAll},
	}
	d := refreshed(t, Options{Sources: []Source{
		staticSource{entries: []Entry{vault, galleryEntry()}},
	}})

	if got := d.KnownSourcesFor(content.TypeDocuments); len(got) != 1 || got[0].ID() != "org.example.vault" {
		t.Fatalf("document sources = %v", got)
	}
	// Querying for "all" matches every peer providing anything.
	if got := d.KnownSourcesFor(content.TypeAll); len(got) != 2 {
		t.Fatalf("catch-all sources = %v", got)
	}
}

func TestPeersDeduplicatedAcrossSources(t *testing.T) {
	d := refreshed(t, Options{Sources: []Source{
		staticSource{entries: []Entry{galleryEntry()}},
		staticSource{entries: []Entry{galleryEntry()}},
	}})

	if got := d.KnownSourcesFor(content.TypePictures); len(got) != 1 {
		t.Fatalf("sources = %v, want deduplicated single entry", got)
	}
}

func TestDefaultPeerFor(t *testing.T) {
	d := refreshed(t, Options{
		Sources: []Source{staticSource{entries: []Entry{galleryEntry(), playerEntry()}}},
		Defaults: map[content.Type]string{
			content.TypePictures: "org.example.gallery",
			content.TypeMusic:    "org.example.jukebox",
		},
	})

	if got := d.DefaultPeerFor(content.TypePictures); got.ID() != "org.example.gallery" || got.Name() != "Gallery" {
		t.Fatalf("pictures default = %v", got)
	}
	// Configured but unannounced defaults still resolve by id.
	if got := d.DefaultPeerFor(content.TypeMusic); got.ID() != "org.example.jukebox" {
		t.Fatalf("music default = %v", got)
	}
	// No default configured: first capable provider wins.
	if got := d.DefaultPeerFor(content.TypeVideos); got.ID() != "org.example.gallery" {
		t.Fatalf("videos default = %v", got)
	}
	if got := d.DefaultPeerFor(content.TypeContacts); !got.IsUnknown() {
		t.Fatalf("contacts default = %v, want unknown", got)
	}
}

func TestSearchPeersRanking(t *testing.T) {
	d := refreshed(t, Options{Sources: []Source{
		staticSource{entries: []Entry{playerEntry(), galleryEntry()}},
	}})

	if got := d.SearchPeers(content.TypeAll, ""); len(got) != 2 {
		t.Fatalf("unranked peers = %v", got)
	}
	if got := d.SearchPeers(content.TypeAll, "galery"); got[0].ID() != "org.example.gallery" {
		t.Fatalf("best match for 'galery' = %v", got[0])
	}
	if got := d.SearchPeers(content.TypeAll, "Player"); got[0].ID() != "org.example.player" {
		t.Fatalf("best match for 'Player' = %v", got[0])
	}
	// Scoped to a type, only capable peers are candidates at all.
	if got := d.SearchPeers(content.TypeMusic, "galery"); len(got) != 1 || got[0].ID() != "org.example.player" {
		t.Fatalf("music-scoped search = %v, want player only", got)
	}
}
