package content

import "testing"

func TestPeerIdentity(t *testing.T) {
	a := NewNamedPeer("com.example.gallery", "Gallery")
	b := NewPeer("com.example.gallery")
	c := NewPeer("com.example.notes")

	if !a.Equal(b) {
		t.Fatalf("peers with the same id should be equal regardless of metadata")
	}
	if a.Equal(c) {
		t.Fatalf("peers with different ids compared equal")
	}
	if a.Name() != "Gallery" {
		t.Fatalf("unexpected name: %q", a.Name())
	}
	if b.Name() != "com.example.gallery" {
		t.Fatalf("name should fall back to the id, got %q", b.Name())
	}
}

func TestUnknownPeerSentinel(t *testing.T) {
	unknown := UnknownPeer()
	if !unknown.IsUnknown() {
		t.Fatalf("sentinel not reported as unknown")
	}
	if unknown.Equal(NewPeer("com.example.gallery")) {
		t.Fatalf("sentinel compared equal to a real peer")
	}
	var zero Peer
	if !zero.IsUnknown() {
		t.Fatalf("zero value should be the unknown sentinel")
	}
}

func TestPeerCopiesShareMetadata(t *testing.T) {
	a := NewNamedPeer("com.example.gallery", "Gallery")
	b := a
	if b.Name() != "Gallery" {
		t.Fatalf("copy lost display metadata: %q", b.Name())
	}
}

func TestTypeParseRoundTrip(t *testing.T) {
	for _, name := range []string{"pictures", "documents", "contacts", "links", "all"} {
		parsed, err := ParseType(name)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", name, err)
		}
		if parsed.String() != name {
			t.Fatalf("round trip mismatch: %q -> %q", name, parsed.String())
		}
	}
	if _, err := ParseType("holograms"); err == nil {
		t.Fatalf("expected error for unknown type name")
	}
}

func TestTypeTransferable(t *testing.T) {
	if TypeAll.Transferable() {
		t.Fatalf("wildcard must not be transferable")
	}
	if TypeUnknown.Transferable() {
		t.Fatalf("zero value must not be transferable")
	}
	if !TypePictures.Transferable() {
		t.Fatalf("pictures should be transferable")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCreated, StateInProgress, StateCharged, StateCollected} {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
	for _, s := range []State{StateFinalized, StateAborted} {
		if !s.Terminal() {
			t.Fatalf("%s not reported terminal", s)
		}
	}
}

func TestItemValues(t *testing.T) {
	item := NewNamedItem("file:///tmp/a.jpg", "a.jpg")
	if item.URL() != "file:///tmp/a.jpg" || item.Name() != "a.jpg" {
		t.Fatalf("unexpected item fields: %q %q", item.URL(), item.Name())
	}
	if NewItem("http://example.com").Name() != "" {
		t.Fatalf("name should default to empty")
	}
}
