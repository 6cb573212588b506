package content

import "fmt"

// Type tags the kind of content a transfer carries. The set is closed;
// TypeAll is a query wildcard and never appears on a transfer.
type Type int

const (
	TypeUnknown Type = iota
	TypeAll
	TypeDocuments
	TypePictures
	TypeMusic
	TypeContacts
	TypeVideos
	TypeLinks
	TypeEBooks
	TypeText
	TypeEvents
)

var typeNames = map[Type]string{
	TypeUnknown:   "unknown",
	TypeAll:       "all",
	TypeDocuments: "documents",
	TypePictures:  "pictures",
	TypeMusic:     "music",
	TypeContacts:  "contacts",
	TypeVideos:    "videos",
	TypeLinks:     "links",
	TypeEBooks:    "ebooks",
	TypeText:      "text",
	TypeEvents:    "events",
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, name := range typeNames {
		m[name] = t
	}
	return m
}()

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Transferable reports whether the type may appear on a transfer. The
// wildcard and the zero value are query-only.
func (t Type) Transferable() bool {
	_, ok := typeNames[t]
	return ok && t != TypeAll && t != TypeUnknown
}

// ParseType resolves a type name as used in manifests and on the wire.
func ParseType(s string) (Type, error) {
	if t, ok := typesByName[s]; ok {
		return t, nil
	}
	return TypeUnknown, fmt.Errorf("content: unknown content type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
