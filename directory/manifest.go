package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"contenthub/content"
)

// ManifestSource reads peer capability manifests from a directory, one
// JSON file per peer:
//
//	{
//	  "id": "org.example.gallery",
//	  "name": "Gallery",
//	  "source": ["pictures", "videos"],
//	  "destination": ["pictures"],
//	  "share": []
//	}
//
// A missing id falls back to the file name. Malformed files are skipped
// with a warning so one bad manifest cannot hide the rest.
type ManifestSource struct {
	dir string
}

// NewManifestSource reads manifests from dir. A missing directory reads
// as empty.
func NewManifestSource(dir string) *ManifestSource {
	return &ManifestSource{dir: dir}
}

type manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Source      []string `json:"source"`
	Destination []string `json:"destination"`
	Share       []string `json:"share"`
}

// Entries loads all manifests, ordered by file name.
func (m *ManifestSource) Entries(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		path := filepath.Join(m.dir, de.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("reading manifest %s: %v", path, err)
			continue
		}
		var mf manifest
		if err := json.Unmarshal(raw, &mf); err != nil {
			log.Warnf("parsing manifest %s: %v", path, err)
			continue
		}
		id := strings.TrimSpace(mf.ID)
		if id == "" {
			id = strings.TrimSuffix(de.Name(), ".json")
		}
		entries = append(entries, Entry{
			Peer:        content.NewNamedPeer(id, strings.TrimSpace(mf.Name)),
			Source:      parseTypeNames(mf.Source, path),
			Destination: parseTypeNames(mf.Destination, path),
			Share:       parseTypeNames(mf.Share, path),
		})
	}
	return entries, nil
}

func parseTypeNames(names []string, origin string) []content.Type {
	var out []content.Type
	for _, name := range names {
		ct, err := content.ParseType(strings.TrimSpace(name))
		if err != nil {
			log.Warnf("%s: %v", origin, err)
			continue
		}
		out = append(out, ct)
	}
	return out
}
