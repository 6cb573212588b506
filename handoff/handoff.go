// Package handoff stages collected content items into a directory owned
// by the receiving side, so items stay readable after the source
// application cleans up or exits.
package handoff

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"contenthub/content"
)

// Stage copies file-backed items into dir and returns items pointing at
// the staged copies, preserving order and display names. Items with a
// non-file scheme pass through untouched. A missing source file fails
// the whole staging.
func Stage(dir string, items []content.Item) ([]content.Item, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	staged := make([]content.Item, 0, len(items))
	for _, item := range items {
		path, ok := localPath(item.URL())
		if !ok {
			staged = append(staged, item)
			continue
		}
		target, err := copyIn(dir, path)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", item.URL(), err)
		}
		staged = append(staged, content.NewNamedItem("file://"+target, item.Name()))
	}
	return staged, nil
}

// Purge removes a staging directory and everything under it.
func Purge(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge staging directory: %w", err)
	}
	return nil
}

// localPath extracts a filesystem path from an item URL, accepting bare
// paths and file:// URLs.
func localPath(raw string) (string, bool) {
	if strings.HasPrefix(raw, "/") {
		return raw, true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch u.Scheme {
	case "":
		return raw, true
	case "file":
		if u.Path != "" {
			return u.Path, true
		}
		return strings.TrimPrefix(raw, "file://"), true
	default:
		return "", false
	}
}

func copyIn(dir, path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	name := filepath.Base(path)
	if name == "" || name == "." || name == "/" {
		name = "item.bin"
	}
	target := filepath.Join(dir, name)
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(dir, uuid.NewString()[:8]+"_"+name)
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return target, nil
}
