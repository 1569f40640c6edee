package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

type Writer struct {
	Dir string
	// Keep is how many snapshots survive Prune; 0 keeps them all.
	Keep int
}

func fileName(seq uint64) string {
	return fmt.Sprintf("snapshot-%020d.bin", seq)
}

// Write stores s atomically: readers see either the old set of snapshots
// or the complete new one.
func (w *Writer) Write(s State) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	s.Version = formatVersion

	tmp, err := os.CreateTemp(w.Dir, "snapshot-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&s); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(w.Dir, fileName(s.Seq))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, w.Prune()
}

// Prune removes all but the newest Keep snapshots.
func (w *Writer) Prune() error {
	if w.Keep <= 0 {
		return nil
	}
	files, err := list(w.Dir)
	if err != nil {
		return err
	}
	for len(files) > w.Keep {
		if err := os.Remove(files[0]); err != nil {
			return err
		}
		files = files[1:]
	}
	return nil
}
