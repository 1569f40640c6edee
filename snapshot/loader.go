package snapshot

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

var ErrNoSnapshot = errors.New("no snapshot")

func list(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "snapshot-*.bin"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Latest returns the path of the newest snapshot in dir.
func Latest(dir string) (string, error) {
	files, err := list(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNoSnapshot
	}
	return files[len(files)-1], nil
}

func Load(path string) (State, error) {
	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()

	var s State
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return State{}, fmt.Errorf("snapshot: decode %s: %w", path, err)
	}
	if s.Version != formatVersion {
		return State{}, fmt.Errorf("snapshot: %s has version %d, want %d", path, s.Version, formatVersion)
	}
	return s, nil
}

// LoadLatest loads the newest snapshot in dir. A missing snapshot yields
// ErrNoSnapshot.
func LoadLatest(dir string) (State, error) {
	path, err := Latest(dir)
	if err != nil {
		return State{}, err
	}
	return Load(path)
}
