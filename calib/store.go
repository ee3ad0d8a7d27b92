package calib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound means the store holds no calibration yet; the caller should
// fall back to defaults or run the learning routine.
var ErrNotFound = errors.New("no stored calibration")

// Store persists calibration between boots. The scanner itself never
// persists anything; it is handed a Store by whoever owns the filesystem.
type Store interface {
	// Load reads a set of n channels. Returns ErrNotFound when nothing
	// has been stored yet.
	Load(n int) (Set, error)
	// Save persists the set, replacing any previous one.
	Save(Set) error
}

// FileStore keeps the two u16 arrays in a single flat file.
type FileStore struct {
	Path string
}

func (f *FileStore) Load(n int) (Set, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("calib load: %w", err)
	}
	s := make(Set, n)
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes to a temp file first so a crash mid-write cannot leave a
// torn calibration behind.
func (f *FileStore) Save(s Set) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	tmp := f.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("calib save: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("calib save: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("calib save: %w", err)
	}
	return nil
}
