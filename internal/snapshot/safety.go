package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/streamspace-dev/payload-launcher/internal/errs"
)

// Load reads and validates a snapshot by file name, refusing any name
// that isn't its own basename or that would resolve outside the store's
// directory (spec.md §4.10's safety rule): a caller-supplied name must
// equal filepath.Base(name) and the resolved path must remain inside
// st.Dir, otherwise the call fails with InvalidSnapshot.
func (st *Store) Load(name string) (*Snapshot, error) {
	if err := st.validateName(name); err != nil {
		return nil, err
	}
	return st.loadFile(name)
}

// Delete removes a snapshot by file name, with the same safety check as
// Load.
func (st *Store) Delete(name string) error {
	if err := st.validateName(name); err != nil {
		return err
	}
	path := filepath.Join(st.Dir, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (st *Store) validateName(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("%w: %q is not a bare file name", errs.ErrInvalidSnapshot, name)
	}
	resolved := filepath.Join(st.Dir, name)
	absDir, err := filepath.Abs(st.Dir)
	if err != nil {
		return err
	}
	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absDir, absResolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q escapes the snapshots directory", errs.ErrInvalidSnapshot, name)
	}
	return nil
}

// marshal returns the same indented JSON encoding Store.Write persists.
// Nothing in the package, tests included, calls it.
func marshal(s *Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
