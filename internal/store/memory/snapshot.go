// internal/store/memory/snapshot.go
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"coopcredit/internal/domain"
)

// Snapshot is the on-disk form of the store. LegacyLoans holds loan documents
// exported by older front-end builds; they are normalized on load and written
// back under Loans.
type Snapshot struct {
	SavedAt     time.Time             `json:"saved_at"`
	Members     []*domain.Member      `json:"members"`
	Loans       []*domain.Loan        `json:"loans"`
	Requests    []*domain.LoanRequest `json:"requests"`
	LegacyLoans []domain.LegacyLoan   `json:"legacy_loans,omitempty"`
}

// LoadSnapshot reads the snapshot at path. ok is false when no file exists.
func LoadSnapshot(path string) (snap Snapshot, ok bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, true, nil
}

// SaveSnapshot writes to a temporary file and renames it over path, so a
// crash mid-write leaves the previous snapshot intact.
func SaveSnapshot(path string, snap Snapshot) error {
	snap.SavedAt = time.Now().UTC()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
