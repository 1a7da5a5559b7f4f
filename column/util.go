package column

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeFileAtomic stages data to a temp file and renames it into place,
// matching dict.FTree.SaveToFile's publish-by-rename discipline. The temp
// name carries a uuid suffix rather than a fixed ".tmp" so that two
// writers racing to publish the same path (a local DPN and its base, or
// two columns sharing a directory during a bulk load) never collide on
// the staging file itself.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrIO, filepath.Dir(path), err)
	}
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.New().String())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s to %s: %v", ErrIO, tmp, path, err)
	}
	return nil
}
