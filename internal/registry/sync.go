package registry

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/conneroisu/keywave/internal/kwerrors"
)

// DataVersionFile stamps the data directory with the schema version that
// last synced it.
const DataVersionFile = "data-version.json"

type dataVersion struct {
	Version string `json:"version"`
}

// ReadDataVersion returns the stamped version of dataDir, or "" when the
// stamp is missing or unreadable.
func ReadDataVersion(dataDir string) string {
	raw, err := os.ReadFile(filepath.Join(dataDir, DataVersionFile))
	if err != nil {
		return ""
	}

	var dv dataVersion
	if err := json.Unmarshal(raw, &dv); err != nil {
		return ""
	}
	return dv.Version
}

// WriteDataVersion stamps dataDir with version atomically.
func WriteDataVersion(dataDir, version string) error {
	raw, err := json.MarshalIndent(dataVersion{Version: version}, "", "  ")
	if err != nil {
		return kwerrors.NewInternalError(kwerrors.ErrCodeInternalError, "encode data version", err)
	}

	path := filepath.Join(dataDir, DataVersionFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodeManifestWrite, "write data version", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodeManifestWrite, "publish data version", err)
	}
	return nil
}

// SyncBundled mirrors the shipped pack source directory into the bundled
// root. Files are copied when missing or when their size differs, so
// re-running after an upgrade refreshes changed assets without touching
// anything under the user root. The sync is idempotent.
func (r *PackRegistry) SyncBundled(ctx context.Context, sourceDir string) error {
	if _, err := os.Stat(sourceDir); err != nil {
		if os.IsNotExist(err) {
			r.log.Debug(ctx, "no bundled pack source to sync", "source", sourceDir)
			return nil
		}
		return kwerrors.NewIOError(kwerrors.ErrCodeAssetCopy, "stat bundled source", err)
	}

	copied := 0
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(r.roots.Bundled, rel)

		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}

		same, err := sameSize(path, dst)
		if err != nil {
			return err
		}
		if same {
			return nil
		}

		if err := copyFile(path, dst); err != nil {
			return err
		}
		copied++
		return nil
	})
	if err != nil {
		return kwerrors.NewIOError(kwerrors.ErrCodeAssetCopy, "sync bundled packs", err)
	}

	r.log.Info(ctx, "bundled packs synced", "source", sourceDir, "copied", copied)
	return nil
}

func sameSize(src, dst string) (bool, error) {
	si, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return si.Size() == di.Size(), nil
}

// copyFile writes dst via a temp file so a crash mid-copy never leaves a
// truncated asset behind.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}
