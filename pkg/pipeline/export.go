package pipeline

import (
	"io"
	"os"
	"path/filepath"

	"github.com/matzehuels/tilecraft/pkg/errors"
	"github.com/matzehuels/tilecraft/pkg/extract"
)

// ExportCollections copies every collection, empty ones included, to
// <dir>/features/<category>.geojson. It returns the written paths by
// category.
func ExportCollections(dir string, collections map[string]extract.CollectionRef) (map[string]string, error) {
	featDir := filepath.Join(dir, FeaturesDir)
	if err := os.MkdirAll(featDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", featDir)
	}
	out := make(map[string]string, len(collections))
	for name, ref := range collections {
		dst := filepath.Join(featDir, name+extract.CollectionExt)
		if err := copyFileAtomic(ref.Path, dst); err != nil {
			return out, errors.Wrap(errors.ErrCodeInternal, err, "export %s", name)
		}
		out[name] = dst
	}
	return out, nil
}

// ExportArchive copies the archive at src to <dir>/<name>.mbtiles.
func ExportArchive(dir, name, src string) (string, error) {
	if err := errors.ValidateOutputName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", dir)
	}
	dst := filepath.Join(dir, name+ArchiveExt)
	if err := copyFileAtomic(src, dst); err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "export archive")
	}
	return dst, nil
}

// copyFileAtomic copies src to a temporary sibling of dst and renames it,
// so readers of dst never see a partial file.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
