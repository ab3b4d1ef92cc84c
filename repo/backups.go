package repo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dswd/zvault/codec/crypto"
	"github.com/dswd/zvault/manifest"
	"github.com/dswd/zvault/zerr"
)

const backupExt = ".backup"

func (r *Repository) backupPath(name string) string {
	return filepath.Join(r.dir, backupsDir, name+backupExt)
}

// PutBackup flushes any pending bundle writers (so every chunk the
// backup references is already published, per spec.md §5's "a backup
// file is not published until all its referenced chunks are in
// published bundles") and writes the backup record to disk.
func (r *Repository) PutBackup(name string, b *manifest.Backup) error {
	if err := r.Flush(); err != nil {
		return err
	}
	path := r.backupPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerr.Wrap(err, zerr.Config, "creating backup subdirectory")
	}
	var pub *[crypto.KeySize]byte
	if r.keys != nil {
		pub = &r.keys.Public
	}
	raw, err := b.Marshal(pub)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-backup-*")
	if err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "creating temp backup file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return zerr.Wrap(err, zerr.IOTransient, "writing backup file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return zerr.Wrap(err, zerr.IOTransient, "fsyncing backup file")
	}
	if err := tmp.Close(); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "closing backup file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return zerr.Wrap(err, zerr.IOTransient, "publishing backup file")
	}
	return nil
}

// GetBackup reads and decodes a backup record by name.
func (r *Repository) GetBackup(name string) (*manifest.Backup, error) {
	raw, err := os.ReadFile(r.backupPath(name))
	if err != nil {
		return nil, zerr.Wrap(err, zerr.BackupCorrupt, "reading backup file")
	}
	keys := r.keys
	if keys != nil && keys.Secret == ([crypto.KeySize]byte{}) {
		keys = nil // public key only: a sealed record cannot be opened
	}
	b, err := manifest.UnmarshalBackup(raw, keys)
	if err != nil && keys == nil {
		if k, ok := zerr.KindOf(err); ok && k == zerr.Config {
			return nil, ErrMissingSecretKey
		}
	}
	return b, err
}

// PruneBackup deletes a backup record by name. The chunks it
// referenced keep their bundles and index entries; Vacuum copies them
// along with the rest rather than dropping them.
func (r *Repository) PruneBackup(name string) error {
	err := os.Remove(r.backupPath(name))
	if err != nil && !os.IsNotExist(err) {
		return zerr.Wrap(err, zerr.IOTransient, "pruning backup file")
	}
	return nil
}

// ListBackups returns every backup name under backups/, recursing into
// subdirectories (names "may be nested", per spec.md §6).
func (r *Repository) ListBackups() ([]string, error) {
	root := filepath.Join(r.dir, backupsDir)
	var names []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, backupExt) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(rel, backupExt))
		return nil
	})
	if err != nil {
		return nil, zerr.Wrap(err, zerr.IOTransient, "listing backups")
	}
	return names, nil
}
