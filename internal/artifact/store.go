package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"vidmill/internal/services"
)

// Store manages artifacts under a single data root. All methods are safe for
// concurrent use by multiple workers; the filesystem provides the necessary
// atomicity (rename within a volume, O_EXCL create in the completed zone).
type Store struct {
	root string
}

// NewStore opens the artifact store rooted at dir, creating zone directories.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact store root must be set")
	}
	for _, zone := range allZones {
		if err := os.MkdirAll(filepath.Join(dir, string(zone)), 0o755); err != nil {
			return nil, fmt.Errorf("create zone %s: %w", zone, err)
		}
	}
	if err := unix.Access(dir, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return nil, fmt.Errorf("artifact root %s not accessible: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

// Root returns the directory backing the store.
func (s *Store) Root() string {
	return s.root
}

// Path resolves a ref to its absolute filesystem path.
func (s *Store) Path(ref Ref) string {
	return filepath.Join(s.root, string(ref.Zone), ref.JobID, ref.Name)
}

// Put streams content into the store and returns the resulting ref. Writing
// into the completed zone refuses to replace an existing artifact.
func (s *Store) Put(zone Zone, jobID, name string, r io.Reader) (Ref, error) {
	ref := Ref{Zone: zone, JobID: jobID, Name: name}
	if err := ref.validate(); err != nil {
		return Ref{}, services.Wrap(services.ErrInvalidInput, "", "put artifact", err.Error(), nil)
	}
	dst := s.Path(ref)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Ref{}, storageErr("put artifact", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if zone == ZoneCompleted {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}
	f, err := os.OpenFile(dst, flags, 0o644)
	if err != nil {
		if zone == ZoneCompleted && errors.Is(err, fs.ErrExist) {
			return Ref{}, services.Wrap(services.ErrInvalidInput, "", "put artifact",
				fmt.Sprintf("completed artifact %s already exists", ref), nil)
		}
		return Ref{}, storageErr("put artifact", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(dst)
		return Ref{}, storageErr("put artifact", err)
	}
	return ref, nil
}

// Get opens an artifact for reading.
func (s *Store) Get(ref Ref) (io.ReadCloser, error) {
	if err := ref.validate(); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "", "get artifact", err.Error(), nil)
	}
	f, err := os.Open(s.Path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "", "get artifact", ref.String(), nil)
		}
		return nil, storageErr("get artifact", err)
	}
	return f, nil
}

// Stat reports the size of an artifact.
func (s *Store) Stat(ref Ref) (int64, error) {
	info, err := os.Stat(s.Path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, services.Wrap(services.ErrNotFound, "", "stat artifact", ref.String(), nil)
		}
		return 0, storageErr("stat artifact", err)
	}
	return info.Size(), nil
}

// Move transfers an artifact to another zone, preferring rename over copy.
// Moves into the completed zone refuse to replace an existing artifact, and
// artifacts already in the completed zone may not be moved out.
func (s *Store) Move(ref Ref, to Zone) (Ref, error) {
	if err := ref.validate(); err != nil {
		return Ref{}, services.Wrap(services.ErrInvalidInput, "", "move artifact", err.Error(), nil)
	}
	if ref.Zone == ZoneCompleted {
		return Ref{}, services.Wrap(services.ErrInvalidInput, "", "move artifact",
			"completed artifacts are immutable", nil)
	}
	dst := ref.InZone(to)
	if ref.Zone == to {
		return dst, nil
	}
	dstPath := s.Path(dst)
	if to == ZoneCompleted {
		if _, err := os.Stat(dstPath); err == nil {
			return Ref{}, services.Wrap(services.ErrInvalidInput, "", "move artifact",
				fmt.Sprintf("completed artifact %s already exists", dst), nil)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return Ref{}, storageErr("move artifact", err)
	}
	if err := os.Rename(s.Path(ref), dstPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Ref{}, services.Wrap(services.ErrNotFound, "", "move artifact", ref.String(), nil)
		}
		return Ref{}, storageErr("move artifact", err)
	}
	return dst, nil
}

// Delete removes a single artifact. Missing artifacts are not an error; the
// reclaimer may race a concurrent sweep.
func (s *Store) Delete(ref Ref) error {
	if err := ref.validate(); err != nil {
		return services.Wrap(services.ErrInvalidInput, "", "delete artifact", err.Error(), nil)
	}
	if err := os.Remove(s.Path(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("delete artifact", err)
	}
	return nil
}

// DeleteJobZone removes every artifact a job holds in one zone.
func (s *Store) DeleteJobZone(zone Zone, jobID string) error {
	if jobID == "" {
		return services.Wrap(services.ErrInvalidInput, "", "delete job zone", "job id must be set", nil)
	}
	dir := filepath.Join(s.root, string(zone), jobID)
	if err := os.RemoveAll(dir); err != nil {
		return storageErr("delete job zone", err)
	}
	return nil
}

// List returns the refs a job holds in one zone, sorted by name.
func (s *Store) List(zone Zone, jobID string) ([]Ref, error) {
	dir := filepath.Join(s.root, string(zone), jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storageErr("list artifacts", err)
	}
	refs := make([]Ref, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		refs = append(refs, Ref{Zone: zone, JobID: jobID, Name: entry.Name()})
	}
	return refs, nil
}

// FreeSpaceMB reports remaining capacity on the volume backing the store.
func (s *Store) FreeSpaceMB() (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.root, &stat); err != nil {
		return 0, storageErr("statfs", err)
	}
	return int64(stat.Bavail) * stat.Bsize / (1024 * 1024), nil
}

func storageErr(operation string, err error) error {
	return services.Wrap(services.ErrStorageUnavailable, "", operation, "", err)
}
