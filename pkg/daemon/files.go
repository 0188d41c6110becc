package daemon

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"weave/pkg/domain"
)

// FileService serves read-only access to per-session files under one
// data directory. Every request is validated twice: a lexical check on
// the requested name, then canonical-path containment after resolving
// symlinks. Either failing is a permission error, not a lookup miss.
type FileService struct {
	dataDir string
}

// NewFileService returns a service rooted at dataDir.
func NewFileService(dataDir string) *FileService {
	return &FileService{dataDir: dataDir}
}

// Lookalike separator characters rejected alongside the real ones:
// division slash U+2215 and fraction slash U+2044.
const lookalikeSeparators = "∕⁄"

// validateName rejects any requested name that is not a single plain
// path component.
func validateName(name string) error {
	if name == "" ||
		strings.ContainsRune(name, 0) ||
		strings.ContainsAny(name, `/\`) ||
		strings.ContainsAny(name, lookalikeSeparators) ||
		filepath.IsAbs(name) ||
		name == "." || name == ".." {
		return &PermissionDeniedError{Name: name}
	}
	return nil
}

func (s *FileService) sessionDir(id domain.WorkflowID) string {
	return filepath.Join(s.dataDir, "sessions", id.String())
}

// resolve validates name and returns its canonical on-disk path, also
// verifying the session directory itself has not been symlinked out of
// the data root.
func (s *FileService) resolve(id domain.WorkflowID, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	dir, err := filepath.EvalSymlinks(s.sessionDir(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &SessionNotFoundError{SessionID: id}
		}
		return "", err
	}

	path := filepath.Join(dir, name)
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &FileNotFoundError{Name: name}
		}
		return "", err
	}
	if canonical != dir && !strings.HasPrefix(canonical, dir+string(filepath.Separator)) {
		return "", &PermissionDeniedError{Name: name}
	}
	return canonical, nil
}

// List returns the session directory's entries, directories first, then
// by name.
func (s *FileService) List(id domain.WorkflowID) ([]FileEntry, error) {
	dir := s.sessionDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &SessionNotFoundError{SessionID: id}
		}
		return nil, err
	}

	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		fe := FileEntry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !fe.IsDir {
			fe.Size = info.Size()
		}
		out = append(out, fe)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Read returns the file's contents, truncated at MaxFileReadSize.
func (s *FileService) Read(id domain.WorkflowID, name string) (*FileContent, error) {
	path, err := s.resolve(id, name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &PermissionDeniedError{Name: name}
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FileNotFoundError{Name: name}
		}
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, MaxFileReadSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return &FileContent{
		Name:      name,
		Data:      string(buf[:n]),
		Truncated: info.Size() > MaxFileReadSize,
		TotalSize: info.Size(),
	}, nil
}
