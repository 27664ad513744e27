// ABOUTME: Per-conversation upload storage on an afero filesystem
// ABOUTME: Keeps an ordered manifest so files are listed in upload order

package uploads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const manifestName = ".manifest.json"

var (
	// ErrTooLarge is returned when an upload exceeds the configured size cap.
	ErrTooLarge = errors.New("upload exceeds size limit")
	// ErrInvalidName is returned for names that cannot be stored safely.
	ErrInvalidName = errors.New("invalid file name")
)

// Store saves uploaded files under <conversation>/<name>.
type Store struct {
	fs        afero.Fs
	maxBytes  int64
	extractor *Extractor

	// mu serializes manifest updates
	mu sync.Mutex
}

// NewStore wraps fs. maxBytes <= 0 disables the size cap.
func NewStore(fs afero.Fs, maxBytes int64, extractor *Extractor) *Store {
	if extractor == nil {
		extractor = NewExtractor(0)
	}
	return &Store{fs: fs, maxBytes: maxBytes, extractor: extractor}
}

// NewOSStore roots a store at dir on the local filesystem, creating it if needed.
func NewOSStore(dir string, maxBytes int64, extractor *Extractor) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return NewStore(afero.NewBasePathFs(afero.NewOsFs(), dir), maxBytes, extractor), nil
}

// Save stores r as name for the conversation and returns the stored name.
// Any directory part of name is dropped.
func (s *Store) Save(convID, name string, r io.Reader) (string, error) {
	dir, err := convDir(convID)
	if err != nil {
		return "", err
	}
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	if _, err := io.Copy(&buf, src); err != nil {
		return "", fmt.Errorf("reading upload %s: %w", base, err)
	}
	if s.maxBytes > 0 && int64(buf.Len()) > s.maxBytes {
		return "", fmt.Errorf("%w: %s", ErrTooLarge, base)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating conversation directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, path.Join(dir, base), buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing upload %s: %w", base, err)
	}

	names, err := s.readManifest(dir)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n == base {
			return base, nil
		}
	}
	if err := s.writeManifest(dir, append(names, base)); err != nil {
		return "", err
	}
	return base, nil
}

// List returns the conversation's stored files in upload order.
func (s *Store) List(convID string) ([]string, error) {
	dir, err := convDir(convID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readManifest(dir)
	if err != nil {
		return nil, err
	}

	out := names[:0]
	for _, n := range names {
		ok, err := afero.Exists(s.fs, path.Join(dir, n))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// Open opens a stored file for reading.
func (s *Store) Open(convID, name string) (afero.File, error) {
	dir, err := convDir(convID)
	if err != nil {
		return nil, err
	}
	base, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	return s.fs.Open(path.Join(dir, base))
}

// FileContext builds the system message describing every uploaded file of
// the conversation. It returns "" when nothing has been uploaded.
func (s *Store) FileContext(convID string) (string, error) {
	names, err := s.List(convID)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}

	entries := make([]string, 0, len(names))
	for _, name := range names {
		entries = append(entries, s.describe(convID, name))
	}
	return "The user has uploaded the following files:\n" + strings.Join(entries, "\n\n"), nil
}

func (s *Store) describe(convID, name string) string {
	f, err := s.Open(convID, name)
	if err != nil {
		return "File uploaded: " + name
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "File uploaded: " + name
	}
	text, ok := s.extractor.Extract(name, data)
	if !ok {
		return "File uploaded: " + name
	}
	return "Content of " + name + ":\n" + text
}

func (s *Store) readManifest(dir string) ([]string, error) {
	data, err := afero.ReadFile(s.fs, path.Join(dir, manifestName))
	if errors.Is(err, os.ErrNotExist) {
		return s.scanDir(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return names, nil
}

// scanDir lists files in name order for directories written without a manifest.
func (s *Store) scanDir(dir string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() || info.Name() == manifestName {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

func (s *Store) writeManifest(dir string, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, path.Join(dir, manifestName), data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func convDir(convID string) (string, error) {
	if convID == "" || convID == "." || convID == ".." || strings.ContainsAny(convID, `/\`) {
		return "", fmt.Errorf("%w: conversation id %q", ErrInvalidName, convID)
	}
	return convID, nil
}

func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(name)
	if base == "" || base == "." || base == ".." || base == "/" || base == manifestName {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}
