package media

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// OriginalDir holds uploaded images
	OriginalDir = "images/original"
	// ProcessedDir holds transform output
	ProcessedDir = "images/processed"

	processedPrefix = "processed_"
)

// ErrInvalidRef is returned for refs that escape the media root
var ErrInvalidRef = errors.New("invalid media ref")

// Store keeps image payloads on local disk. A ref is a slash separated path
// relative to the root, e.g. images/original/<uuid>_cat.png.
type Store struct {
	root      string
	urlPrefix string
}

// NewStore creates a media store rooted at root, served under urlPrefix
func NewStore(root, urlPrefix string) *Store {
	if urlPrefix == "" {
		urlPrefix = "/media/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Store{root: root, urlPrefix: urlPrefix}
}

// SaveOriginal stores an uploaded image under a unique name
func (s *Store) SaveOriginal(filename string, data []byte) (string, error) {
	name := sanitizeFilename(filename)
	ref := path.Join(OriginalDir, uuid.NewString()+"_"+name)
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

// SaveProcessed stores transform output for image id. Images replayed from
// the same original each get their own processed file.
func (s *Store) SaveProcessed(id int64, originalRef string, data []byte) (string, error) {
	if _, err := s.resolve(originalRef); err != nil {
		return "", err
	}
	ref := ProcessedRef(id, originalRef)
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	return ref, nil
}

// ProcessedRef derives the processed ref of image id from its original ref
func ProcessedRef(id int64, originalRef string) string {
	return path.Join(ProcessedDir, processedPrefix+strconv.FormatInt(id, 10)+"_"+path.Base(originalRef))
}

// Read returns the payload for ref
func (s *Store) Read(ref string) ([]byte, error) {
	p, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read media %s: %w", ref, err)
	}
	return data, nil
}

// Remove deletes the payload for ref; a missing file is not an error
func (s *Store) Remove(ref string) error {
	p, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove media %s: %w", ref, err)
	}
	return nil
}

// URL returns the public URL for ref, or "" for an empty ref
func (s *Store) URL(ref string) string {
	if ref == "" {
		return ""
	}
	segments := strings.Split(ref, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.urlPrefix + strings.Join(segments, "/")
}

// Filename returns the display name of ref, without the unique prefix
func Filename(ref string) string {
	if ref == "" {
		return ""
	}
	base := path.Base(ref)
	if i := strings.IndexByte(base, '_'); i > 0 {
		if _, err := uuid.Parse(base[:i]); err == nil {
			return base[i+1:]
		}
	}
	return base
}

func (s *Store) write(ref string, data []byte) error {
	p, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create media directory: %w", err)
	}

	// Write then rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write media %s: %w", ref, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write media %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write media %s: %w", ref, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write media %s: %w", ref, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move media %s: %w", ref, err)
	}
	return nil
}

func (s *Store) resolve(ref string) (string, error) {
	if ref == "" || path.IsAbs(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	clean := path.Clean(ref)
	if clean != ref || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// sanitizeFilename keeps the base name and replaces characters unsafe in URLs and paths
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "image"
	}
	return out
}
