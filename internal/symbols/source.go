package symbols

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrNotFound is returned by a Source that has no map for a permutation.
var ErrNotFound = errors.New("symbol map not found")

// Source is one configured symbol map location.
type Source interface {
	Name() string
	// Load returns ErrNotFound when the source has no map for permutation.
	Load(ctx context.Context, permutation string) (*SymbolMap, error)
	// Validate checks that the location is usable at all.
	Validate(ctx context.Context) error
}

const (
	mapSuffix  = ".symbolMap"
	gzipSuffix = ".symbolMap.gz"
)

// DirSource reads <dir>/<permutation>.symbolMap, falling back to a gzipped
// .symbolMap.gz next to it.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: filepath.Clean(dir)}
}

func (s *DirSource) Name() string { return "dir:" + s.dir }

func (s *DirSource) Validate(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("symbol map directory %s: %w", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("symbol map directory %s: not a directory", s.dir)
	}
	f, err := os.Open(s.dir)
	if err != nil {
		return fmt.Errorf("symbol map directory %s: %w", s.dir, err)
	}
	return f.Close()
}

func (s *DirSource) Load(ctx context.Context, permutation string) (*SymbolMap, error) {
	if !validPermutation(permutation) {
		return nil, ErrNotFound
	}

	plain := filepath.Join(s.dir, permutation+mapSuffix)
	m, err := s.loadFile(plain, permutation, false)
	if !errors.Is(err, os.ErrNotExist) {
		return m, err
	}
	m, err = s.loadFile(filepath.Join(s.dir, permutation+gzipSuffix), permutation, true)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *DirSource) loadFile(name, permutation string, gzipped bool) (*SymbolMap, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defer zr.Close()
		r = zr
	}

	m, err := Parse(r, permutation, s.Name())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// validPermutation rejects ids that could escape the map directory.
func validPermutation(p string) bool {
	if p == "" || p == "." || p == ".." {
		return false
	}
	return !strings.ContainsAny(p, `/\`) && !strings.Contains(p, "..")
}
