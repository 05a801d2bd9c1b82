// Package assets packages function source directories into deployable zip archives.
//
// Archives are deterministic: entries are sorted, timestamps and permissions are
// fixed, so the same source tree always yields the same SHA-256 and therefore the
// same object key. Unchanged code is never re-uploaded and never changes the
// template.
package assets

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v2"

	"github.com/lex00/blobstack-go/internal/topology"
)

// KeyPrefix prefixes every asset object key.
const KeyPrefix = "assets/"

// ErrEmptyAsset is returned when a source directory has no files left after excludes.
var ErrEmptyAsset = errors.New("asset contains no files")

var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Asset is a packaged function directory.
type Asset struct {
	// Function is the ID of the function the asset belongs to.
	Function string
	// Source is the directory the asset was built from.
	Source string
	Hash   string
	Files  []string
	Data   []byte
}

// Key returns the object key of the archive.
func (a *Asset) Key() string {
	return KeyPrefix + a.Hash + ".zip"
}

// Location is where a function's code lives.
type Location struct {
	Bucket string
	Key    string
}

// Resolver finds the code location of a function.
type Resolver interface {
	Resolve(fn *topology.Function) (Location, error)
}

// Package zips every file under dir in fsys that does not match an exclude
// pattern. Patterns are doublestar globs relative to dir.
func Package(fsys fs.FS, dir string, excludes []string) (*Asset, error) {
	var files []string
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := p
		if dir != "." {
			rel = p[len(dir)+1:]
		}
		for _, pattern := range excludes {
			ok, err := doublestar.Match(pattern, rel)
			if err != nil {
				return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
			}
			if ok {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrEmptyAsset)
	}
	sort.Strings(files)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, rel := range files {
		if err := addFile(zw, fsys, path.Join(dir, rel), rel); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Asset{
		Source: dir,
		Hash:   hex.EncodeToString(sum[:]),
		Files:  files,
		Data:   buf.Bytes(),
	}, nil
}

func addFile(zw *zip.Writer, fsys fs.FS, src, name string) error {
	f, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	header := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: zipEpoch}
	header.SetMode(0o644)
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Packager packages function assets on demand and uploads nothing itself; the
// deployer uploads the manifest.
type Packager struct {
	FS       fs.FS
	Bucket   string
	Excludes []string

	mu     sync.Mutex
	assets map[string]*Asset
}

// NewPackager returns a Packager reading function sources from fsys.
func NewPackager(fsys fs.FS, bucket string, excludes []string) *Packager {
	return &Packager{FS: fsys, Bucket: bucket, Excludes: excludes, assets: map[string]*Asset{}}
}

// Resolve packages the function's asset directory.
func (p *Packager) Resolve(fn *topology.Function) (Location, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	asset, ok := p.assets[fn.ID]
	if !ok {
		var err error
		asset, err = Package(p.FS, fn.Asset, p.Excludes)
		if err != nil {
			return Location{}, fmt.Errorf("packaging %s: %w", fn.ID, err)
		}
		asset.Function = fn.ID
		if p.assets == nil {
			p.assets = map[string]*Asset{}
		}
		p.assets[fn.ID] = asset
	}
	return Location{Bucket: p.Bucket, Key: asset.Key()}, nil
}

// Manifest returns the packaged assets sorted by function ID.
func (p *Packager) Manifest() []*Asset {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Asset, 0, len(p.assets))
	for _, a := range p.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Function < out[j].Function })
	return out
}

// StaticResolver places every function at a fixed key derived from its ID. It
// reads nothing, so templates can be built without the function sources.
type StaticResolver struct {
	Bucket string
}

func (r StaticResolver) Resolve(fn *topology.Function) (Location, error) {
	return Location{Bucket: r.Bucket, Key: KeyPrefix + fn.ID + ".zip"}, nil
}
