package loader

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/kernel"
	"github.com/evanphx/nkern/log"
	hclog "github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// DefaultSuffix is the file name suffix every executable must carry.
const DefaultSuffix = ".coff"

const DefaultCacheSize = 100

type LoaderCache struct {
	mu sync.RWMutex

	cache *lru.ARCCache
}

func NewLoaderCache(size int) *LoaderCache {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}

	return &LoaderCache{cache: cache}
}

func (l *LoaderCache) Lookup(key string) (*Header, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	val, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}

	return val.(*Header), true
}

func (l *LoaderCache) Set(key string, h *Header) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Add(key, h)
}

func (l *LoaderCache) Len() int {
	return l.cache.Len()
}

func NewLoader(programs *Registry, cache *LoaderCache) *Loader {
	return &Loader{
		L:        log.L.Named("loader"),
		Suffix:   DefaultSuffix,
		programs: programs,
		cache:    cache,
	}
}

type Loader struct {
	L      hclog.Logger
	Suffix string

	programs *Registry
	cache    *LoaderCache
}

func cacheKey(data []byte) string {
	sum := blake2b.Sum256(data)
	return base64.URLEncoding.EncodeToString(sum[:])
}

// Load reads name from store and resolves it to a runnable image. Every
// failure is reported with kernel.ErrInvalidExecutable as its cause.
func (l *Loader) Load(ctx context.Context, store fs.Store, name string) (*kernel.Image, error) {
	if !strings.HasSuffix(name, l.Suffix) {
		return nil, errors.Wrapf(kernel.ErrInvalidExecutable, "%s lacks the %s suffix", name, l.Suffix)
	}

	data, err := fs.ReadFile(ctx, store, name)
	if err != nil {
		return nil, errors.Wrapf(kernel.ErrInvalidExecutable, "reading %s: %s", name, err)
	}

	hdr, err := l.decode(data)
	if err != nil {
		return nil, errors.Wrapf(kernel.ErrInvalidExecutable, "decoding %s: %s", name, err)
	}

	prog, ok := l.programs.Lookup(hdr.Entry)
	if !ok {
		return nil, errors.Wrapf(kernel.ErrInvalidExecutable, "%s: no program registered for entry %q", name, hdr.Entry)
	}

	l.L.Trace("loaded image", "name", name, "entry", hdr.Entry, "pages", hdr.Pages)

	return &kernel.Image{
		Name:       name,
		Entry:      prog,
		MemorySize: hdr.MemorySize(),
	}, nil
}

func (l *Loader) decode(data []byte) (*Header, error) {
	if l.cache == nil {
		return Decode(data)
	}

	key := cacheKey(data)

	if hdr, ok := l.cache.Lookup(key); ok {
		l.L.Trace("using cached image header", "key", key)
		return hdr, nil
	}

	hdr, err := Decode(data)
	if err != nil {
		return nil, err
	}

	l.cache.Set(key, hdr)

	return hdr, nil
}

var _ kernel.Loader = (*Loader)(nil)
