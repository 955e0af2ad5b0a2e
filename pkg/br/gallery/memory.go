package gallery

import (
	"context"
	"sync"

	"github.com/cognicore/openbr/pkg/br/template"
)

// Memory galleries live for the whole process and are shared by name, which
// is what makes them usable as an enrollment cache.
var (
	memoryMu sync.Mutex
	memory   = map[string]*memStore{}
)

type memStore struct {
	mu    sync.RWMutex
	items template.List
}

func lookupMemory(name string) *memStore {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	s, ok := memory[name]
	if !ok {
		s = &memStore{}
		memory[name] = s
	}
	return s
}

func memorySize(name string) int {
	memoryMu.Lock()
	s, ok := memory[name]
	memoryMu.Unlock()
	if !ok {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Forget drops one memory gallery.
func Forget(name string) {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	delete(memory, name)
}

// ResetMemory drops every memory gallery.
func ResetMemory() {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	memory = map[string]*memStore{}
}

type memGallery struct {
	store     *memStore
	blockSize int
	appending bool
	written   bool
	pos       int
}

func openMemory(f template.File, blockSize int) *memGallery {
	return &memGallery{
		store:     lookupMemory(f.Name),
		blockSize: blockSize,
		appending: f.GetBool("append", false),
	}
}

func (g *memGallery) ReadBlock(ctx context.Context) (template.List, bool, error) {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()

	end := g.pos + g.blockSize
	if end > len(g.store.items) {
		end = len(g.store.items)
	}
	block := g.store.items[g.pos:end].Clone()
	g.pos = end
	return block, g.pos < len(g.store.items), nil
}

func (g *memGallery) WriteBlock(ctx context.Context, block template.List) error {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()

	if !g.written && !g.appending {
		g.store.items = nil
	}
	g.written = true
	g.store.items = append(g.store.items, block.Clone()...)
	return nil
}

func (g *memGallery) TotalSize(ctx context.Context) (int64, error) {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	return int64(len(g.store.items)), nil
}

func (g *memGallery) Files(ctx context.Context) (template.FileList, error) {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	return g.store.items.Clone().Files(), nil
}

func (g *memGallery) Close() error { return nil }
