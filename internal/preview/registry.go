package preview

import (
	"sync"

	"github.com/dunamismax/shrinkpic/internal/id"
)

const handlePrefix = "blob:"

type entry struct {
	data      []byte
	mediaType string
}

// Registry maps opaque display handles to processed image bytes. A handle
// stays valid until it is released.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Allocate(data []byte, mediaType string) string {
	handle := handlePrefix + id.New()

	r.mu.Lock()
	r.entries[handle] = entry{data: data, mediaType: mediaType}
	r.mu.Unlock()
	return handle
}

func (r *Registry) Open(handle string) ([]byte, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	return e.data, e.mediaType, ok
}

// Release drops handles; unknown or already released handles are ignored.
func (r *Registry) Release(handles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		delete(r.entries, h)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
