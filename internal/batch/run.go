package batch

import (
	"sync"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/preview"
)

// Run is the outcome of one ProcessBatch call.
type Run struct {
	ID        string
	Path      Mode
	Params    domain.ProcessingParameters
	Results   []domain.ProcessedResult
	CreatedAt time.Time

	registry *preview.Registry
	once     sync.Once
}

func (r *Run) Handles() []string {
	handles := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Handle != "" {
			handles = append(handles, res.Handle)
		}
	}
	return handles
}

func (r *Run) Usage() domain.Usage {
	return domain.SummarizeUsage(r.Results)
}

// Release frees the run's display handles. It is safe to call more than once.
func (r *Run) Release() {
	if r == nil || r.registry == nil {
		return
	}
	r.once.Do(func() {
		r.registry.Release(r.Handles()...)
	})
}

// Session holds the current run and releases the one it supersedes.
type Session struct {
	mu      sync.Mutex
	current *Run
}

func (s *Session) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) Replace(run *Run) {
	s.mu.Lock()
	prev := s.current
	s.current = run
	s.mu.Unlock()

	if prev != nil && prev != run {
		prev.Release()
	}
}

func (s *Session) Clear() {
	s.Replace(nil)
}
