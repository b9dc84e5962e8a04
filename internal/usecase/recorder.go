package usecase

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"provd/internal/domain"
)

// Recorder accumulates verification results for later reporting. The
// pipeline itself stays stateless; this is the only state it touches
// between runs.
type Recorder struct {
	Clock Clock

	mu      sync.Mutex
	results []domain.RecordedResult
}

func NewRecorder(clock Clock) *Recorder {
	return &Recorder{Clock: clock}
}

func (r *Recorder) Record(result domain.VerificationResult) domain.RecordedResult {
	rec := domain.RecordedResult{
		ID:         uuid.NewString(),
		RecordedAt: r.now().UTC(),
		Result:     result,
	}
	r.mu.Lock()
	r.results = append(r.results, rec)
	r.mu.Unlock()
	return rec
}

// List returns a copy of all recorded results, oldest first.
func (r *Recorder) List() []domain.RecordedResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RecordedResult, len(r.results))
	copy(out, r.results)
	return out
}

func (r *Recorder) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
