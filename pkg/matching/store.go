package matching

import (
	"sync"

	"github.com/MrCodeEU/facesweep/pkg/recognition"
)

// Store is the ordered list of labeled reference descriptors.
type Store struct {
	mu      sync.RWMutex
	entries []LabeledDescriptor
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add appends d to label, creating the label at the end of the store if it
// is new.
func (s *Store) Add(label string, d recognition.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].Label == label {
			s.entries[i].Descriptors = append(s.entries[i].Descriptors, d)
			return
		}
	}
	s.entries = append(s.entries, LabeledDescriptor{
		Label:       label,
		Descriptors: []recognition.Descriptor{d},
	})
}

// Len returns the number of labels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a deep copy that later Add or Clear calls cannot alter.
func (s *Store) Snapshot() []LabeledDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LabeledDescriptor, len(s.entries))
	for i, e := range s.entries {
		out[i] = LabeledDescriptor{
			Label:       e.Label,
			Descriptors: append([]recognition.Descriptor(nil), e.Descriptors...),
		}
	}
	return out
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
