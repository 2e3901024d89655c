package deobf

import (
	"sort"
	"sync"
)

// CheckedSet records permutations whose deobfuscation has already been
// verified. Empty at startup, lives as long as the process.
type CheckedSet struct {
	seen sync.Map
}

func NewCheckedSet() *CheckedSet {
	return &CheckedSet{}
}

// Add marks permutation as checked and reports whether this call added it.
func (s *CheckedSet) Add(permutation string) bool {
	_, loaded := s.seen.LoadOrStore(permutation, struct{}{})
	return !loaded
}

func (s *CheckedSet) Contains(permutation string) bool {
	_, ok := s.seen.Load(permutation)
	return ok
}

func (s *CheckedSet) List() []string {
	var out []string
	s.seen.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}
