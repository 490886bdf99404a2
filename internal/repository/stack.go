package repository

import (
	"errors"
	"iter"
	"sort"

	"winmaint/internal/script"
)

// Stack presents several repositories as one. When two layers hold the same
// identity the earlier layer wins.
type Stack []Repository

var _ Repository = Stack(nil)

func (s Stack) Scripts() []*script.Script {
	seen := make(map[string]bool)
	var out []*script.Script
	for _, r := range s {
		for _, sc := range r.Scripts() {
			if seen[sc.InvariantName] {
				continue
			}
			seen[sc.InvariantName] = true
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvariantName < out[j].InvariantName })
	return out
}

// All iterates over a snapshot, so it holds no locks while yielding.
func (s Stack) All() iter.Seq[*script.Script] {
	return func(yield func(*script.Script) bool) {
		for _, sc := range s.Scripts() {
			if !yield(sc) {
				return
			}
		}
	}
}

func (s Stack) Get(name string) (*script.Script, bool) {
	for _, r := range s {
		if sc, ok := r.Get(name); ok {
			return sc, true
		}
	}
	return nil, false
}

func (s Stack) Contains(sc *script.Script) bool {
	for _, r := range s {
		if r.Contains(sc) {
			return true
		}
	}
	return false
}

func (s Stack) Len() int { return len(s.Scripts()) }

func (s Stack) Reload() error {
	var errs []error
	for _, r := range s {
		if err := r.Reload(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
