// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import "fmt"

type cell[T any] struct {
	depth  int
	value  T
	set    bool
	scoped bool
}

// scopedStore binds names to values. Fold iterations open nested depths in
// which outer names may be shadowed; `new` opens an explicit scope for one
// name. At the global depth a name binds only once.
type scopedStore[T any] struct {
	cells map[string][]*cell[T]
	depth int
}

func newScopedStore[T any]() *scopedStore[T] {
	return &scopedStore[T]{cells: map[string][]*cell[T]{}}
}

func (s *scopedStore[T]) get(name string) (T, bool) {
	cells := s.cells[name]
	if len(cells) == 0 || !cells[len(cells)-1].set {
		var zero T
		return zero, false
	}
	return cells[len(cells)-1].value, true
}

func (s *scopedStore[T]) set(name string, v T) error {
	cells := s.cells[name]
	if len(cells) == 0 {
		s.cells[name] = []*cell[T]{{depth: s.depth, value: v, set: true}}
		return nil
	}
	top := cells[len(cells)-1]
	switch {
	case top.depth < s.depth:
		s.cells[name] = append(cells, &cell[T]{depth: s.depth, value: v, set: true})
	case top.set && s.depth == 0:
		return fmt.Errorf("%s is already set", name)
	default:
		top.value, top.set = v, true
	}
	return nil
}

// openScope starts a `new` scope for [name].
func (s *scopedStore[T]) openScope(name string) {
	s.cells[name] = append(s.cells[name], &cell[T]{depth: s.depth, scoped: true})
}

// closeScope ends the innermost `new` scope of [name] together with any
// binding shadowing it.
func (s *scopedStore[T]) closeScope(name string) {
	cells := s.cells[name]
	for i := len(cells) - 1; i >= 0; i-- {
		if cells[i].scoped {
			cells = cells[:i]
			break
		}
	}
	if len(cells) == 0 {
		delete(s.cells, name)
		return
	}
	s.cells[name] = cells
}

func (s *scopedStore[T]) enterDepth() { s.depth++ }

// leaveDepth drops the unscoped bindings of the current depth.
func (s *scopedStore[T]) leaveDepth() {
	for name, cells := range s.cells {
		kept := cells[:0]
		for _, c := range cells {
			if c.depth == s.depth && !c.scoped {
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(s.cells, name)
			continue
		}
		s.cells[name] = kept
	}
	s.depth--
}
