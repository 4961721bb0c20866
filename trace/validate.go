// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package trace

import "fmt"

// Validate checks the structural invariants of [t]: every par and fold
// header describes subtraces that lie inside its enclosing window, and fold
// lores have unique value positions and subtraces inside the fold body.
//
// A par inside a fold iteration may hold the `next` of that iteration, so
// its subtraces are bounded by the fold body rather than by the subtrace
// of the iteration.
func Validate(t Trace) error {
	return validateWindow(t, 0, len(t))
}

func validateWindow(t Trace, pos, length int) error {
	end := pos + length
	for i := pos; i < end; i++ {
		switch st := t[i].(type) {
		case ParState:
			size := st.Size()
			if i+1+size > end {
				return fmt.Errorf("%s at %d overflows its window ending at %d", st, i, end)
			}
			if err := validateWindow(t, i+1, st.LeftSize); err != nil {
				return err
			}
			if err := validateWindow(t, i+1+st.LeftSize, st.RightSize); err != nil {
				return err
			}
			i += size
		case FoldState:
			total := st.Lore.TotalLen()
			if i+1+total > end {
				return fmt.Errorf("fold at %d overflows its window ending at %d", i, end)
			}
			seen := make(map[int]struct{}, len(st.Lore))
			for _, lore := range st.Lore {
				if _, ok := seen[lore.ValuePos]; ok {
					return fmt.Errorf("fold at %d has duplicate value position %d", i, lore.ValuePos)
				}
				seen[lore.ValuePos] = struct{}{}
				for _, desc := range lore.SubTraceDescs {
					if desc.SubTraceLen == 0 {
						continue
					}
					if desc.BeginPos <= i || desc.BeginPos+desc.SubTraceLen > i+1+total {
						return fmt.Errorf("fold at %d has subtrace %d..+%d outside of its body", i, desc.BeginPos, desc.SubTraceLen)
					}
				}
			}
			if err := validateWindow(t, i+1, total); err != nil {
				return err
			}
			i += total
		}
	}
	return nil
}
