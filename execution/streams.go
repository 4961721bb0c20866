// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package execution

import (
	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
	"github.com/fluencelabs/aquavm-sub004/tracehandler"
	"github.com/fluencelabs/aquavm-sub004/values"
)

// GenerationKind tells which run produced a stream generation.
type GenerationKind uint8

const (
	// GenPrevious generations were replayed from the previous data.
	GenPrevious GenerationKind = iota
	// GenCurrent generations were replayed from the current data.
	GenCurrent
	// GenNew generations are produced by this run.
	GenNew
)

// Generation addresses a stream generation. Idx is ignored for GenNew
// since new values always go to the last new generation.
type Generation struct {
	Kind GenerationKind
	Idx  int
}

func generationOf(source tracehandler.ValueSource, idx int) Generation {
	if source == tracehandler.SourcePrevious {
		return Generation{Kind: GenPrevious, Idx: idx}
	}
	return Generation{Kind: GenCurrent, Idx: idx}
}

// Stream is an append only collection of values split into generations.
type Stream struct {
	gens [3][][]*ValueAggregate
	// limits bound the generation index accepted from each input.
	limits [2]int
}

func newStream(prevLimit, currentLimit int) *Stream {
	return &Stream{limits: [2]int{prevLimit, currentLimit}}
}

// Add appends [v] to generation [gen] and returns the generation index.
func (s *Stream) Add(v *ValueAggregate, gen Generation) (int, error) {
	if gen.Kind == GenNew {
		if len(s.gens[GenNew]) == 0 {
			s.gens[GenNew] = append(s.gens[GenNew], nil)
		}
		last := len(s.gens[GenNew]) - 1
		s.gens[GenNew][last] = append(s.gens[GenNew][last], v)
		return last, nil
	}

	if gen.Idx < 0 || gen.Idx > s.limits[gen.Kind] {
		return 0, catchable(StreamGenerationNotFound, "generation %d is out of bounds", gen.Idx)
	}
	gens := s.gens[gen.Kind]
	for len(gens) <= gen.Idx {
		gens = append(gens, nil)
	}
	gens[gen.Idx] = append(gens[gen.Idx], v)
	s.gens[gen.Kind] = gens
	return gen.Idx, nil
}

// AddNewGenerationIfNonEmpty closes the last new generation so that later
// values go to a fresh one.
func (s *Stream) AddNewGenerationIfNonEmpty() {
	newGens := s.gens[GenNew]
	if len(newGens) == 0 || len(newGens[len(newGens)-1]) == 0 {
		return
	}
	s.gens[GenNew] = append(newGens, nil)
}

// Values returns every value: previous generations first, then current and
// new ones.
func (s *Stream) Values() []*ValueAggregate {
	var out []*ValueAggregate
	for _, gens := range s.gens {
		for _, g := range gens {
			out = append(out, g...)
		}
	}
	return out
}

func (s *Stream) Len() int {
	n := 0
	for _, gens := range s.gens {
		for _, g := range gens {
			n += len(g)
		}
	}
	return n
}

// compactify lays the generations out as previous, current then new,
// drops empty ones and rewrites the generation of every state that produced
// a value. It returns the number of generations left.
func (s *Stream) compactify(h *tracehandler.TraceHandler) (int, error) {
	generation := 0
	for _, gens := range s.gens {
		for _, g := range gens {
			if len(g) == 0 {
				continue
			}
			for _, v := range g {
				if v.TracePos < 0 {
					continue
				}
				if err := h.UpdateGeneration(v.TracePos, generation); err != nil {
					return 0, uncatchable(GenerationCompactificationError, err, "value at %d", v.TracePos)
				}
			}
			generation++
		}
	}
	return generation, nil
}

// streamCursor remembers which generations a stream fold already visited.
type streamCursor struct {
	next [3]int
}

// constructIterables returns the non empty generations not visited yet. A
// trailing empty generation stays unvisited since it may still be filled.
func (c *streamCursor) constructIterables(s *Stream) [][]*ValueAggregate {
	var out [][]*ValueAggregate
	for kind, gens := range s.gens {
		lastNonEmpty := -1
		for i := c.next[kind]; i < len(gens); i++ {
			if len(gens[i]) == 0 {
				continue
			}
			out = append(out, append([]*ValueAggregate(nil), gens[i]...))
			lastNonEmpty = i
		}
		if lastNonEmpty >= 0 {
			c.next[kind] = lastNonEmpty + 1
		}
	}
	return out
}

type restrictedStream struct {
	stream   *Stream
	position int
}

// Streams holds the global streams and the stack of restricted streams
// declared by `new`.
type Streams struct {
	global     map[string]*Stream
	restricted map[string][]restrictedStream

	prevLimit    int
	currentLimit int

	resultRestricted interpreterdata.RestrictedStreams
}

func NewStreams(prevTraceLen, currentTraceLen int) *Streams {
	return &Streams{
		global:           map[string]*Stream{},
		restricted:       map[string][]restrictedStream{},
		prevLimit:        prevTraceLen,
		currentLimit:     currentTraceLen,
		resultRestricted: interpreterdata.RestrictedStreams{},
	}
}

// Get returns the innermost stream named [name], creating a global one if
// none exists yet.
func (s *Streams) Get(name string) *Stream {
	if scopes := s.restricted[name]; len(scopes) > 0 {
		return scopes[len(scopes)-1].stream
	}
	stream, ok := s.global[name]
	if !ok {
		stream = newStream(s.prevLimit, s.currentLimit)
		s.global[name] = stream
	}
	return stream
}

// MeetNewStart declares a restricted stream for the `new` at [position].
func (s *Streams) MeetNewStart(name string, position int) {
	s.restricted[name] = append(s.restricted[name], restrictedStream{
		stream:   newStream(s.prevLimit, s.currentLimit),
		position: position,
	})
}

// MeetNewEnd compacts the innermost restricted stream named [name] and
// records its generation count.
func (s *Streams) MeetNewEnd(name string, h *tracehandler.TraceHandler) error {
	scopes := s.restricted[name]
	if len(scopes) == 0 {
		return uncatchable(ScopeError, nil, "restricted stream %s is not declared", name)
	}
	top := scopes[len(scopes)-1]
	if len(scopes) == 1 {
		delete(s.restricted, name)
	} else {
		s.restricted[name] = scopes[:len(scopes)-1]
	}

	count, err := top.stream.compactify(h)
	if err != nil {
		return err
	}
	byPos, ok := s.resultRestricted[name]
	if !ok {
		byPos = map[int][]int{}
		s.resultRestricted[name] = byPos
	}
	byPos[top.position] = append(byPos[top.position], count)
	return nil
}

// CompactifyGlobal compacts every global stream and returns their
// generation counts.
func (s *Streams) CompactifyGlobal(h *tracehandler.TraceHandler) (map[string]int, error) {
	counts := make(map[string]int, len(s.global))
	for _, name := range values.SortedKeys(s.global) {
		count, err := s.global[name].compactify(h)
		if err != nil {
			return nil, err
		}
		counts[name] = count
	}
	return counts, nil
}

// RestrictedCounts returns the generation counts of the restricted streams
// whose scopes ended.
func (s *Streams) RestrictedCounts() interpreterdata.RestrictedStreams {
	return s.resultRestricted
}
