package metric

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signalnine/tracescore/internal/config"
)

// Func scores one set of texts. It must not modify texts.
type Func func(texts Texts, params Params) (Scores, error)

// Decoder turns a block's free-form params into the kind's typed Params.
type Decoder func(raw map[string]any) (Params, error)

type entry struct {
	decode Decoder
	score  Func
}

// Registry is the table of known metric kinds.
type Registry struct {
	entries  map[Kind]entry
	reserved map[string]bool
}

// NewRegistry returns a registry holding the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{entries: map[Kind]entry{}, reserved: map[string]bool{}}
	r.Register(KindRouge, decodeRouge, Rouge)
	r.Register(KindCosine, decodeCosine, Cosine)
	r.Register(KindLengthRatio, decodeLengthRatio, LengthRatio)
	r.Register(KindSubstring, decodeSubstring, Substring)
	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(kind Kind, decode Decoder, score Func) {
	r.entries[kind] = entry{decode: decode, score: score}
}

// Reserve marks names that a configured score may not take, such as the
// fixed columns of the report table.
func (r *Registry) Reserve(names ...string) {
	for _, n := range names {
		r.reserved[n] = true
	}
}

// Lookup returns the scoring function for kind.
func (r *Registry) Lookup(kind Kind) (Func, bool) {
	e, ok := r.entries[kind]
	return e.score, ok
}

// Kinds lists registered kinds in lexical order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.entries))
	for k := range r.entries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// UnknownKindError reports a block whose kind is not registered.
type UnknownKindError struct {
	Index int
	Kind  string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("metric block %d: unknown kind %q", e.Index, e.Kind)
}

// ReservedNameError reports a block whose score name is reserved.
type ReservedNameError struct {
	Index int
	Kind  Kind
	Name  string
}

func (e *ReservedNameError) Error() string {
	return fmt.Sprintf("metric block %d (%s): score name %q is reserved", e.Index, e.Kind, e.Name)
}

// Parse converts configured blocks into typed blocks. Unknown kinds are kept
// with nil Params so the dispatcher can report them as skipped; with strict
// set they are an error instead. Bad params and reserved score names are
// always an error.
func (r *Registry) Parse(blocks []config.MetricBlock, strict bool) ([]Block, error) {
	out := make([]Block, 0, len(blocks))
	for i, b := range blocks {
		kind := Kind(strings.TrimSpace(b.Kind))
		e, ok := r.entries[kind]
		if !ok {
			if strict {
				return nil, &UnknownKindError{Index: i, Kind: b.Kind}
			}
			out = append(out, Block{Kind: kind})
			continue
		}
		params, err := e.decode(b.Params)
		if err != nil {
			return nil, fmt.Errorf("metric block %d (%s): %w", i, kind, err)
		}
		if named, ok := params.(Named); ok && r.reserved[named.ScoreName()] {
			return nil, &ReservedNameError{Index: i, Kind: kind, Name: named.ScoreName()}
		}
		out = append(out, Block{Kind: kind, Params: params})
	}
	return out, nil
}
