package metric

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Kind identifies a scoring function.
type Kind string

const (
	KindRouge       Kind = "rouge"
	KindCosine      Kind = "cosine"
	KindLengthRatio Kind = "length_ratio"
	KindSubstring   Kind = "substring"
)

// Params is the typed parameter set of one block. Every built-in kind has
// its own struct.
type Params interface {
	Kind() Kind
}

// Pair names a (candidate, reference) text pair, e.g. {"pred", "gold"}.
type Pair struct {
	A string
	B string
}

type RougeParams struct {
	Pairs      []Pair
	UseStemmer bool
	// QualifyNames emits one rouge1_f_<a>_<b>/rougeL_f_<a>_<b> set per pair
	// instead of letting the last pair overwrite rouge1_f/rougeL_f.
	QualifyNames bool
}

func (RougeParams) Kind() Kind { return KindRouge }

type CosineParams struct {
	Pairs []Pair
}

func (CosineParams) Kind() Kind { return KindCosine }

type LengthRatioParams struct {
	Num string
	Den string
	Out string
}

func (LengthRatioParams) Kind() Kind { return KindLengthRatio }

type SubstringParams struct {
	Needle   string
	Haystack string
	Out      string
}

func (SubstringParams) Kind() Kind { return KindSubstring }

// Named is implemented by params whose score name comes from the config.
type Named interface {
	ScoreName() string
}

func (p LengthRatioParams) ScoreName() string { return p.Out }
func (p SubstringParams) ScoreName() string   { return p.Out }

// Block is one parsed entry of the metric list. Params is nil when the kind
// is not registered.
type Block struct {
	Kind   Kind
	Params Params
}

func decodeRouge(raw map[string]any) (Params, error) {
	var in struct {
		Pairs        [][]string `mapstructure:"pairs"`
		UseStemmer   bool       `mapstructure:"use_stemmer"`
		QualifyNames bool       `mapstructure:"qualify_names"`
	}
	in.UseStemmer = true
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	pairs, err := toPairs(in.Pairs)
	if err != nil {
		return nil, err
	}
	return RougeParams{Pairs: pairs, UseStemmer: in.UseStemmer, QualifyNames: in.QualifyNames}, nil
}

func decodeCosine(raw map[string]any) (Params, error) {
	var in struct {
		Pairs [][]string `mapstructure:"pairs"`
	}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	pairs, err := toPairs(in.Pairs)
	if err != nil {
		return nil, err
	}
	return CosineParams{Pairs: pairs}, nil
}

func decodeLengthRatio(raw map[string]any) (Params, error) {
	in := struct {
		Num string `mapstructure:"num"`
		Den string `mapstructure:"den"`
		Out string `mapstructure:"out"`
	}{TextPred, TextGold, "len_ratio"}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	return LengthRatioParams(in), nil
}

func decodeSubstring(raw map[string]any) (Params, error) {
	in := struct {
		Needle   string `mapstructure:"needle"`
		Haystack string `mapstructure:"haystack"`
		Out      string `mapstructure:"out"`
	}{TextGold, TextPred, "exact_contains"}
	if err := decode(raw, &in); err != nil {
		return nil, err
	}
	return SubstringParams(in), nil
}

func decode(raw map[string]any, out any) error {
	if len(raw) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func toPairs(raw [][]string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(raw))
	for i, p := range raw {
		if len(p) != 2 {
			return nil, fmt.Errorf("pair %d: want 2 text names, got %d", i, len(p))
		}
		pairs = append(pairs, Pair{A: p[0], B: p[1]})
	}
	return pairs, nil
}
