package metric

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/signalnine/tracescore/internal/metric/rouge"
)

// Rouge scores each pair with unigram and LCS F-measure. Without
// QualifyNames every pair writes rouge1_f and rougeL_f, so the last pair
// determines the emitted values.
func Rouge(texts Texts, params Params) (Scores, error) {
	p, ok := params.(RougeParams)
	if !ok {
		return nil, paramsError(KindRouge, params)
	}
	scorer := rouge.Scorer{UseStemmer: p.UseStemmer}
	out := Scores{}
	for _, pair := range p.Pairs {
		pred, gold := texts.Get(pair.A), texts.Get(pair.B)
		r1 := scorer.Rouge1(gold, pred).FMeasure
		rl := scorer.RougeL(gold, pred).FMeasure
		if p.QualifyNames {
			out["rouge1_f_"+pair.A+"_"+pair.B] = r1
			out["rougeL_f_"+pair.A+"_"+pair.B] = rl
			continue
		}
		out["rouge1_f"] = r1
		out["rougeL_f"] = rl
	}
	return out, nil
}

// Cosine fits a tf-idf space over every text the pairs reference and emits
// the cosine similarity of each pair.
func Cosine(texts Texts, params Params) (Scores, error) {
	p, ok := params.(CosineParams)
	if !ok {
		return nil, paramsError(KindCosine, params)
	}
	var keys []string
	seen := map[string]bool{}
	for _, pair := range p.Pairs {
		for _, k := range []string{pair.A, pair.B} {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	corpus := make([]string, len(keys))
	for i, k := range keys {
		corpus[i] = texts.Get(k)
	}
	if len(corpus) == 0 {
		corpus = []string{"", ""}
	}
	space := FitTfidf(corpus)
	vectors := make(map[string]map[string]float64, len(keys))
	for _, k := range keys {
		vectors[k] = space.Transform(texts.Get(k))
	}

	out := Scores{}
	for _, pair := range p.Pairs {
		out[CosineName(pair)] = CosineSimilarity(vectors[pair.A], vectors[pair.B])
	}
	return out, nil
}

// CosineName is cosine_<a>_<b>.
func CosineName(p Pair) string {
	return "cosine_" + p.A + "_" + p.B
}

// LengthRatio is the stripped length of Num over the stripped length of
// Den, rounded half to even at three decimals. The numerator is floored at
// 1e-6 and the denominator at 1.
func LengthRatio(texts Texts, params Params) (Scores, error) {
	p, ok := params.(LengthRatioParams)
	if !ok {
		return nil, paramsError(KindLengthRatio, params)
	}
	num := math.Max(1e-6, float64(strippedLen(texts.Get(p.Num))))
	den := math.Max(1, float64(strippedLen(texts.Get(p.Den))))
	return Scores{p.Out: math.RoundToEven(num/den*1000) / 1000}, nil
}

func strippedLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}

// Substring is 1 when the stripped needle is non-empty and occurs verbatim
// in the haystack.
func Substring(texts Texts, params Params) (Scores, error) {
	p, ok := params.(SubstringParams)
	if !ok {
		return nil, paramsError(KindSubstring, params)
	}
	needle := strings.TrimSpace(texts.Get(p.Needle))
	hay := texts.Get(p.Haystack)
	return Scores{p.Out: Bool(needle != "" && strings.Contains(hay, needle))}, nil
}

func paramsError(kind Kind, params Params) error {
	return fmt.Errorf("%s: unexpected params %T", kind, params)
}
