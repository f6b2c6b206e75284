package metric

import (
	"math"
	"regexp"
	"strings"
)

// wordRE matches runs of two or more word characters, the same token
// pattern scikit-learn's TfidfVectorizer uses by default.
var wordRE = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

func terms(text string) []string {
	return wordRE.FindAllString(strings.ToLower(text), -1)
}

// TfidfSpace holds smoothed inverse document frequencies for a fitted
// corpus: idf(t) = ln((1+n)/(1+df(t))) + 1.
type TfidfSpace struct {
	idf map[string]float64
}

// FitTfidf learns the vocabulary and idf weights of corpus. An empty or
// all-empty corpus yields an empty vocabulary whose vectors are all zero.
func FitTfidf(corpus []string) *TfidfSpace {
	df := map[string]int{}
	for _, doc := range corpus {
		seen := map[string]bool{}
		for _, t := range terms(doc) {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	n := float64(len(corpus))
	idf := make(map[string]float64, len(df))
	for t, d := range df {
		idf[t] = math.Log((1+n)/(1+float64(d))) + 1
	}
	return &TfidfSpace{idf: idf}
}

// Transform returns the L2-normalised sparse tf-idf vector of text. Terms
// outside the fitted vocabulary are ignored.
func (s *TfidfSpace) Transform(text string) map[string]float64 {
	vec := map[string]float64{}
	for _, t := range terms(text) {
		if w, ok := s.idf[t]; ok {
			vec[t] += w
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for t := range vec {
		vec[t] /= norm
	}
	return vec
}

// CosineSimilarity of two sparse vectors. Zero vectors have similarity 0.
func CosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, normA, normB float64
	for t, v := range a {
		dot += v * b[t]
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
