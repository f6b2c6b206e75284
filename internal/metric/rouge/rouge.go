// Package rouge computes ROUGE-N and ROUGE-L scores between a target
// (reference) text and a prediction. Tokenization follows the
// google-research rouge_score package, but stemming uses the Snowball
// English (Porter2) stemmer rather than NLTK's Porter, so a few stems
// differ ("generate" -> "generat", "generalization" -> "general").
package rouge

import (
	"regexp"
	"strings"

	"github.com/kljensen/snowball/english"
)

// Score holds precision, recall and F-measure, each in [0, 1].
type Score struct {
	Precision float64
	Recall    float64
	FMeasure  float64
}

var (
	nonAlphaNumRE = regexp.MustCompile(`[^a-z0-9]+`)
	validTokenRE  = regexp.MustCompile(`^[a-z0-9]+$`)
)

// Tokenize lowercases text, replaces anything outside [a-z0-9] with spaces
// and splits on whitespace. With stemming, tokens longer than three
// characters are reduced to their Snowball English stem.
func Tokenize(text string, useStemmer bool) []string {
	text = nonAlphaNumRE.ReplaceAllString(strings.ToLower(text), " ")
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if useStemmer && len(tok) > 3 {
			tok = english.Stem(tok, false)
		}
		if tok == "" || !validTokenRE.MatchString(tok) {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Scorer scores prediction against target with one tokenizer setting.
type Scorer struct {
	UseStemmer bool
}

// Rouge1 returns unigram-overlap scores.
func (s Scorer) Rouge1(target, prediction string) Score {
	return NGram(Tokenize(target, s.UseStemmer), Tokenize(prediction, s.UseStemmer), 1)
}

// RougeL returns longest-common-subsequence scores.
func (s Scorer) RougeL(target, prediction string) Score {
	return LCS(Tokenize(target, s.UseStemmer), Tokenize(prediction, s.UseStemmer))
}

// NGram computes ROUGE-N over pre-tokenized input. Either side being empty
// yields a zero score.
func NGram(targetTokens, predTokens []string, n int) Score {
	if len(targetTokens) == 0 || len(predTokens) == 0 {
		return Score{}
	}
	targetNGrams := countNGrams(targetTokens, n)
	predNGrams := countNGrams(predTokens, n)

	var intersection, targetCount, predCount int
	for key, cnt := range targetNGrams {
		targetCount += cnt
		intersection += min(cnt, predNGrams[key])
	}
	for _, cnt := range predNGrams {
		predCount += cnt
	}
	precision := float64(intersection) / float64(max(predCount, 1))
	recall := float64(intersection) / float64(max(targetCount, 1))
	return Score{Precision: precision, Recall: recall, FMeasure: fMeasure(precision, recall)}
}

func countNGrams(tokens []string, n int) map[string]int {
	if n <= 0 || len(tokens) < n {
		return map[string]int{}
	}
	ngrams := make(map[string]int, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		ngrams[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return ngrams
}

// LCS computes ROUGE-L over pre-tokenized input.
func LCS(targetTokens, predTokens []string) Score {
	if len(targetTokens) == 0 || len(predTokens) == 0 {
		return Score{}
	}
	lcs := lcsLength(targetTokens, predTokens)
	precision := float64(lcs) / float64(len(predTokens))
	recall := float64(lcs) / float64(len(targetTokens))
	return Score{Precision: precision, Recall: recall, FMeasure: fMeasure(precision, recall)}
}

// lcsLength keeps two rolling rows of the DP table.
func lcsLength(ref, can []string) int {
	prev := make([]int, len(can)+1)
	curr := make([]int, len(can)+1)
	for i := 1; i <= len(ref); i++ {
		curr[0] = 0
		for j := 1; j <= len(can); j++ {
			switch {
			case ref[i-1] == can[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(can)]
}

func fMeasure(precision, recall float64) float64 {
	if precision+recall > 0 {
		return 2 * precision * recall / (precision + recall)
	}
	return 0
}
