package smart

import (
	"math"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-ego/gse"
)

// Word segmenter shared by the BoW and fastText featurizers, CJK text
// does not split on whitespace.
var (
	segmenter     gse.Segmenter
	segmenterOnce sync.Once
)

func segment(text string) []string {
	segmenterOnce.Do(func() {
		segmenter.LoadDict()
	})
	return segmenter.Cut(text, true)
}

// charNgrams returns rune-level n-grams of the given sizes
func charNgrams(text string, sizes ...int) []string {
	runes := []rune(text)
	out := []string{}
	for _, size := range sizes {
		for i := 0; i+size <= len(runes); i++ {
			out = append(out, string(runes[i:i+size]))
		}
	}
	return out
}

// tokenizeBow mixes word tokens with character bigrams and trigrams,
// mirroring how the BoW vocabulary is built at training time.
func tokenizeBow(text string, useCharNgram bool) []string {
	tokens := segment(text)
	if useCharNgram {
		tokens = append(tokens, charNgrams(text, 2, 3)...)
	}
	return tokens
}

// sparseVector a feature index -> weight map
type sparseVector map[uint32]float64

// l2Normalize scales the vector to unit length in place
func (vec sparseVector) l2Normalize() {
	var sum float64
	for _, value := range vec {
		sum += value * value
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for idx, value := range vec {
		vec[idx] = value / norm
	}
}

// hashFeatures folds terms into a fixed-size feature space
func hashFeatures(terms []string, nFeatures uint32, alternateSign bool) sparseVector {
	vec := sparseVector{}
	for _, term := range terms {
		sum := xxhash.Sum64String(term)
		idx := uint32(sum % uint64(nFeatures))
		value := 1.0
		if alternateSign && sum&(1<<63) != 0 {
			value = -1.0
		}
		vec[idx] += value
	}
	return vec
}

// hashVectorizer a stateless hashing featurizer over character or word
// n-grams, the model file carries its configuration so inference always
// matches training.
type hashVectorizer struct {
	Analyzer      string `json:"analyzer"`
	NgramMin      int    `json:"ngram_min"`
	NgramMax      int    `json:"ngram_max"`
	NFeatures     uint32 `json:"n_features"`
	AlternateSign bool   `json:"alternate_sign"`
	Norm          string `json:"norm"`
	UseSegmenter  bool   `json:"use_segmenter"`
}

func newHashVectorizer(cfg HashLinearTraining) hashVectorizer {
	ngramMin, ngramMax := 2, 4
	if len(cfg.NgramRange) == 2 {
		ngramMin, ngramMax = cfg.NgramRange[0], cfg.NgramRange[1]
	}
	nFeatures := uint32(cfg.NFeatures)
	if nFeatures == 0 {
		nFeatures = 1048576
	}
	return hashVectorizer{
		Analyzer:      cfg.Analyzer,
		NgramMin:      ngramMin,
		NgramMax:      ngramMax,
		NFeatures:     nFeatures,
		AlternateSign: cfg.AlternateSign,
		Norm:          cfg.Norm,
		UseSegmenter:  cfg.UseSegmenter,
	}
}

// Transform featurizes one text
func (vectorizer hashVectorizer) Transform(text string) sparseVector {
	clean := strings.ToLower(flattenLines(text))

	var terms []string
	if vectorizer.Analyzer == "word" {
		terms = segment(clean)
		if !vectorizer.UseSegmenter {
			terms = strings.Fields(clean)
		}
	} else {
		sizes := []int{}
		for size := vectorizer.NgramMin; size <= vectorizer.NgramMax; size++ {
			sizes = append(sizes, size)
		}
		terms = charNgrams(clean, sizes...)
	}

	vec := hashFeatures(terms, vectorizer.NFeatures, vectorizer.AlternateSign)
	if vectorizer.Norm == "l2" {
		vec.l2Normalize()
	}
	return vec
}

func flattenLines(text string) string {
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.ReplaceAll(text, "\n", " ")
}
