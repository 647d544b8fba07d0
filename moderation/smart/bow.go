package smart

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/yaoapp/kun/log"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
)

// bowVectorizer a TF-IDF vectorizer over mixed word tokens and character
// n-grams, fitted at training time and persisted next to the classifier.
type bowVectorizer struct {
	UseCharNgram bool
	UseWordNgram bool
	NgramMin     int
	NgramMax     int
	Vocab        map[string]uint32
	IDF          []float64
}

func (vectorizer *bowVectorizer) terms(text string) []string {
	tokens := tokenizeBow(text, vectorizer.UseCharNgram)
	if !vectorizer.UseWordNgram || vectorizer.NgramMax <= 1 {
		return tokens
	}
	terms := make([]string, 0, len(tokens)*2)
	for size := vectorizer.NgramMin; size <= vectorizer.NgramMax; size++ {
		for i := 0; i+size <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+size], " "))
		}
	}
	return terms
}

// Transform computes the l2-normalized tf-idf vector of one text
func (vectorizer *bowVectorizer) Transform(text string) sparseVector {
	vec := sparseVector{}
	for _, term := range vectorizer.terms(text) {
		if idx, has := vectorizer.Vocab[term]; has {
			vec[idx]++
		}
	}
	for idx, count := range vec {
		vec[idx] = count * vectorizer.IDF[idx]
	}
	vec.l2Normalize()
	return vec
}

// fitBowVectorizer builds the vocabulary with min_df=2, max_df=0.8 and a
// frequency-ranked feature cap, matching the training-side featurizer.
func fitBowVectorizer(corpus []string, cfg BowTraining) *bowVectorizer {
	ngramMin, ngramMax := 1, 1
	if cfg.UseWordNgram && len(cfg.WordNgramRange) == 2 {
		ngramMin, ngramMax = cfg.WordNgramRange[0], cfg.WordNgramRange[1]
	}
	vectorizer := &bowVectorizer{
		UseCharNgram: cfg.UseCharNgram,
		UseWordNgram: cfg.UseWordNgram,
		NgramMin:     ngramMin,
		NgramMax:     ngramMax,
	}

	docFreq := map[string]int{}
	termFreq := map[string]int{}
	for _, text := range corpus {
		seen := map[string]bool{}
		for _, term := range vectorizer.terms(text) {
			termFreq[term]++
			if !seen[term] {
				seen[term] = true
				docFreq[term]++
			}
		}
	}

	docs := len(corpus)
	maxDF := int(math.Floor(0.8 * float64(docs)))
	candidates := []string{}
	for term, df := range docFreq {
		if df < 2 || (docs >= 5 && df > maxDF) {
			continue
		}
		candidates = append(candidates, term)
	}

	// cap by collection frequency, ties broken lexically for determinism
	sort.Slice(candidates, func(i, j int) bool {
		if termFreq[candidates[i]] != termFreq[candidates[j]] {
			return termFreq[candidates[i]] > termFreq[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	if cfg.MaxFeatures > 0 && len(candidates) > cfg.MaxFeatures {
		candidates = candidates[:cfg.MaxFeatures]
	}
	sort.Strings(candidates)

	vectorizer.Vocab = make(map[string]uint32, len(candidates))
	vectorizer.IDF = make([]float64, len(candidates))
	for i, term := range candidates {
		idx := uint32(i)
		vectorizer.Vocab[term] = idx
		vectorizer.IDF[idx] = math.Log(float64(1+docs)/float64(1+docFreq[term])) + 1
	}
	return vectorizer
}

type bowModelFile struct {
	Weights   []float32
	Intercept float64
}

// TrainBow fits the BoW vectorizer and classifier from the profile's
// sample store and writes both artifacts atomically.
func TrainBow(profile *Profile, store *storage.Store) error {
	cfg := profile.Config.BowTraining

	count := store.SampleCount()
	if count < int64(cfg.MinSamples) {
		log.Info("Not enough samples (%d < %d), skip training", count, cfg.MinSamples)
		return nil
	}

	samples := store.LoadLatest(cfg.MaxSamples)
	log.Info("Training BoW model with %d samples", len(samples))

	corpus := make([]string, len(samples))
	labels := make([]int, len(samples))
	for i, sample := range samples {
		corpus[i] = sample.Text
		labels[i] = sample.Label
	}

	vectorizer := fitBowVectorizer(corpus, cfg)
	if len(vectorizer.Vocab) == 0 {
		return fmt.Errorf("bow training: empty vocabulary")
	}

	vectors := make([]sparseVector, len(corpus))
	for i, text := range corpus {
		vectors[i] = vectorizer.Transform(text)
	}

	model := newLogisticModel(uint32(len(vectorizer.Vocab)), 1e-4)
	rng := profile.Rand()
	fitLogistic(model, vectors, labels, 20, rng, balancedClassWeights(labels))

	if err := saveGob(profile.BowVectorizerPath(), vectorizer); err != nil {
		return err
	}
	if err := saveGob(profile.BowModelPath(), &bowModelFile{Weights: model.Weights, Intercept: model.Intercept}); err != nil {
		return err
	}
	info, err := os.Stat(profile.BowModelPath())
	if err != nil || info.Size() < minModelSize {
		removeCorrupted(profile.BowModelPath())
		removeCorrupted(profile.BowVectorizerPath())
		return fmt.Errorf("bow save failed: written file invalid")
	}
	log.Info("BoW model saved: %s (%.2f MB)", profile.BowModelPath(), float64(info.Size())/1024/1024)

	correct := 0
	for i, vec := range vectors {
		predicted := 0
		if model.PredictProba(vec) >= 0.5 {
			predicted = 1
		}
		if predicted == labels[i] {
			correct++
		}
	}
	log.Info("Training accuracy: %.3f", float64(correct)/float64(len(vectors)))
	return nil
}

// bowPredictProba loads the model pair through the cache and scores one
// text, any corruption deletes both artifacts so the next training
// rebuilds them.
func bowPredictProba(text string, profile *Profile) (float64, error) {
	modelPath := profile.BowModelPath()
	vectorizerPath := profile.BowVectorizerPath()

	info, err := os.Stat(modelPath)
	if err != nil {
		return 0, err
	}
	if info.Size() < minModelSize {
		removeCorrupted(modelPath)
		removeCorrupted(vectorizerPath)
		return 0, fmt.Errorf("bow model too small (%d bytes): %s", info.Size(), modelPath)
	}

	bundle, err := cachedBundle(profile.Name+":bow", info.ModTime(), func() (func(string) (float64, error), error) {
		vectorizer := &bowVectorizer{}
		if err := loadGob(vectorizerPath, vectorizer); err != nil {
			removeCorrupted(vectorizerPath)
			removeCorrupted(modelPath)
			return nil, fmt.Errorf("bow vectorizer load failed: %w", err)
		}
		payload := &bowModelFile{}
		if err := loadGob(modelPath, payload); err != nil {
			removeCorrupted(modelPath)
			removeCorrupted(vectorizerPath)
			return nil, fmt.Errorf("bow model load failed: %w", err)
		}
		if len(payload.Weights) != len(vectorizer.IDF) {
			removeCorrupted(modelPath)
			removeCorrupted(vectorizerPath)
			return nil, fmt.Errorf("bow model inconsistent: %s", modelPath)
		}

		model := &logisticModel{Weights: payload.Weights, Intercept: payload.Intercept, wscale: 1.0}
		predict := func(text string) (float64, error) {
			p := model.PredictProba(vectorizer.Transform(text))
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return 0, fmt.Errorf("bow prediction not finite")
			}
			return p, nil
		}

		// canary prediction before the bundle goes live
		if _, err := predict("验证测试"); err != nil {
			removeCorrupted(modelPath)
			removeCorrupted(vectorizerPath)
			return nil, fmt.Errorf("bow model validation failed: %s: %w", modelPath, err)
		}
		return predict, nil
	})
	if err != nil {
		return 0, err
	}
	return bundle.predict(text)
}

// saveGob writes to a temp file then renames over the live path
func saveGob(path string, value interface{}) error {
	temp := path + ".tmp"
	file, err := os.Create(temp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(file).Encode(value); err != nil {
		file.Close()
		os.Remove(temp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(temp)
		return err
	}
	return os.Rename(temp, path)
}

func loadGob(path string, value interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return gob.NewDecoder(file).Decode(value)
}
