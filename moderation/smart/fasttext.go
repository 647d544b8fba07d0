package smart

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/yaoapp/kun/log"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
)

// BPE encoder shared across predictions, loading the ranks is expensive
var (
	bpeEncoder *tiktoken.Tiktoken
	bpeOnce    sync.Once
	bpeErr     error
)

func bpeTokens(text string) ([]string, error) {
	bpeOnce.Do(func() {
		bpeEncoder, bpeErr = tiktoken.GetEncoding("cl100k_base")
	})
	if bpeErr != nil {
		return nil, bpeErr
	}
	ids := bpeEncoder.Encode(text, nil, nil)
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tokens[i] = strconv.Itoa(id)
	}
	return tokens, nil
}

type fastTextPayload struct {
	NFeatures    uint32
	UseSegmenter bool
	UseTiktoken  bool
	Weights      []float32
	Intercept    float64
	TrainedAt    int64
}

// fastTextTerms tokenizes per the training config and adds token bigrams
func fastTextTerms(text string, useSegmenter bool, useTiktoken bool) ([]string, error) {
	clean := strings.ToLower(flattenLines(text))

	var tokens []string
	switch {
	case useTiktoken:
		bpe, err := bpeTokens(clean)
		if err != nil {
			return nil, err
		}
		tokens = bpe
	case useSegmenter:
		tokens = segment(clean)
	default:
		tokens = strings.Fields(clean)
	}

	terms := make([]string, 0, len(tokens)*2)
	terms = append(terms, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		terms = append(terms, tokens[i]+" "+tokens[i+1])
	}
	return terms, nil
}

func fastTextVector(text string, payload *fastTextPayload) (sparseVector, error) {
	terms, err := fastTextTerms(text, payload.UseSegmenter, payload.UseTiktoken)
	if err != nil {
		return nil, err
	}
	vec := hashFeatures(terms, payload.NFeatures, false)
	vec.l2Normalize()
	return vec, nil
}

// TrainFastText trains the supervised text classifier variant
func TrainFastText(profile *Profile, store *storage.Store) error {
	cfg := profile.Config.FastTextTraining
	rng := rand.New(rand.NewSource(cfg.RandomSeed))

	count := store.SampleCount()
	if count < int64(cfg.MinSamples) {
		log.Info("[FastText] not enough samples (%d < %d), skip training", count, cfg.MinSamples)
		return nil
	}

	samples := store.LoadByStrategy(cfg.SampleLoading, cfg.MaxSamples, rng)
	if len(samples) == 0 {
		log.Info("[FastText] no usable samples, skip training")
		return nil
	}
	log.Info("[FastText] training with %d samples (epochs=%d lr=%.3f)", len(samples), cfg.Epochs, cfg.LearningRate)

	nFeatures := uint32(cfg.NFeatures)
	if nFeatures == 0 {
		nFeatures = 262144
	}
	payload := &fastTextPayload{
		NFeatures:    nFeatures,
		UseSegmenter: cfg.UseSegmenter,
		UseTiktoken:  cfg.UseTiktoken,
	}

	vectors := make([]sparseVector, 0, len(samples))
	labels := make([]int, 0, len(samples))
	for _, sample := range samples {
		vec, err := fastTextVector(sample.Text, payload)
		if err != nil {
			return err
		}
		vectors = append(vectors, vec)
		labels = append(labels, sample.Label)
	}

	model := newLogisticModel(nFeatures, 1e-5)
	fitLogistic(model, vectors, labels, cfg.Epochs, rng, balancedClassWeights(labels))

	payload.Weights = model.Weights
	payload.Intercept = model.Intercept
	payload.TrainedAt = time.Now().Unix()

	path := profile.FastTextModelPath()
	if err := saveGob(path, payload); err != nil {
		return fmt.Errorf("fasttext save failed: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() < minModelSize {
		os.Remove(path)
		return fmt.Errorf("fasttext save failed: written file invalid")
	}
	log.Info("[FastText] model saved: %s (%.2f MB)", path, float64(info.Size())/1024/1024)
	return nil
}

func fasttextPredictProba(text string, profile *Profile) (float64, error) {
	path := profile.FastTextModelPath()
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("fasttext model missing: %s", path)
	}
	if info.Size() < minModelSize {
		removeCorrupted(path)
		return 0, fmt.Errorf("fasttext model too small (%d bytes): %s", info.Size(), path)
	}

	bundle, err := cachedBundle(profile.Name+":fasttext", info.ModTime(), func() (func(string) (float64, error), error) {
		payload := &fastTextPayload{}
		if err := loadGob(path, payload); err != nil {
			removeCorrupted(path)
			return nil, fmt.Errorf("fasttext model load failed: %s: %w", path, err)
		}
		if uint32(len(payload.Weights)) != payload.NFeatures {
			removeCorrupted(path)
			return nil, fmt.Errorf("fasttext model inconsistent: %s", path)
		}

		model := &logisticModel{Weights: payload.Weights, Intercept: payload.Intercept, wscale: 1.0}
		predict := func(text string) (float64, error) {
			vec, err := fastTextVector(text, payload)
			if err != nil {
				return 0, err
			}
			p := model.PredictProba(vec)
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return 0, fmt.Errorf("fasttext prediction not finite")
			}
			return p, nil
		}
		if _, err := predict("验证测试"); err != nil {
			removeCorrupted(path)
			return nil, fmt.Errorf("fasttext model validation failed: %s: %w", path, err)
		}
		return predict, nil
	})
	if err != nil {
		return 0, err
	}
	return bundle.predict(text)
}

// Train dispatches to the trainer for the profile's configured variant
func Train(profile *Profile, store *storage.Store) error {
	switch profile.Config.LocalModelType {
	case ModelHashLinear:
		return TrainHashLinear(profile, store)
	case ModelFastText:
		return TrainFastText(profile, store)
	default:
		return TrainBow(profile, store)
	}
}

// PredictProba scores one text with the profile's configured variant
func PredictProba(text string, profile *Profile) (float64, error) {
	switch profile.Config.LocalModelType {
	case ModelHashLinear:
		return hashlinearPredictProba(text, profile)
	case ModelFastText:
		return fasttextPredictProba(text, profile)
	default:
		return bowPredictProba(text, profile)
	}
}
