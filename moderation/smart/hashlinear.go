package smart

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/yaoapp/kun/log"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
)

const minModelSize = 512 // bytes, smaller files are treated as corrupted

type hashLinearPayload struct {
	Vectorizer hashVectorizer
	Weights    []float32
	Intercept  float64
	TrainedAt  int64
}

// TrainHashLinear trains the hashed-feature logistic model with
// mini-batch SGD under a wall-clock budget.
func TrainHashLinear(profile *Profile, store *storage.Store) error {
	cfg := profile.Config.HashLinearTraining
	rng := rand.New(rand.NewSource(cfg.RandomSeed))

	store.CleanupExcess(cfg.MaxDBItems, rng)

	count := store.SampleCount()
	if count < int64(cfg.MinSamples) {
		log.Info("[HashLinear] not enough samples (%d < %d), skip training", count, cfg.MinSamples)
		return nil
	}

	samples := store.LoadByStrategy(cfg.SampleLoading, cfg.MaxSamples, rng)
	log.Info("[HashLinear] sample loading strategy: %s", cfg.SampleLoading)
	if len(samples) == 0 {
		log.Info("[HashLinear] no usable samples, skip training")
		return nil
	}

	vectorizer := newHashVectorizer(cfg)
	log.Info("[HashLinear] training with %d samples", len(samples))
	log.Info("[HashLinear] features: analyzer=%s ngram=[%d,%d] n_features=%d norm=%s",
		vectorizer.Analyzer, vectorizer.NgramMin, vectorizer.NgramMax, vectorizer.NFeatures, vectorizer.Norm)
	log.Info("[HashLinear] training: epochs=%d batch_size=%d alpha=%g", cfg.Epochs, cfg.BatchSize, cfg.Alpha)

	model := newLogisticModel(vectorizer.NFeatures, cfg.Alpha)
	weights := [2]float64{1, 1}

	texts := make([]string, len(samples))
	labels := make([]int, len(samples))
	for i, sample := range samples {
		texts[i] = flattenLines(sample.Text)
		labels[i] = sample.Label
	}

	start := time.Now()
	lastPrint := start
	deadline := start.Add(time.Duration(cfg.MaxSeconds) * time.Second)

epochs:
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		order := rng.Perm(len(texts))
		log.Info("[HashLinear] epoch %d/%d...", epoch+1, cfg.Epochs)

		for offset := 0; offset < len(order); offset += cfg.BatchSize {
			if cfg.MaxSeconds > 0 && time.Now().After(deadline) {
				log.Info("[HashLinear] reached max training time %ds, stop early (epoch=%d)", cfg.MaxSeconds, epoch+1)
				break epochs
			}

			end := offset + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := make([]sparseVector, 0, end-offset)
			batchLabels := make([]int, 0, end-offset)
			for _, idx := range order[offset:end] {
				batch = append(batch, vectorizer.Transform(texts[idx]))
				batchLabels = append(batchLabels, labels[idx])
			}
			model.PartialFit(batch, batchLabels, weights)

			if now := time.Now(); now.Sub(lastPrint) >= 5*time.Second {
				done := end
				elapsed := now.Sub(start).Seconds()
				rate := float64(done) / math.Max(elapsed, 1e-9)
				eta := float64(len(order)-done) / math.Max(rate, 1e-9)
				log.Info("[HashLinear]  progress: %d/%d | %.1f samples/s | ETA %.1fs | elapsed %.1fs",
					done, len(order), rate, eta, elapsed)
				lastPrint = now
			}
		}
	}
	model.Finalize()

	payload := &hashLinearPayload{
		Vectorizer: vectorizer,
		Weights:    model.Weights,
		Intercept:  model.Intercept,
		TrainedAt:  time.Now().Unix(),
	}

	path := profile.HashLinearModelPath()
	if err := saveGob(path, payload); err != nil {
		return fmt.Errorf("hashlinear save failed: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() < minModelSize {
		os.Remove(path)
		return fmt.Errorf("hashlinear save failed: written file invalid")
	}
	log.Info("[HashLinear] model saved: %s (%.2f MB)", path, float64(info.Size())/1024/1024)
	return nil
}

func removeCorrupted(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove corrupted model file %s: %s", path, err.Error())
		return
	}
	log.Info("removed corrupted model file: %s", path)
}

// loadHashLinear validates and caches the model bundle, any corruption
// deletes the file so the next training rebuilds it.
func loadHashLinear(profile *Profile) (*modelBundle, error) {
	path := profile.HashLinearModelPath()
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("hashlinear model missing: %s", path)
	}
	if info.Size() < minModelSize {
		removeCorrupted(path)
		return nil, fmt.Errorf("hashlinear model too small (%d bytes): %s", info.Size(), path)
	}

	return cachedBundle(profile.Name+":hashlinear", info.ModTime(), func() (func(string) (float64, error), error) {
		payload := &hashLinearPayload{}
		if err := loadGob(path, payload); err != nil {
			removeCorrupted(path)
			return nil, fmt.Errorf("hashlinear model load failed: %s: %w", path, err)
		}
		if uint32(len(payload.Weights)) != payload.Vectorizer.NFeatures {
			removeCorrupted(path)
			return nil, fmt.Errorf("hashlinear model inconsistent: %s", path)
		}

		model := &logisticModel{Weights: payload.Weights, Intercept: payload.Intercept, wscale: 1.0}
		predict := func(text string) (float64, error) {
			p := model.PredictProba(payload.Vectorizer.Transform(text))
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return 0, fmt.Errorf("hashlinear prediction not finite")
			}
			return p, nil
		}

		// canary prediction before the bundle goes live
		if _, err := predict("验证测试"); err != nil {
			removeCorrupted(path)
			return nil, fmt.Errorf("hashlinear model validation failed: %s: %w", path, err)
		}
		return predict, nil
	})
}

func hashlinearPredictProba(text string, profile *Profile) (float64, error) {
	bundle, err := loadHashLinear(profile)
	if err != nil {
		return 0, err
	}
	return bundle.predict(text)
}
