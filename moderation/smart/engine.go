package smart

import (
	"fmt"

	"github.com/yaoapp/kun/log"
)

// Config the per-request smart stage settings
type Config struct {
	Enabled bool   `json:"enabled"`
	Profile string `json:"profile"`
}

// Moderate runs the three-way decision: sampled AI review, local model
// with low/high thresholds, AI fallback for the uncertain band. Returns
// pass plus the verdict that produced it.
func Moderate(text string, cfg Config) (bool, *Result, error) {
	if !cfg.Enabled {
		return true, nil, nil
	}

	name := cfg.Profile
	if name == "" {
		name = "default"
	}
	profile, err := GetProfile(name)
	if err != nil {
		return false, nil, err
	}

	// sampled AI review keeps fresh labels flowing into the store
	if profile.Bernoulli(profile.Config.Probability.AIReviewRate) {
		result := AdjudicateAndLog(text, profile)
		log.Info("moderation %s: sampled AI review violation=%v", name, result.Violation)
		return !result.Violation, result, nil
	}

	if profile.ModelExists() {
		p, err := PredictProba(text, profile)
		if err != nil {
			log.Warn("local model prediction failed: %s, fallback to AI", err.Error())
		} else {
			low := profile.Config.Probability.LowRiskThreshold
			high := profile.Config.Probability.HighRiskThreshold

			if p < low {
				result := &Result{
					Violation:  false,
					Reason:     fmt.Sprintf("BoW: low risk (p=%.3f)", p),
					Source:     "bow_model",
					Confidence: p,
				}
				return true, result, nil
			}
			if p > high {
				result := &Result{
					Violation:  true,
					Reason:     fmt.Sprintf("BoW: high risk (p=%.3f)", p),
					Source:     "bow_model",
					Confidence: p,
				}
				log.Info("moderation %s: blocked by local model p=%.3f", name, p)
				return false, result, nil
			}

			// uncertain band, hand over to the adjudicator
			result := AdjudicateAndLog(text, profile)
			log.Info("moderation %s: uncertain p=%.3f, AI verdict violation=%v", name, p, result.Violation)
			return !result.Violation, result, nil
		}
	}

	result := AdjudicateAndLog(text, profile)
	log.Info("moderation %s: no local model, AI verdict violation=%v", name, result.Violation)
	return !result.Violation, result, nil
}
