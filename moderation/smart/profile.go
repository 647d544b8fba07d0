package smart

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/guardianbridge/guardianbridge/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Local model variants
const (
	ModelBow        = "bow"
	ModelHashLinear = "hashlinear"
	ModelFastText   = "fasttext"
)

// AIConfig the adjudicator endpoint settings
type AIConfig struct {
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	Timeout        int    `json:"timeout"`
	PromptTemplate string `json:"prompt_template"`
}

// ProbabilityConfig the three-way decision parameters. low <= high.
type ProbabilityConfig struct {
	AIReviewRate      float64 `json:"ai_review_rate"`
	LowRiskThreshold  float64 `json:"low_risk_threshold"`
	HighRiskThreshold float64 `json:"high_risk_threshold"`
	RandomSeed        int64   `json:"random_seed"`
}

// BowTraining hyperparameters for the BoW variant
type BowTraining struct {
	MinSamples             int    `json:"min_samples"`
	MaxSamples             int    `json:"max_samples"`
	UseCharNgram           bool   `json:"use_char_ngram"`
	UseWordNgram           bool   `json:"use_word_ngram"`
	WordNgramRange         []int  `json:"word_ngram_range"`
	MaxFeatures            int    `json:"max_features"`
	ModelType              string `json:"model_type"`
	RetrainIntervalMinutes int    `json:"retrain_interval_minutes"`
	SampleLoading          string `json:"sample_loading"`
}

// HashLinearTraining hyperparameters for the hashed-feature variant
type HashLinearTraining struct {
	MinSamples             int     `json:"min_samples"`
	MaxSamples             int     `json:"max_samples"`
	MaxDBItems             int     `json:"max_db_items"`
	Analyzer               string  `json:"analyzer"`
	NgramRange             []int   `json:"ngram_range"`
	NFeatures              int     `json:"n_features"`
	AlternateSign          bool    `json:"alternate_sign"`
	Norm                   string  `json:"norm"`
	UseSegmenter           bool    `json:"use_jieba"`
	Epochs                 int     `json:"epochs"`
	BatchSize              int     `json:"batch_size"`
	MaxSeconds             int     `json:"max_seconds"`
	Alpha                  float64 `json:"alpha"`
	RandomSeed             int64   `json:"random_seed"`
	RetrainIntervalMinutes int     `json:"retrain_interval_minutes"`
	SampleLoading          string  `json:"sample_loading"`
}

// FastTextTraining hyperparameters for the fastText-style variant
type FastTextTraining struct {
	MinSamples             int     `json:"min_samples"`
	MaxSamples             int     `json:"max_samples"`
	UseSegmenter           bool    `json:"use_jieba"`
	UseTiktoken            bool    `json:"use_tiktoken"`
	Epochs                 int     `json:"epochs"`
	LearningRate           float64 `json:"learning_rate"`
	NFeatures              int     `json:"n_features"`
	RandomSeed             int64   `json:"random_seed"`
	RetrainIntervalMinutes int     `json:"retrain_interval_minutes"`
	SampleLoading          string  `json:"sample_loading"`
}

// ProfileConfig the parsed profile.json
type ProfileConfig struct {
	AI                 AIConfig           `json:"ai"`
	Probability        ProbabilityConfig  `json:"probability"`
	LocalModelType     string             `json:"local_model_type"`
	BowTraining        BowTraining        `json:"bow_training"`
	HashLinearTraining HashLinearTraining `json:"hashlinear_training"`
	FastTextTraining   FastTextTraining   `json:"fasttext_training"`
}

const defaultPromptTemplate = `You are a strict content moderator. Review the text below and answer with a single JSON object {"violation": bool, "category": string, "reason": string}.

Text:
{text}`

// Profile one moderation tenant, a directory with profile.json and
// derived artifacts.
type Profile struct {
	Name   string
	Dir    string
	Config ProfileConfig

	rng   *rand.Rand
	rngMu sync.Mutex
}

type profileEntry struct {
	profile *Profile
	mtime   time.Time
}

var (
	profiles     = map[string]*profileEntry{}
	profilesLock sync.Mutex
)

// GetProfile loads a profile from the configured profiles root, reusing
// the cached instance until profile.json changes on disk.
func GetProfile(name string) (*Profile, error) {
	return GetProfileIn(config.Conf.ProfilesRoot, name)
}

// GetProfileIn is GetProfile against an explicit root
func GetProfileIn(root string, name string) (*Profile, error) {
	path := filepath.Join(root, name, "profile.json")
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}

	profilesLock.Lock()
	defer profilesLock.Unlock()

	key := filepath.Join(root, name)
	if entry, has := profiles[key]; has && entry.mtime.Equal(info.ModTime()) {
		return entry.profile, nil
	}

	profile, err := loadProfile(root, name)
	if err != nil {
		return nil, err
	}
	profiles[key] = &profileEntry{profile: profile, mtime: info.ModTime()}
	return profile, nil
}

func loadProfile(root string, name string) (*Profile, error) {
	dir := filepath.Join(root, name)
	raw, err := os.ReadFile(filepath.Join(dir, "profile.json"))
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("profile %s: parse profile.json: %w", name, err)
	}
	if cfg.Probability.LowRiskThreshold > cfg.Probability.HighRiskThreshold {
		return nil, fmt.Errorf("profile %s: low_risk_threshold > high_risk_threshold", name)
	}

	return &Profile{
		Name:   name,
		Dir:    dir,
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Probability.RandomSeed)),
	}, nil
}

func defaultConfig() ProfileConfig {
	return ProfileConfig{
		AI: AIConfig{
			Model:   "gpt-4o-mini",
			Timeout: 30,
		},
		Probability: ProbabilityConfig{
			AIReviewRate:      0.1,
			LowRiskThreshold:  0.2,
			HighRiskThreshold: 0.8,
			RandomSeed:        42,
		},
		LocalModelType: ModelBow,
		BowTraining: BowTraining{
			MinSamples:             100,
			MaxSamples:             20000,
			UseCharNgram:           true,
			WordNgramRange:         []int{1, 1},
			MaxFeatures:            100000,
			ModelType:              "sgd_logistic",
			RetrainIntervalMinutes: 1440,
			SampleLoading:          "latest_full",
		},
		HashLinearTraining: HashLinearTraining{
			MinSamples:             100,
			MaxSamples:             20000,
			MaxDBItems:             100000,
			Analyzer:               "char",
			NgramRange:             []int{2, 4},
			NFeatures:              1048576,
			Norm:                   "l2",
			Epochs:                 3,
			BatchSize:              2048,
			MaxSeconds:             300,
			Alpha:                  1e-5,
			RandomSeed:             42,
			RetrainIntervalMinutes: 1440,
			SampleLoading:          "balanced_undersample",
		},
		FastTextTraining: FastTextTraining{
			MinSamples:             100,
			MaxSamples:             20000,
			UseSegmenter:           true,
			Epochs:                 5,
			LearningRate:           0.1,
			NFeatures:              262144,
			RandomSeed:             42,
			RetrainIntervalMinutes: 1440,
			SampleLoading:          "balanced_undersample",
		},
	}
}

// DBPath the legacy sample database path the store migrates from
func (profile *Profile) DBPath() string {
	return filepath.Join(profile.Dir, "history.db")
}

// BowModelPath the BoW classifier file
func (profile *Profile) BowModelPath() string {
	return filepath.Join(profile.Dir, "bow.model")
}

// BowVectorizerPath the BoW vocabulary and idf file
func (profile *Profile) BowVectorizerPath() string {
	return filepath.Join(profile.Dir, "bow.vectorizer")
}

// HashLinearModelPath the hashed-feature model file
func (profile *Profile) HashLinearModelPath() string {
	return filepath.Join(profile.Dir, "hashlinear.model")
}

// FastTextModelPath the fastText-style model file
func (profile *Profile) FastTextModelPath() string {
	return filepath.Join(profile.Dir, "fasttext.bin")
}

// LockPath the per-profile training lock
func (profile *Profile) LockPath() string {
	return filepath.Join(profile.Dir, ".train.lock")
}

// StatusPath the training status file
func (profile *Profile) StatusPath() string {
	return filepath.Join(profile.Dir, ".train_status.json")
}

// TrainLogPath the tee'd trainer output
func (profile *Profile) TrainLogPath() string {
	return filepath.Join(profile.Dir, "train.log")
}

// ModelPath the live model file for the configured variant
func (profile *Profile) ModelPath() string {
	switch profile.Config.LocalModelType {
	case ModelHashLinear:
		return profile.HashLinearModelPath()
	case ModelFastText:
		return profile.FastTextModelPath()
	default:
		return profile.BowModelPath()
	}
}

// ModelExists reports whether the configured variant has a trained model
func (profile *Profile) ModelExists() bool {
	switch profile.Config.LocalModelType {
	case ModelHashLinear:
		return fileExists(profile.HashLinearModelPath())
	case ModelFastText:
		return fileExists(profile.FastTextModelPath())
	default:
		return fileExists(profile.BowModelPath()) && fileExists(profile.BowVectorizerPath())
	}
}

// Training returns the variant-independent scheduling knobs
func (profile *Profile) Training() (minSamples int, retrainMinutes int) {
	switch profile.Config.LocalModelType {
	case ModelHashLinear:
		return profile.Config.HashLinearTraining.MinSamples, profile.Config.HashLinearTraining.RetrainIntervalMinutes
	case ModelFastText:
		return profile.Config.FastTextTraining.MinSamples, profile.Config.FastTextTraining.RetrainIntervalMinutes
	default:
		return profile.Config.BowTraining.MinSamples, profile.Config.BowTraining.RetrainIntervalMinutes
	}
}

// RenderPrompt inserts the text into the adjudicator prompt template
func (profile *Profile) RenderPrompt(text string) string {
	template := profile.Config.AI.PromptTemplate
	if template == "" {
		template = defaultPromptTemplate
	}
	return strings.ReplaceAll(template, "{text}", text)
}

// Bernoulli draws from the profile's seeded RNG
func (profile *Profile) Bernoulli(rate float64) bool {
	profile.rngMu.Lock()
	defer profile.rngMu.Unlock()
	return profile.rng.Float64() < rate
}

// Rand returns a dedicated RNG derived from the profile seed
func (profile *Profile) Rand() *rand.Rand {
	return rand.New(rand.NewSource(profile.Config.Probability.RandomSeed))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
