package smart

import (
	"math"
	"math/rand"
)

// logisticModel a dense-weight logistic regression over hashed or
// vocabulary features, trained by SGD.
type logisticModel struct {
	Weights   []float32
	Intercept float64

	wscale float64
	steps  float64
	t0     float64
	alpha  float64
}

func newLogisticModel(nFeatures uint32, alpha float64) *logisticModel {
	model := &logisticModel{
		Weights: make([]float32, nFeatures),
		wscale:  1.0,
		alpha:   alpha,
	}
	// sklearn-style optimal schedule: eta_t = 1 / (alpha * (t0 + t))
	typw := math.Sqrt(1.0 / math.Sqrt(alpha))
	eta0 := typw / math.Max(1.0, 1.0/(1.0+math.Exp(typw)))
	model.t0 = 1.0 / (alpha * eta0)
	return model
}

func sigmoid(score float64) float64 {
	return 1.0 / (1.0 + math.Exp(-score))
}

func (model *logisticModel) decision(vec sparseVector) float64 {
	var dot float64
	for idx, value := range vec {
		dot += float64(model.Weights[idx]) * value
	}
	return dot*model.scale() + model.Intercept
}

func (model *logisticModel) scale() float64 {
	if model.wscale == 0 {
		return 1.0
	}
	return model.wscale
}

// PredictProba returns p(violation)
func (model *logisticModel) PredictProba(vec sparseVector) float64 {
	return sigmoid(model.decision(vec))
}

// PartialFit runs one SGD pass over the batch. classWeights rebalance the
// loss per label, 1.0 for unweighted.
func (model *logisticModel) PartialFit(batch []sparseVector, labels []int, classWeights [2]float64) {
	for i, vec := range batch {
		label := labels[i]
		eta := 1.0 / (model.alpha * (model.t0 + model.steps))
		model.steps++

		grad := (sigmoid(model.decision(vec)) - float64(label)) * classWeights[label]

		// L2 decay as a lazy global scale, per-feature updates compensate
		model.wscale *= 1.0 - eta*model.alpha
		if model.wscale < 1e-9 {
			model.rescale()
		}
		for idx, value := range vec {
			model.Weights[idx] -= float32(eta * grad * value / model.scale())
		}
		model.Intercept -= eta * grad
	}
}

func (model *logisticModel) rescale() {
	for idx := range model.Weights {
		model.Weights[idx] = float32(float64(model.Weights[idx]) * model.wscale)
	}
	model.wscale = 1.0
}

// Finalize folds the lazy scale into the stored weights before saving
func (model *logisticModel) Finalize() {
	model.rescale()
}

// balancedClassWeights gives each class weight n / (2 * n_class)
func balancedClassWeights(labels []int) [2]float64 {
	counts := [2]float64{}
	for _, label := range labels {
		counts[label]++
	}
	total := counts[0] + counts[1]
	weights := [2]float64{1, 1}
	for class := 0; class < 2; class++ {
		if counts[class] > 0 {
			weights[class] = total / (2 * counts[class])
		}
	}
	return weights
}

// fitLogistic trains for the given epochs with per-epoch shuffling
func fitLogistic(model *logisticModel, vectors []sparseVector, labels []int, epochs int, rng *rand.Rand, classWeights [2]float64) {
	order := make([]int, len(vectors))
	for i := range order {
		order[i] = i
	}
	for epoch := 0; epoch < epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			model.PartialFit(vectors[idx:idx+1], labels[idx:idx+1], classWeights)
		}
	}
	model.Finalize()
}
