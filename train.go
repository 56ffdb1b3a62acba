package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
)

// ===========================================================================
// LOSS
// ===========================================================================

// CrossEntropyLoss computes -log softmax(logits)[label] for a single
// (1, numClasses) logit row, using the log-sum-exp trick for stability.
func CrossEntropyLoss(logits *Tensor, label int) float64 {
	n := logits.Size()
	if label < 0 || label >= n {
		panic(fmt.Sprintf("train: label %d out of range [0,%d)", label, n))
	}

	maxLogit := logits.data[0]
	for _, v := range logits.data[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	sumExp := 0.0
	for _, v := range logits.data {
		sumExp += math.Exp(v - maxLogit)
	}

	return math.Log(sumExp) - (logits.data[label] - maxLogit)
}

// CrossEntropyBackward returns dLoss/dLogits = softmax(logits) - onehot.
func CrossEntropyBackward(logits *Tensor, label int) *Tensor {
	grad := Softmax(logits)
	grad.data[label] -= 1.0
	return grad
}

// ===========================================================================
// OPTIMIZER / SCHEDULE
// ===========================================================================

// AdamWOptimizer implements Adam with decoupled weight decay.
type AdamWOptimizer struct {
	beta1       float64
	beta2       float64
	epsilon     float64
	weightDecay float64

	m    [][]float64 // First moment per parameter
	v    [][]float64 // Second moment per parameter
	step int
}

// NewAdamWOptimizer creates an AdamW optimizer with standard betas.
func NewAdamWOptimizer(weightDecay float64) *AdamWOptimizer {
	return &AdamWOptimizer{
		beta1:       0.9,
		beta2:       0.999,
		epsilon:     1e-8,
		weightDecay: weightDecay,
	}
}

// Step applies one update to all parameters using their accumulated
// gradients. lr is the already-scheduled learning rate for this step.
func (o *AdamWOptimizer) Step(params []*Tensor, lr float64) {
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.v = make([][]float64, len(params))
		for i, p := range params {
			o.m[i] = make([]float64, p.Size())
			o.v[i] = make([]float64, p.Size())
		}
	}

	o.step++
	bc1 := 1.0 - math.Pow(o.beta1, float64(o.step))
	bc2 := 1.0 - math.Pow(o.beta2, float64(o.step))

	for i, p := range params {
		for j := range p.data {
			g := p.grad[j]

			o.m[i][j] = o.beta1*o.m[i][j] + (1-o.beta1)*g
			o.v[i][j] = o.beta2*o.v[i][j] + (1-o.beta2)*g*g

			mHat := o.m[i][j] / bc1
			vHat := o.v[i][j] / bc2

			// Decoupled weight decay (applied to the weight, not the
			// gradient).
			p.data[j] -= lr * (mHat/(math.Sqrt(vHat)+o.epsilon) + o.weightDecay*p.data[j])
		}
	}
}

// LRScheduler produces a warmup-then-cosine learning rate schedule.
type LRScheduler struct {
	baseLR      float64
	warmupSteps int
	totalSteps  int
}

// NewLRScheduler creates a scheduler. With warmupSteps = 0 the schedule
// is pure cosine decay.
func NewLRScheduler(baseLR float64, warmupSteps, totalSteps int) *LRScheduler {
	return &LRScheduler{baseLR: baseLR, warmupSteps: warmupSteps, totalSteps: totalSteps}
}

// LearningRate returns the rate for a given 0-based step.
func (s *LRScheduler) LearningRate(step int) float64 {
	if s.warmupSteps > 0 && step < s.warmupSteps {
		return s.baseLR * float64(step+1) / float64(s.warmupSteps)
	}

	if s.totalSteps <= s.warmupSteps {
		return s.baseLR
	}

	progress := float64(step-s.warmupSteps) / float64(s.totalSteps-s.warmupSteps)
	if progress > 1 {
		progress = 1
	}
	return s.baseLR * 0.5 * (1 + math.Cos(math.Pi*progress))
}

// clipGradients rescales all gradients so their global L2 norm is at most
// maxNorm. Returns the pre-clip norm.
func clipGradients(params []*Tensor, maxNorm float64) float64 {
	totalSq := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			totalSq += g * g
		}
	}
	norm := math.Sqrt(totalSq)

	if maxNorm > 0 && norm > maxNorm {
		scale := maxNorm / norm
		for _, p := range params {
			for j := range p.grad {
				p.grad[j] *= scale
			}
		}
	}
	return norm
}

// ===========================================================================
// EXAMPLES
// ===========================================================================

// TrainExample is one tokenized training pair: the original text as the
// primary sequence, the retrieval-augmented text as the context.
type TrainExample struct {
	Primary ClassifierInput
	Context ClassifierInput
	Label   int
}

// MakeExamples tokenizes augmented cases into classifier inputs. With no
// retrievals the context equals the primary, so the model degrades to a
// plain single-text classifier.
func MakeExamples(augmented []AugmentedExample, tok *Tokenizer, labels *LabelEncoder, maxLen int) ([]TrainExample, error) {
	out := make([]TrainExample, len(augmented))
	for i, a := range augmented {
		label, err := labels.Transform(a.Original.Label)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}

		primIDs, primMask := tok.EncodePadded(a.Original.Text, maxLen)
		ctxIDs, ctxMask := tok.EncodePadded(a.Text, maxLen)

		out[i] = TrainExample{
			Primary: ClassifierInput{IDs: primIDs, Mask: primMask},
			Context: ClassifierInput{IDs: ctxIDs, Mask: ctxMask},
			Label:   label,
		}
	}
	return out, nil
}

// ===========================================================================
// TRAINER
// ===========================================================================

// Trainer runs the optimization loop for one threshold setting.
type Trainer struct {
	config TrainingConfig
	rng    *rand.Rand
}

// NewTrainer creates a trainer with a deterministic shuffle seed.
func NewTrainer(config TrainingConfig) *Trainer {
	return &Trainer{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// TrainResult summarizes one training run.
type TrainResult struct {
	BestDevF1  float64
	BestEpoch  int
	FinalLoss  float64
	DevMetrics Metrics
}

// Train optimizes the model on train, evaluating on dev after every epoch
// and checkpointing the best model (by weighted dev F1) to checkpointPath.
// The context cancels between batches.
func (t *Trainer) Train(ctx context.Context, model *DualEncoderClassifier, train, dev []TrainExample, checkpointPath string) (*TrainResult, error) {
	if len(train) == 0 {
		return nil, fmt.Errorf("train: no training examples")
	}

	params := model.Parameters()
	stepsPerEpoch := (len(train) + t.config.BatchSize - 1) / t.config.BatchSize
	scheduler := NewLRScheduler(t.config.LearningRate, t.config.WarmupSteps, stepsPerEpoch*t.config.Epochs)
	optimizer := NewAdamWOptimizer(t.config.WeightDecay)

	result := &TrainResult{BestDevF1: -1}

	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}

	globalStep := 0
	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		t.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		epochLoss := 0.0
		for start := 0; start < len(order); start += t.config.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			end := min(start+t.config.BatchSize, len(order))
			batch := order[start:end]

			model.ZeroGrad()

			batchLoss := 0.0
			invBatch := 1.0 / float64(len(batch))
			for _, idx := range batch {
				ex := train[idx]
				logits, cache, err := model.ForwardTrain(ex.Primary, ex.Context)
				if err != nil {
					return nil, fmt.Errorf("train step %d: %w", globalStep, err)
				}

				batchLoss += CrossEntropyLoss(logits, ex.Label)

				gradLogits := Scale(CrossEntropyBackward(logits, ex.Label), invBatch)
				model.Backward(gradLogits, cache)
			}
			batchLoss *= invBatch
			epochLoss += batchLoss

			clipGradients(params, t.config.GradClip)
			optimizer.Step(params, scheduler.LearningRate(globalStep))
			globalStep++
		}

		avgLoss := epochLoss / float64(stepsPerEpoch)
		devMetrics, _, err := Evaluate(ctx, model, dev)
		if err != nil {
			return nil, fmt.Errorf("dev evaluation after epoch %d: %w", epoch, err)
		}

		slog.Info("epoch complete",
			"epoch", epoch,
			"train_loss", avgLoss,
			"dev_accuracy", devMetrics.Accuracy,
			"dev_f1", devMetrics.F1)

		result.FinalLoss = avgLoss
		if devMetrics.F1 > result.BestDevF1 {
			result.BestDevF1 = devMetrics.F1
			result.BestEpoch = epoch
			result.DevMetrics = devMetrics
			if checkpointPath != "" {
				if err := model.Save(checkpointPath); err != nil {
					return nil, fmt.Errorf("checkpoint after epoch %d: %w", epoch, err)
				}
				slog.Info("checkpoint saved", "path", checkpointPath, "dev_f1", devMetrics.F1)
			}
		}
	}

	return result, nil
}

// Evaluate runs the model over a split, returning metrics and the raw
// predicted class indices.
func Evaluate(ctx context.Context, model *DualEncoderClassifier, examples []TrainExample) (Metrics, []int, error) {
	if len(examples) == 0 {
		return Metrics{}, nil, nil
	}

	preds := make([]int, len(examples))
	golds := make([]int, len(examples))
	for i, ex := range examples {
		if err := ctx.Err(); err != nil {
			return Metrics{}, nil, err
		}

		pred, err := model.Predict(ex.Primary, ex.Context)
		if err != nil {
			return Metrics{}, nil, fmt.Errorf("evaluate example %d: %w", i, err)
		}
		preds[i] = pred
		golds[i] = ex.Label
	}

	return ComputeMetrics(preds, golds, model.Config().NumClasses), preds, nil
}
