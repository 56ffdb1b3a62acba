package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

// ClassifierConfig holds hyperparameters for the dual-input classifier.
type ClassifierConfig struct {
	Encoder EncoderConfig `json:"encoder"`

	NumClasses int     `json:"num_classes"`
	CrossHeads int     `json:"cross_heads"` // Heads in the fusion layer
	HeadHidden int     `json:"head_hidden"` // Hidden size of the classification head
	Dropout    float64 `json:"dropout"`     // Head dropout probability (training only)
}

// DefaultClassifierConfig returns a classifier configuration matching the
// default encoder.
func DefaultClassifierConfig(numClasses int) ClassifierConfig {
	enc := DefaultEncoderConfig()
	return ClassifierConfig{
		Encoder:    enc,
		NumClasses: numClasses,
		CrossHeads: 8,
		HeadHidden: enc.HiddenDim,
		Dropout:    0.1,
	}
}

// ClassifierInput is one tokenized sequence: padded token IDs plus the
// matching attention mask (1 for real tokens, 0 for padding).
type ClassifierInput struct {
	IDs  []int
	Mask []int
}

// DualEncoderClassifier classifies a primary text conditioned on a context
// text. One shared Encoder is applied independently to both sequences; a
// cross-attention layer lets the primary sequence attend over the context;
// the classification head reads the fused [CLS] position.
type DualEncoderClassifier struct {
	config ClassifierConfig

	encoder *Encoder
	cross   *CrossAttention

	headW1, headB1 *Tensor // Dense projection
	headW2, headB2 *Tensor // Output logits

	rng *rand.Rand
}

// NewDualEncoderClassifier creates a classifier with randomly initialized
// weights.
func NewDualEncoderClassifier(config ClassifierConfig) *DualEncoderClassifier {
	if config.NumClasses < 2 {
		panic(fmt.Sprintf("classifier: need at least 2 classes, got %d", config.NumClasses))
	}

	return &DualEncoderClassifier{
		config:  config,
		encoder: NewEncoder(config.Encoder),
		cross:   NewCrossAttention(config.Encoder.HiddenDim, config.CrossHeads),
		headW1:  NewTensorRand(config.Encoder.HiddenDim, config.HeadHidden),
		headB1:  NewTensor(config.HeadHidden),
		headW2:  NewTensorRand(config.HeadHidden, config.NumClasses),
		headB2:  NewTensor(config.NumClasses),
		rng:     rand.New(rand.NewSource(42)),
	}
}

// Config returns the classifier's configuration.
func (m *DualEncoderClassifier) Config() ClassifierConfig {
	return m.config
}

func validateInput(name string, in ClassifierInput) error {
	if len(in.IDs) == 0 {
		return fmt.Errorf("classifier: %s sequence is empty: %w", name, ErrShapeMismatch)
	}
	if len(in.IDs) != len(in.Mask) {
		return fmt.Errorf("classifier: %s IDs length %d != mask length %d: %w",
			name, len(in.IDs), len(in.Mask), ErrShapeMismatch)
	}
	return nil
}

// ClassifierCache stores the activations of one training forward pass.
type ClassifierCache struct {
	primaryCache *EncoderCache
	contextCache *EncoderCache
	crossCache   *CrossAttentionCache

	fusedLen int

	cls           *Tensor // Fused [CLS] vector (1, hiddenDim)
	headPre       *Tensor // Before GELU
	dropoutMask   []float64
	headActivated *Tensor // After dropout, input to the output layer
}

// Forward classifies a primary/context pair without dropout or activation
// caching. Both sequences must be padded to the same length. Returns
// logits of shape (1, numClasses).
func (m *DualEncoderClassifier) Forward(primary, context ClassifierInput) (*Tensor, error) {
	logits, _, err := m.forward(primary, context, false)
	return logits, err
}

// ForwardTrain runs the forward pass with dropout enabled and retains the
// activations needed by Backward.
func (m *DualEncoderClassifier) ForwardTrain(primary, context ClassifierInput) (*Tensor, *ClassifierCache, error) {
	return m.forward(primary, context, true)
}

func (m *DualEncoderClassifier) forward(primary, context ClassifierInput, train bool) (*Tensor, *ClassifierCache, error) {
	if err := validateInput("primary", primary); err != nil {
		return nil, nil, err
	}
	if err := validateInput("context", context); err != nil {
		return nil, nil, err
	}
	if len(primary.IDs) != len(context.IDs) {
		return nil, nil, fmt.Errorf("classifier: primary length %d != context length %d: %w",
			len(primary.IDs), len(context.IDs), ErrShapeMismatch)
	}

	// Shared encoder, two independent passes.
	primaryHidden, primaryCache := m.encoder.ForwardWithCache(primary.IDs, primary.Mask)
	contextHidden, contextCache := m.encoder.ForwardWithCache(context.IDs, context.Mask)

	crossOut, crossCache := m.cross.ForwardWithCache(primaryHidden, contextHidden, context.Mask)

	// Residual fusion keeps a direct path from the primary encoding.
	fused := Add(primaryHidden, crossOut)

	hiddenDim := m.config.Encoder.HiddenDim
	cls := NewTensor(1, hiddenDim)
	for d := 0; d < hiddenDim; d++ {
		cls.Set(fused.At(0, d), 0, d)
	}

	pre := addBias(MatMul(cls, m.headW1), m.headB1)
	hidden := GELU(pre)

	activated := hidden.Clone()
	var dropoutMask []float64
	if train && m.config.Dropout > 0 {
		keep := 1.0 - m.config.Dropout
		dropoutMask = make([]float64, activated.Size())
		for i := range activated.data {
			if m.rng.Float64() < keep {
				dropoutMask[i] = 1.0 / keep
			}
			activated.data[i] *= dropoutMask[i]
		}
	}

	logits := addBias(MatMul(activated, m.headW2), m.headB2)

	if !train {
		return logits, nil, nil
	}

	cache := &ClassifierCache{
		primaryCache:  primaryCache,
		contextCache:  contextCache,
		crossCache:    crossCache,
		fusedLen:      fused.shape[0],
		cls:           cls.Clone(),
		headPre:       pre.Clone(),
		dropoutMask:   dropoutMask,
		headActivated: activated.Clone(),
	}
	return logits, cache, nil
}

// Predict returns the most likely class index for a primary/context pair.
func (m *DualEncoderClassifier) Predict(primary, context ClassifierInput) (int, error) {
	logits, err := m.Forward(primary, context)
	if err != nil {
		return 0, err
	}
	return argmax(logits.data), nil
}

// Backward propagates the logit gradient through the head, the fusion
// layer, and both encoder passes. The shared encoder accumulates gradients
// from the primary and context paths.
func (m *DualEncoderClassifier) Backward(gradLogits *Tensor, cache *ClassifierCache) {
	// Output layer: logits = activated @ W2 + b2
	gradActivated, gradW2 := MatMulBackward(cache.headActivated, m.headW2, gradLogits)
	m.headW2.AccumulateGrad(gradW2)
	for i := range gradLogits.data {
		m.headB2.grad[i] += gradLogits.data[i]
	}

	if cache.dropoutMask != nil {
		for i := range gradActivated.data {
			gradActivated.data[i] *= cache.dropoutMask[i]
		}
	}

	gradPre := GELUBackward(cache.headPre, gradActivated)

	// Dense layer: pre = cls @ W1 + b1
	gradCls, gradW1 := MatMulBackward(cache.cls, m.headW1, gradPre)
	m.headW1.AccumulateGrad(gradW1)
	for i := range gradPre.data {
		m.headB1.grad[i] += gradPre.data[i]
	}

	// Only the [CLS] position of the fused sequence feeds the head.
	hiddenDim := m.config.Encoder.HiddenDim
	gradFused := NewTensor(cache.fusedLen, hiddenDim)
	for d := 0; d < hiddenDim; d++ {
		gradFused.Set(gradCls.At(0, d), 0, d)
	}

	// fused = primaryHidden + crossOut
	gradPrimaryHidden, gradContextHidden := m.cross.Backward(gradFused, cache.crossCache)
	gradPrimaryHidden = Add(gradPrimaryHidden, gradFused)

	m.encoder.Backward(gradPrimaryHidden, cache.primaryCache)
	m.encoder.Backward(gradContextHidden, cache.contextCache)
}

// Parameters returns all trainable tensors. The shared encoder appears
// exactly once so the optimizer updates it a single time per step.
func (m *DualEncoderClassifier) Parameters() []*Tensor {
	params := m.encoder.Parameters()
	params = append(params, m.cross.Parameters()...)
	params = append(params, m.headW1, m.headB1, m.headW2, m.headB2)
	return params
}

// ZeroGrad clears the gradients of every parameter.
func (m *DualEncoderClassifier) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// ===========================================================================
// SERIALIZATION
// ===========================================================================

const checkpointMagic = "CBRCLF1"

// Save writes the classifier to path: a magic line, a JSON config line,
// then the raw float64 data of every parameter in Parameters() order.
func (m *DualEncoderClassifier) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	configJSON, err := json.Marshal(m.config)
	if err != nil {
		return fmt.Errorf("save classifier: encode config: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n%s\n", checkpointMagic, configJSON); err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}

	for _, p := range m.Parameters() {
		if err := binary.Write(w, binary.LittleEndian, p.data); err != nil {
			return fmt.Errorf("save classifier: write weights: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}
	return nil
}

// LoadClassifier reads a classifier previously written by Save.
func LoadClassifier(path string) (*DualEncoderClassifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load classifier: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("load classifier: read header: %w", err)
	}
	if magic != checkpointMagic+"\n" {
		return nil, fmt.Errorf("load classifier: %q is not a classifier checkpoint", path)
	}

	configLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("load classifier: read config: %w", err)
	}

	var config ClassifierConfig
	if err := json.Unmarshal([]byte(configLine), &config); err != nil {
		return nil, fmt.Errorf("load classifier: decode config: %w", err)
	}

	m := NewDualEncoderClassifier(config)
	for _, p := range m.Parameters() {
		if err := binary.Read(r, binary.LittleEndian, p.data); err != nil {
			return nil, fmt.Errorf("load classifier: read weights: %w", err)
		}
	}

	return m, nil
}
