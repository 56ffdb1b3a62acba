package main

import (
	"fmt"
	"math"
)

// EncoderConfig holds hyperparameters for the shared text encoder.
type EncoderConfig struct {
	VocabSize int // Size of vocabulary
	MaxSeqLen int // Maximum sequence length (context window)
	HiddenDim int // Hidden dimension (d_model)
	NumLayers int // Number of encoder blocks
	NumHeads  int // Number of attention heads per block
	FFHidden  int // Feed-forward hidden dimension (typically 4 * HiddenDim)
}

// DefaultEncoderConfig returns a small encoder configuration suitable for
// the fallacy datasets (a few thousand short texts).
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		VocabSize: 8000,
		MaxSeqLen: 128,
		HiddenDim: 128,
		NumLayers: 2,
		NumHeads:  4,
		FFHidden:  512,
	}
}

// ===========================================================================
// SELF-ATTENTION (bidirectional, padding-masked)
// ===========================================================================

// SelfAttention implements multi-head bidirectional self-attention.
//
// Unlike a causal (GPT-style) layer, every position may attend to every
// other position; the mask only blocks attention *to* padding positions.
type SelfAttention struct {
	hiddenDim int
	numHeads  int
	headDim   int

	wq, wk, wv, wo *Tensor
}

// NewSelfAttention creates a bidirectional attention layer.
func NewSelfAttention(hiddenDim, numHeads int) *SelfAttention {
	if hiddenDim%numHeads != 0 {
		panic(fmt.Sprintf("encoder: hiddenDim (%d) must be divisible by numHeads (%d)", hiddenDim, numHeads))
	}

	// Xavier/Glorot initialization scaled for transformers
	scale := math.Sqrt(2.0 / float64(hiddenDim))

	wq := NewTensorRand(hiddenDim, hiddenDim)
	wk := NewTensorRand(hiddenDim, hiddenDim)
	wv := NewTensorRand(hiddenDim, hiddenDim)
	wo := NewTensorRand(hiddenDim, hiddenDim)

	for i := range wq.data {
		wq.data[i] *= scale
		wk.data[i] *= scale
		wv.data[i] *= scale
		wo.data[i] *= scale
	}

	return &SelfAttention{
		hiddenDim: hiddenDim,
		numHeads:  numHeads,
		headDim:   hiddenDim / numHeads,
		wq:        wq,
		wk:        wk,
		wv:        wv,
		wo:        wo,
	}
}

// SelfAttentionCache stores activations for the backward pass.
type SelfAttentionCache struct {
	input *Tensor // Layer input

	q, k, v *Tensor // Full projections (seqLen, hiddenDim)

	// Per-head softmax weights, needed for SoftmaxBackward.
	headWeights []*Tensor

	context *Tensor // Concatenated head outputs before wo
	mask    []int
}

// ForwardWithCache computes masked self-attention and stores activations.
// x: (seqLen, hiddenDim); mask: per-position validity (1 real, 0 padding).
func (a *SelfAttention) ForwardWithCache(x *Tensor, mask []int) (*Tensor, *SelfAttentionCache) {
	seqLen := x.shape[0]
	if len(mask) != seqLen {
		panic(fmt.Sprintf("encoder: mask length %d != seqLen %d", len(mask), seqLen))
	}

	cache := &SelfAttentionCache{
		input:       x.Clone(),
		mask:        mask,
		headWeights: make([]*Tensor, a.numHeads),
	}

	cache.q = MatMul(x, a.wq)
	cache.k = MatMul(x, a.wk)
	cache.v = MatMul(x, a.wv)

	q := cache.q.Reshape(seqLen, a.numHeads, a.headDim)
	k := cache.k.Reshape(seqLen, a.numHeads, a.headDim)
	v := cache.v.Reshape(seqLen, a.numHeads, a.headDim)

	output := NewTensor(seqLen, a.hiddenDim)
	scale := 1.0 / math.Sqrt(float64(a.headDim))

	for h := 0; h < a.numHeads; h++ {
		qHead := NewTensor(seqLen, a.headDim)
		kHead := NewTensor(seqLen, a.headDim)
		vHead := NewTensor(seqLen, a.headDim)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				qHead.Set(q.At(i, h, d), i, d)
				kHead.Set(k.At(i, h, d), i, d)
				vHead.Set(v.At(i, h, d), i, d)
			}
		}

		// Scores: Q @ K^T / sqrt(d_k), with padding keys masked out.
		scores := Scale(MatMul(qHead, Transpose(kHead)), scale)
		for i := 0; i < seqLen; i++ {
			for j := 0; j < seqLen; j++ {
				if mask[j] == 0 {
					scores.Set(-1e9, i, j)
				}
			}
		}

		weights := Softmax(scores)
		cache.headWeights[h] = weights

		context := MatMul(weights, vHead)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				output.Set(context.At(i, d), i, h*a.headDim+d)
			}
		}
	}

	cache.context = output.Clone()

	return MatMul(output, a.wo), cache
}

// Forward computes masked self-attention without retaining activations.
func (a *SelfAttention) Forward(x *Tensor, mask []int) *Tensor {
	out, _ := a.ForwardWithCache(x, mask)
	return out
}

// Backward propagates gradients through the attention layer and returns
// the gradient with respect to the layer input.
func (a *SelfAttention) Backward(gradOutput *Tensor, cache *SelfAttentionCache) *Tensor {
	seqLen := cache.input.shape[0]

	// Output projection: output = context @ wo
	gradContext, gradWo := MatMulBackward(cache.context, a.wo, gradOutput)
	a.wo.AccumulateGrad(gradWo)

	gradContextHeads := gradContext.Reshape(seqLen, a.numHeads, a.headDim)

	q := cache.q.Reshape(seqLen, a.numHeads, a.headDim)
	k := cache.k.Reshape(seqLen, a.numHeads, a.headDim)
	v := cache.v.Reshape(seqLen, a.numHeads, a.headDim)

	gradQ := NewTensor(seqLen, a.numHeads, a.headDim)
	gradK := NewTensor(seqLen, a.numHeads, a.headDim)
	gradV := NewTensor(seqLen, a.numHeads, a.headDim)

	scale := 1.0 / math.Sqrt(float64(a.headDim))

	for h := 0; h < a.numHeads; h++ {
		qHead := NewTensor(seqLen, a.headDim)
		kHead := NewTensor(seqLen, a.headDim)
		vHead := NewTensor(seqLen, a.headDim)
		gradCtxHead := NewTensor(seqLen, a.headDim)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				qHead.Set(q.At(i, h, d), i, d)
				kHead.Set(k.At(i, h, d), i, d)
				vHead.Set(v.At(i, h, d), i, d)
				gradCtxHead.Set(gradContextHeads.At(i, h, d), i, d)
			}
		}

		weights := cache.headWeights[h]

		// context = weights @ V
		gradWeights, gradVHead := MatMulBackward(weights, vHead, gradCtxHead)

		// Softmax. Masked positions have weight ~0, so their score
		// gradient vanishes naturally.
		gradScores := SoftmaxBackward(weights, gradWeights)
		gradScores = Scale(gradScores, scale)

		// scores = qHead @ kHead^T
		gradQHead, gradKT := MatMulBackward(qHead, Transpose(kHead), gradScores)
		gradKHead := Transpose(gradKT)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				gradQ.Set(gradQHead.At(i, d), i, h, d)
				gradK.Set(gradKHead.At(i, d), i, h, d)
				gradV.Set(gradVHead.At(i, d), i, h, d)
			}
		}
	}

	gradQFlat := gradQ.Reshape(seqLen, a.hiddenDim)
	gradKFlat := gradK.Reshape(seqLen, a.hiddenDim)
	gradVFlat := gradV.Reshape(seqLen, a.hiddenDim)

	// Q, K, V all project the same input: gradients sum.
	gradInput := NewTensor(cache.input.shape...)

	gradInputQ, gradWq := MatMulBackward(cache.input, a.wq, gradQFlat)
	a.wq.AccumulateGrad(gradWq)
	gradInput = Add(gradInput, gradInputQ)

	gradInputK, gradWk := MatMulBackward(cache.input, a.wk, gradKFlat)
	a.wk.AccumulateGrad(gradWk)
	gradInput = Add(gradInput, gradInputK)

	gradInputV, gradWv := MatMulBackward(cache.input, a.wv, gradVFlat)
	a.wv.AccumulateGrad(gradWv)
	gradInput = Add(gradInput, gradInputV)

	return gradInput
}

// Parameters returns the trainable tensors of the attention layer.
func (a *SelfAttention) Parameters() []*Tensor {
	return []*Tensor{a.wq, a.wk, a.wv, a.wo}
}

// ===========================================================================
// LAYER NORM / FEED-FORWARD
// ===========================================================================

// LayerNorm implements layer normalization: y = γ*(x-μ)/σ + β with the
// mean and variance computed per position.
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *Tensor
	beta  *Tensor
}

// NewLayerNorm creates a layer normalization layer initialized to identity.
func NewLayerNorm(dim int) *LayerNorm {
	gamma := NewTensor(dim)
	beta := NewTensor(dim)

	for i := 0; i < dim; i++ {
		gamma.data[i] = 1.0
	}

	return &LayerNorm{
		dim:   dim,
		eps:   1e-5,
		gamma: gamma,
		beta:  beta,
	}
}

// Forward applies layer normalization to each row of x.
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("encoder: LayerNorm input must be 2D")
	}

	rows, features := x.shape[0], x.shape[1]
	out := NewTensor(rows, features)

	for i := 0; i < rows; i++ {
		mean := 0.0
		for j := 0; j < features; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(features)

		variance := 0.0
		for j := 0; j < features; j++ {
			diff := x.At(i, j) - mean
			variance += diff * diff
		}
		variance /= float64(features)

		std := math.Sqrt(variance + ln.eps)
		for j := 0; j < features; j++ {
			normalized := (x.At(i, j) - mean) / std
			out.Set(normalized*ln.gamma.data[j]+ln.beta.data[j], i, j)
		}
	}

	return out
}

// Backward propagates gradients through the layer norm given its original
// input, accumulating parameter gradients and returning the input gradient.
func (ln *LayerNorm) Backward(input, gradY *Tensor) *Tensor {
	gradX, gradGamma, gradBeta := LayerNormBackward(input, ln.gamma, gradY, ln.eps)
	ln.gamma.AccumulateGrad(gradGamma)
	ln.beta.AccumulateGrad(gradBeta)
	return gradX
}

// Parameters returns the trainable tensors of the layer norm.
func (ln *LayerNorm) Parameters() []*Tensor {
	return []*Tensor{ln.gamma, ln.beta}
}

// FeedForward implements the position-wise two-layer MLP:
// FFN(x) = GELU(x @ W1 + b1) @ W2 + b2.
type FeedForward struct {
	w1, b1 *Tensor
	w2, b2 *Tensor
}

// NewFeedForward creates a feed-forward layer.
func NewFeedForward(hiddenDim, ffHidden int) *FeedForward {
	return &FeedForward{
		w1: NewTensorRand(hiddenDim, ffHidden),
		b1: NewTensor(ffHidden),
		w2: NewTensorRand(ffHidden, hiddenDim),
		b2: NewTensor(hiddenDim),
	}
}

// FFCache stores feed-forward activations for the backward pass.
type FFCache struct {
	input         *Tensor
	preActivation *Tensor // Before GELU (needed for its gradient)
	hidden        *Tensor // After GELU
}

// ForwardWithCache applies the MLP and stores activations.
func (ff *FeedForward) ForwardWithCache(x *Tensor) (*Tensor, *FFCache) {
	cache := &FFCache{input: x.Clone()}

	hidden := addBias(MatMul(x, ff.w1), ff.b1)
	cache.preActivation = hidden.Clone()

	hidden = GELU(hidden)
	cache.hidden = hidden.Clone()

	return addBias(MatMul(hidden, ff.w2), ff.b2), cache
}

// Forward applies the MLP without retaining activations.
func (ff *FeedForward) Forward(x *Tensor) *Tensor {
	out, _ := ff.ForwardWithCache(x)
	return out
}

// Backward propagates gradients through the MLP.
func (ff *FeedForward) Backward(gradOutput *Tensor, cache *FFCache) *Tensor {
	// Second linear: output = hidden @ W2 + b2
	gradHidden, gradW2 := MatMulBackward(cache.hidden, ff.w2, gradOutput)
	ff.w2.AccumulateGrad(gradW2)
	for i := range gradOutput.data {
		ff.b2.grad[i%ff.b2.Size()] += gradOutput.data[i]
	}

	gradPre := GELUBackward(cache.preActivation, gradHidden)

	// First linear: hidden = x @ W1 + b1
	gradInput, gradW1 := MatMulBackward(cache.input, ff.w1, gradPre)
	ff.w1.AccumulateGrad(gradW1)
	for i := range gradPre.data {
		ff.b1.grad[i%ff.b1.Size()] += gradPre.data[i]
	}

	return gradInput
}

// Parameters returns the trainable tensors of the MLP.
func (ff *FeedForward) Parameters() []*Tensor {
	return []*Tensor{ff.w1, ff.b1, ff.w2, ff.b2}
}

// ===========================================================================
// ENCODER BLOCK
// ===========================================================================

// EncoderBlock combines masked self-attention and a feed-forward network
// with pre-norm residual connections:
//
//	x = x + Attention(LayerNorm(x))
//	x = x + FeedForward(LayerNorm(x))
type EncoderBlock struct {
	attn *SelfAttention
	ln1  *LayerNorm
	ff   *FeedForward
	ln2  *LayerNorm
}

// NewEncoderBlock creates an encoder block.
func NewEncoderBlock(config EncoderConfig) *EncoderBlock {
	return &EncoderBlock{
		attn: NewSelfAttention(config.HiddenDim, config.NumHeads),
		ln1:  NewLayerNorm(config.HiddenDim),
		ff:   NewFeedForward(config.HiddenDim, config.FFHidden),
		ln2:  NewLayerNorm(config.HiddenDim),
	}
}

// BlockCache stores per-block activations for the backward pass.
type BlockCache struct {
	ln1Input  *Tensor
	attnCache *SelfAttentionCache
	ln2Input  *Tensor
	ffCache   *FFCache
}

// ForwardWithCache applies the block and stores activations.
func (b *EncoderBlock) ForwardWithCache(x *Tensor, mask []int) (*Tensor, *BlockCache) {
	cache := &BlockCache{}

	cache.ln1Input = x.Clone()
	attnOut, attnCache := b.attn.ForwardWithCache(b.ln1.Forward(x), mask)
	cache.attnCache = attnCache
	x = Add(x, attnOut)

	cache.ln2Input = x.Clone()
	ffOut, ffCache := b.ff.ForwardWithCache(b.ln2.Forward(x))
	cache.ffCache = ffCache
	x = Add(x, ffOut)

	return x, cache
}

// Forward applies the block without retaining activations.
func (b *EncoderBlock) Forward(x *Tensor, mask []int) *Tensor {
	out, _ := b.ForwardWithCache(x, mask)
	return out
}

// Backward propagates gradients through the block.
func (b *EncoderBlock) Backward(gradX *Tensor, cache *BlockCache) *Tensor {
	// Residual 2: x_out = x + FF(LN2(x))
	gradLn2Out := b.ff.Backward(gradX, cache.ffCache)
	gradX = Add(gradX, b.ln2.Backward(cache.ln2Input, gradLn2Out))

	// Residual 1: x = x_in + Attn(LN1(x_in))
	gradLn1Out := b.attn.Backward(gradX, cache.attnCache)
	gradX = Add(gradX, b.ln1.Backward(cache.ln1Input, gradLn1Out))

	return gradX
}

// Parameters returns the trainable tensors of the block.
func (b *EncoderBlock) Parameters() []*Tensor {
	params := b.attn.Parameters()
	params = append(params, b.ln1.Parameters()...)
	params = append(params, b.ff.Parameters()...)
	params = append(params, b.ln2.Parameters()...)
	return params
}

// ===========================================================================
// ENCODER
// ===========================================================================

// Encoder is a bidirectional transformer encoder producing one hidden
// vector per input position. A single Encoder instance is shared between
// the primary and context passes of the dual-input classifier.
type Encoder struct {
	config EncoderConfig

	tokenEmbed *Tensor // (vocabSize, hiddenDim)
	posEmbed   *Tensor // (maxSeqLen, hiddenDim)

	blocks []*EncoderBlock

	lnFinal *LayerNorm
}

// NewEncoder creates an encoder with randomly initialized weights.
func NewEncoder(config EncoderConfig) *Encoder {
	tokenEmbed := NewTensorRand(config.VocabSize, config.HiddenDim)
	posEmbed := NewTensorRand(config.MaxSeqLen, config.HiddenDim)

	blocks := make([]*EncoderBlock, config.NumLayers)
	for i := range blocks {
		blocks[i] = NewEncoderBlock(config)
	}

	return &Encoder{
		config:     config,
		tokenEmbed: tokenEmbed,
		posEmbed:   posEmbed,
		blocks:     blocks,
		lnFinal:    NewLayerNorm(config.HiddenDim),
	}
}

// EncoderCache stores activations from one encoder pass.
type EncoderCache struct {
	tokenIDs     []int
	blockCaches  []*BlockCache
	lnFinalInput *Tensor
}

// ForwardWithCache encodes a token sequence, returning per-position hidden
// states (seqLen, hiddenDim) and the activation cache for Backward.
func (e *Encoder) ForwardWithCache(inputIDs []int, mask []int) (*Tensor, *EncoderCache) {
	seqLen := len(inputIDs)
	if seqLen == 0 {
		panic("encoder: empty input sequence")
	}
	if seqLen > e.config.MaxSeqLen {
		panic(fmt.Sprintf("encoder: sequence length %d exceeds maximum %d", seqLen, e.config.MaxSeqLen))
	}
	if len(mask) != seqLen {
		panic(fmt.Sprintf("encoder: mask length %d != sequence length %d", len(mask), seqLen))
	}

	cache := &EncoderCache{
		tokenIDs:    inputIDs,
		blockCaches: make([]*BlockCache, e.config.NumLayers),
	}

	// Token + learned absolute position embeddings.
	x := NewTensor(seqLen, e.config.HiddenDim)
	for i, tokenID := range inputIDs {
		if tokenID < 0 || tokenID >= e.config.VocabSize {
			panic(fmt.Sprintf("encoder: token ID %d out of vocabulary range [0,%d)", tokenID, e.config.VocabSize))
		}
		for d := 0; d < e.config.HiddenDim; d++ {
			x.Set(e.tokenEmbed.At(tokenID, d)+e.posEmbed.At(i, d), i, d)
		}
	}

	for layer, block := range e.blocks {
		var blockCache *BlockCache
		x, blockCache = block.ForwardWithCache(x, mask)
		cache.blockCaches[layer] = blockCache
	}

	cache.lnFinalInput = x.Clone()
	return e.lnFinal.Forward(x), cache
}

// Forward encodes a token sequence without retaining activations.
func (e *Encoder) Forward(inputIDs []int, mask []int) *Tensor {
	out, _ := e.ForwardWithCache(inputIDs, mask)
	return out
}

// Backward propagates gradients from the hidden states back through the
// encoder, accumulating into all parameter gradients. Because the encoder
// is shared between two passes, calling Backward twice (once per cache)
// naturally sums the gradients.
func (e *Encoder) Backward(gradHidden *Tensor, cache *EncoderCache) {
	gradX := e.lnFinal.Backward(cache.lnFinalInput, gradHidden)

	for layer := e.config.NumLayers - 1; layer >= 0; layer-- {
		gradX = e.blocks[layer].Backward(gradX, cache.blockCaches[layer])
	}

	// Embedding gradients.
	for i, tokenID := range cache.tokenIDs {
		for d := 0; d < e.config.HiddenDim; d++ {
			g := gradX.At(i, d)
			e.tokenEmbed.grad[tokenID*e.config.HiddenDim+d] += g
			e.posEmbed.grad[i*e.config.HiddenDim+d] += g
		}
	}
}

// Parameters returns all trainable tensors of the encoder.
func (e *Encoder) Parameters() []*Tensor {
	params := []*Tensor{e.tokenEmbed, e.posEmbed}
	for _, block := range e.blocks {
		params = append(params, block.Parameters()...)
	}
	params = append(params, e.lnFinal.Parameters()...)
	return params
}
