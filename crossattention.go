package main

import (
	"fmt"
	"math"
)

// CrossAttention fuses two encoded sequences: queries come from the
// primary sequence and keys/values come from the context sequence. Each
// primary position ends up as a mixture of context positions weighted by
// relevance, with padding positions of the context masked out.
type CrossAttention struct {
	hiddenDim int
	numHeads  int
	headDim   int

	wq, wk, wv, wo *Tensor
}

// NewCrossAttention creates a multi-head cross-attention layer.
func NewCrossAttention(hiddenDim, numHeads int) *CrossAttention {
	if hiddenDim%numHeads != 0 {
		panic(fmt.Sprintf("crossattention: hiddenDim (%d) must be divisible by numHeads (%d)", hiddenDim, numHeads))
	}

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

	return &CrossAttention{
		hiddenDim: hiddenDim,
		numHeads:  numHeads,
		headDim:   hiddenDim / numHeads,
		wq:        wq,
		wk:        wk,
		wv:        wv,
		wo:        wo,
	}
}

// CrossAttentionCache stores activations for the backward pass.
type CrossAttentionCache struct {
	primary *Tensor // Query-side input
	context *Tensor // Key/value-side input

	q, k, v *Tensor // Full projections

	headWeights []*Tensor // Per-head softmax weights

	fused *Tensor // Concatenated head outputs before wo

	contextMask []int
}

// ForwardWithCache attends the primary sequence over the context sequence.
// primary: (primLen, hiddenDim); context: (ctxLen, hiddenDim);
// contextMask: per-position validity of the context (1 real, 0 padding).
// Returns (primLen, hiddenDim).
func (c *CrossAttention) ForwardWithCache(primary, context *Tensor, contextMask []int) (*Tensor, *CrossAttentionCache) {
	primLen := primary.shape[0]
	ctxLen := context.shape[0]
	if len(contextMask) != ctxLen {
		panic(fmt.Sprintf("crossattention: context mask length %d != context length %d", len(contextMask), ctxLen))
	}

	cache := &CrossAttentionCache{
		primary:     primary.Clone(),
		context:     context.Clone(),
		contextMask: contextMask,
		headWeights: make([]*Tensor, c.numHeads),
	}

	cache.q = MatMul(primary, c.wq)
	cache.k = MatMul(context, c.wk)
	cache.v = MatMul(context, c.wv)

	q := cache.q.Reshape(primLen, c.numHeads, c.headDim)
	k := cache.k.Reshape(ctxLen, c.numHeads, c.headDim)
	v := cache.v.Reshape(ctxLen, c.numHeads, c.headDim)

	fused := NewTensor(primLen, c.hiddenDim)
	scale := 1.0 / math.Sqrt(float64(c.headDim))

	for h := 0; h < c.numHeads; h++ {
		qHead := NewTensor(primLen, c.headDim)
		kHead := NewTensor(ctxLen, c.headDim)
		vHead := NewTensor(ctxLen, c.headDim)

		for i := 0; i < primLen; i++ {
			for d := 0; d < c.headDim; d++ {
				qHead.Set(q.At(i, h, d), i, d)
			}
		}
		for j := 0; j < ctxLen; j++ {
			for d := 0; d < c.headDim; d++ {
				kHead.Set(k.At(j, h, d), j, d)
				vHead.Set(v.At(j, h, d), j, d)
			}
		}

		scores := Scale(MatMul(qHead, Transpose(kHead)), scale)
		for i := 0; i < primLen; i++ {
			for j := 0; j < ctxLen; j++ {
				if contextMask[j] == 0 {
					scores.Set(-1e9, i, j)
				}
			}
		}

		weights := Softmax(scores)
		cache.headWeights[h] = weights

		attended := MatMul(weights, vHead)

		for i := 0; i < primLen; i++ {
			for d := 0; d < c.headDim; d++ {
				fused.Set(attended.At(i, d), i, h*c.headDim+d)
			}
		}
	}

	cache.fused = fused.Clone()

	return MatMul(fused, c.wo), cache
}

// Forward attends without retaining activations.
func (c *CrossAttention) Forward(primary, context *Tensor, contextMask []int) *Tensor {
	out, _ := c.ForwardWithCache(primary, context, contextMask)
	return out
}

// Backward propagates gradients through the cross-attention layer,
// returning gradients with respect to both the primary and the context
// inputs.
func (c *CrossAttention) Backward(gradOutput *Tensor, cache *CrossAttentionCache) (gradPrimary, gradContext *Tensor) {
	primLen := cache.primary.shape[0]
	ctxLen := cache.context.shape[0]

	gradFused, gradWo := MatMulBackward(cache.fused, c.wo, gradOutput)
	c.wo.AccumulateGrad(gradWo)

	gradFusedHeads := gradFused.Reshape(primLen, c.numHeads, c.headDim)

	q := cache.q.Reshape(primLen, c.numHeads, c.headDim)
	k := cache.k.Reshape(ctxLen, c.numHeads, c.headDim)
	v := cache.v.Reshape(ctxLen, c.numHeads, c.headDim)

	gradQ := NewTensor(primLen, c.numHeads, c.headDim)
	gradK := NewTensor(ctxLen, c.numHeads, c.headDim)
	gradV := NewTensor(ctxLen, c.numHeads, c.headDim)

	scale := 1.0 / math.Sqrt(float64(c.headDim))

	for h := 0; h < c.numHeads; h++ {
		qHead := NewTensor(primLen, c.headDim)
		kHead := NewTensor(ctxLen, c.headDim)
		vHead := NewTensor(ctxLen, c.headDim)
		gradAttended := NewTensor(primLen, c.headDim)

		for i := 0; i < primLen; i++ {
			for d := 0; d < c.headDim; d++ {
				qHead.Set(q.At(i, h, d), i, d)
				gradAttended.Set(gradFusedHeads.At(i, h, d), i, d)
			}
		}
		for j := 0; j < ctxLen; j++ {
			for d := 0; d < c.headDim; d++ {
				kHead.Set(k.At(j, h, d), j, d)
				vHead.Set(v.At(j, h, d), j, d)
			}
		}

		weights := cache.headWeights[h]

		gradWeights, gradVHead := MatMulBackward(weights, vHead, gradAttended)

		gradScores := SoftmaxBackward(weights, gradWeights)
		gradScores = Scale(gradScores, scale)

		gradQHead, gradKT := MatMulBackward(qHead, Transpose(kHead), gradScores)
		gradKHead := Transpose(gradKT)

		for i := 0; i < primLen; i++ {
			for d := 0; d < c.headDim; d++ {
				gradQ.Set(gradQHead.At(i, d), i, h, d)
			}
		}
		for j := 0; j < ctxLen; j++ {
			for d := 0; d < c.headDim; d++ {
				gradK.Set(gradKHead.At(j, d), j, h, d)
				gradV.Set(gradVHead.At(j, d), j, h, d)
			}
		}
	}

	gradQFlat := gradQ.Reshape(primLen, c.hiddenDim)
	gradKFlat := gradK.Reshape(ctxLen, c.hiddenDim)
	gradVFlat := gradV.Reshape(ctxLen, c.hiddenDim)

	gradPrimary, gradWq := MatMulBackward(cache.primary, c.wq, gradQFlat)
	c.wq.AccumulateGrad(gradWq)

	// K and V both project the context: gradients sum.
	gradContextK, gradWk := MatMulBackward(cache.context, c.wk, gradKFlat)
	c.wk.AccumulateGrad(gradWk)

	gradContextV, gradWv := MatMulBackward(cache.context, c.wv, gradVFlat)
	c.wv.AccumulateGrad(gradWv)

	gradContext = Add(gradContextK, gradContextV)

	return gradPrimary, gradContext
}

// Parameters returns the trainable tensors of the cross-attention layer.
func (c *CrossAttention) Parameters() []*Tensor {
	return []*Tensor{c.wq, c.wk, c.wv, c.wo}
}
