package main

// Backward operations for backpropagation. Each forward operation in
// tensor.go that appears on the training path has a matching backward
// implementation here, applying the chain rule.
//
// Example, matrix multiplication:
//
//	Forward:  C = A @ B
//	Backward: ∂L/∂A = ∂L/∂C @ B^T
//	          ∂L/∂B = A^T @ ∂L/∂C

import (
	"math"
)

// MatMulBackward computes gradients for matrix multiplication.
//
// Given C = A @ B and gradC = ∂L/∂C, returns:
//
//	gradA = gradC @ B^T
//	gradB = A^T @ gradC
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	bT := Transpose(b)
	gradA = MatMul(gradC, bT)

	aT := Transpose(a)
	gradB = MatMul(aT, gradC)

	return gradA, gradB
}

// GELUBackward computes the gradient for the GELU activation.
//
// GELU(x) = 0.5 * x * (1 + tanh(√(2/π) * (x + 0.044715 * x³)))
// The derivative is computed analytically via the chain rule.
func GELUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)

	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)

	for i := range x.data {
		v := x.data[i]

		inner := sqrt2OverPi * (v + coeff*v*v*v)
		tanhInner := math.Tanh(inner)

		tanhDeriv := 1.0 - tanhInner*tanhInner // sech²(inner)
		innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*v*v)
		geluDeriv := 0.5*(1.0+tanhInner) + 0.5*v*tanhDeriv*innerDeriv

		gradX.data[i] = gradY.data[i] * geluDeriv
	}

	return gradX
}

// SoftmaxBackward computes the gradient for row-wise softmax.
//
// Given Y = softmax(X) and gradY = ∂L/∂Y:
//
//	gradX[i] = Y[i] * (gradY[i] - Σ_j gradY[j] * Y[j])
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}

	rows := y.shape[0]
	features := y.shape[1]

	gradX := NewTensor(y.shape...)

	for b := 0; b < rows; b++ {
		dot := 0.0
		for f := 0; f < features; f++ {
			dot += gradY.At(b, f) * y.At(b, f)
		}

		for f := 0; f < features; f++ {
			gradX.Set(y.At(b, f)*(gradY.At(b, f)-dot), b, f)
		}
	}

	return gradX
}

// LayerNormBackward computes gradients for layer normalization.
//
// Forward: y = gamma * (x - mean) / std + beta, with mean/std per row.
// x is the input that was normalized; gradY is ∂L/∂y.
func LayerNormBackward(x, gamma, gradY *Tensor, epsilon float64) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.shape) != 2 {
		panic("LayerNormBackward: requires 2D tensor")
	}

	rows := x.shape[0]
	features := x.shape[1]

	gradX = NewTensor(x.shape...)
	gradGamma = NewTensor(features)
	gradBeta = NewTensor(features)

	n := float64(features)

	for b := 0; b < rows; b++ {
		// Recompute statistics (needed for backward pass)
		mean := 0.0
		for f := 0; f < features; f++ {
			mean += x.At(b, f)
		}
		mean /= n

		variance := 0.0
		for f := 0; f < features; f++ {
			diff := x.At(b, f) - mean
			variance += diff * diff
		}
		variance /= n

		std := math.Sqrt(variance + epsilon)

		// Parameter gradients
		for f := 0; f < features; f++ {
			xNorm := (x.At(b, f) - mean) / std
			gradGamma.data[f] += gradY.At(b, f) * xNorm
			gradBeta.data[f] += gradY.At(b, f)
		}

		// Input gradient: chain rule through mean and variance.
		sumGradY := 0.0
		sumGradYXNorm := 0.0
		for f := 0; f < features; f++ {
			xNorm := (x.At(b, f) - mean) / std
			sumGradY += gradY.At(b, f) * gamma.data[f]
			sumGradYXNorm += gradY.At(b, f) * gamma.data[f] * xNorm
		}

		for f := 0; f < features; f++ {
			xNorm := (x.At(b, f) - mean) / std
			gradXNorm := gradY.At(b, f) * gamma.data[f]
			gradX.Set((n*gradXNorm-sumGradY-xNorm*sumGradYXNorm)/(n*std), b, f)
		}
	}

	return gradX, gradGamma, gradBeta
}

// AccumulateGrad adds grad's data into this tensor's gradient buffer.
// Used when a tensor contributes to the loss through multiple paths,
// e.g. encoder weights shared by the primary and context passes.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("AccumulateGrad: shape mismatch")
	}

	for i := range t.grad {
		t.grad[i] += grad.data[i]
	}
}
