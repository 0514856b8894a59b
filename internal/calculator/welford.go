package calculator

import "math"

// Running accumulates mean, variance and range of a sample in a single pass
// using Welford's method. The zero value is not ready; use NewRunning.
type Running struct {
	n    int64
	mean float64
	m2   float64
	min  float64
	max  float64
}

// NewRunning returns an empty accumulator with range sentinels armed.
func NewRunning() Running {
	return Running{min: math.Inf(1), max: math.Inf(-1)}
}

// Add folds one observation into the accumulator.
func (r *Running) Add(x float64) {
	r.n++
	delta := x - r.mean
	r.mean += delta / float64(r.n)
	r.m2 += delta * (x - r.mean)
	if x < r.min {
		r.min = x
	}
	if x > r.max {
		r.max = x
	}
}

// N returns the number of observations.
func (r Running) N() int64 { return r.n }

// Mean returns the arithmetic mean, 0 when empty.
func (r Running) Mean() float64 { return r.mean }

// Variance returns the sample variance (n-1 denominator). Fewer than two
// observations yield 0.
func (r Running) Variance() float64 {
	if r.n < 2 {
		return 0
	}
	return r.m2 / float64(r.n-1)
}

// StdDev returns the sample standard deviation.
func (r Running) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// Min returns the smallest observation, or 0 if nothing was observed.
func (r Running) Min() float64 {
	if r.n == 0 {
		return 0
	}
	return r.min
}

// Max returns the largest observation, or 0 if nothing was observed.
func (r Running) Max() float64 {
	if r.n == 0 {
		return 0
	}
	return r.max
}
