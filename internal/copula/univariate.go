/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package copula

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Univariate is a fitted one-dimensional marginal distribution.
type Univariate interface {
	Family() Family
	Fit(x []float64) error
	CDF(x float64) float64
	Quantile(p float64) float64
	Parameters() map[string]interface{}
}

// ErrEmptyData is returned when fitting on no values.
var ErrEmptyData = errors.New("cannot fit a distribution on empty data")

func checkFinite(x []float64) error {
	if len(x) == 0 {
		return ErrEmptyData
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("value at index %d is not finite: %v", i, v)
		}
	}
	return nil
}

func popStd(x []float64) float64 {
	_, variance := stat.PopMeanVariance(x, nil)
	return math.Sqrt(variance)
}

// fitUnivariate fits the family on x. Constant data degrades to a point mass
// that keeps reporting the requested family.
func fitUnivariate(f Family, x []float64) (Univariate, error) {
	if err := checkFinite(x); err != nil {
		return nil, err
	}
	if floats.Min(x) == floats.Max(x) {
		return &constantUnivariate{family: f, value: x[0]}, nil
	}
	u, err := NewUnivariate(f)
	if err != nil {
		return nil, err
	}
	if err := u.Fit(x); err != nil {
		return nil, fmt.Errorf("fitting %s: %w", f, err)
	}
	return u, nil
}

type constantUnivariate struct {
	family Family
	value  float64
}

func (c *constantUnivariate) Family() Family { return c.family }

func (c *constantUnivariate) Fit(x []float64) error {
	if err := checkFinite(x); err != nil {
		return err
	}
	c.value = x[0]
	return nil
}

func (c *constantUnivariate) CDF(x float64) float64 {
	switch {
	case x < c.value:
		return 0
	case x > c.value:
		return 1
	}
	return 0.5
}

func (c *constantUnivariate) Quantile(float64) float64 { return c.value }

func (c *constantUnivariate) Parameters() map[string]interface{} {
	return map[string]interface{}{"loc": c.value, "scale": 0.0}
}

type normUnivariate struct {
	dist distuv.Normal
}

func (n *normUnivariate) Family() Family { return Norm }

func (n *normUnivariate) Fit(x []float64) error {
	if err := checkFinite(x); err != nil {
		return err
	}
	mean, variance := stat.PopMeanVariance(x, nil)
	n.dist = distuv.Normal{Mu: mean, Sigma: math.Sqrt(variance)}
	return nil
}

func (n *normUnivariate) CDF(x float64) float64      { return n.dist.CDF(x) }
func (n *normUnivariate) Quantile(p float64) float64 { return n.dist.Quantile(p) }

func (n *normUnivariate) Parameters() map[string]interface{} {
	return map[string]interface{}{"loc": n.dist.Mu, "scale": n.dist.Sigma}
}

// betaUnivariate is a four-parameter beta with support [loc, loc+scale],
// fitted by the method of moments.
type betaUnivariate struct {
	a, b, loc, scale float64
}

func (b *betaUnivariate) Family() Family { return Beta }

func (b *betaUnivariate) Fit(x []float64) error {
	if err := checkFinite(x); err != nil {
		return err
	}
	b.loc = floats.Min(x)
	b.scale = floats.Max(x) - b.loc
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = (v - b.loc) / b.scale
	}
	m, v := stat.PopMeanVariance(y, nil)
	b.a, b.b = 1, 1
	if v > 0 && m*(1-m) > v {
		common := m*(1-m)/v - 1
		b.a, b.b = m*common, (1-m)*common
	}
	return nil
}

func (b *betaUnivariate) dist() distuv.Beta { return distuv.Beta{Alpha: b.a, Beta: b.b} }

func (b *betaUnivariate) CDF(x float64) float64 {
	y := (x - b.loc) / b.scale
	switch {
	case y <= 0:
		return 0
	case y >= 1:
		return 1
	}
	return b.dist().CDF(y)
}

func (b *betaUnivariate) Quantile(p float64) float64 {
	return b.loc + b.scale*b.dist().Quantile(p)
}

func (b *betaUnivariate) Parameters() map[string]interface{} {
	return map[string]interface{}{"a": b.a, "b": b.b, "loc": b.loc, "scale": b.scale}
}

// truncNormUnivariate is a normal truncated to the observed range. a and b
// are the bounds in standard units.
type truncNormUnivariate struct {
	a, b, loc, scale float64
}

func (t *truncNormUnivariate) Family() Family { return TruncNorm }

func (t *truncNormUnivariate) Fit(x []float64) error {
	if err := checkFinite(x); err != nil {
		return err
	}
	mean, variance := stat.PopMeanVariance(x, nil)
	t.loc, t.scale = mean, math.Sqrt(variance)
	t.a = (floats.Min(x) - t.loc) / t.scale
	t.b = (floats.Max(x) - t.loc) / t.scale
	return nil
}

func (t *truncNormUnivariate) mass() (lo, width float64) {
	lo = distuv.UnitNormal.CDF(t.a)
	return lo, distuv.UnitNormal.CDF(t.b) - lo
}

func (t *truncNormUnivariate) CDF(x float64) float64 {
	z := (x - t.loc) / t.scale
	switch {
	case z <= t.a:
		return 0
	case z >= t.b:
		return 1
	}
	lo, width := t.mass()
	return (distuv.UnitNormal.CDF(z) - lo) / width
}

func (t *truncNormUnivariate) Quantile(p float64) float64 {
	lo, width := t.mass()
	z := distuv.UnitNormal.Quantile(lo + p*width)
	return t.loc + t.scale*math.Max(t.a, math.Min(t.b, z))
}

func (t *truncNormUnivariate) Parameters() map[string]interface{} {
	return map[string]interface{}{"a": t.a, "b": t.b, "loc": t.loc, "scale": t.scale}
}

type uniformUnivariate struct {
	loc, scale float64
}

func (u *uniformUnivariate) Family() Family { return Uniform }

func (u *uniformUnivariate) Fit(x []float64) error {
	if err := checkFinite(x); err != nil {
		return err
	}
	u.loc = floats.Min(x)
	u.scale = floats.Max(x) - u.loc
	return nil
}

func (u *uniformUnivariate) dist() distuv.Uniform {
	return distuv.Uniform{Min: u.loc, Max: u.loc + u.scale}
}

func (u *uniformUnivariate) CDF(x float64) float64      { return u.dist().CDF(x) }
func (u *uniformUnivariate) Quantile(p float64) float64 { return u.dist().Quantile(p) }

func (u *uniformUnivariate) Parameters() map[string]interface{} {
	return map[string]interface{}{"loc": u.loc, "scale": u.scale}
}

// gammaUnivariate is a shifted gamma. Shape and location come from the
// sample skewness; data without positive skew is shifted below its minimum.
type gammaUnivariate struct {
	a, loc, scale float64
}

func (g *gammaUnivariate) Family() Family { return Gamma }

func (g *gammaUnivariate) Fit(x []float64) error {
	if err := checkFinite(x); err != nil {
		return err
	}
	mean, variance := stat.PopMeanVariance(x, nil)
	std := math.Sqrt(variance)
	skew := stat.Skew(x, nil)
	if skew > 1e-3 && !math.IsNaN(skew) {
		g.a = 4 / (skew * skew)
		g.scale = std * skew / 2
		g.loc = mean - g.a*g.scale
		return nil
	}
	g.loc = floats.Min(x) - std
	shifted := mean - g.loc
	g.a = shifted * shifted / variance
	g.scale = variance / shifted
	return nil
}

func (g *gammaUnivariate) dist() distuv.Gamma {
	return distuv.Gamma{Alpha: g.a, Beta: 1 / g.scale}
}

func (g *gammaUnivariate) CDF(x float64) float64 {
	if x <= g.loc {
		return 0
	}
	return g.dist().CDF(x - g.loc)
}

func (g *gammaUnivariate) Quantile(p float64) float64 {
	return g.loc + g.dist().Quantile(p)
}

func (g *gammaUnivariate) Parameters() map[string]interface{} {
	return map[string]interface{}{"a": g.a, "loc": g.loc, "scale": g.scale}
}

// kdeUnivariate is a Gaussian kernel density estimate with Scott's bandwidth.
type kdeUnivariate struct {
	dataset   []float64
	bandwidth float64
}

func (k *kdeUnivariate) Family() Family { return GaussianKDE }

func (k *kdeUnivariate) Fit(x []float64) error {
	if err := checkFinite(x); err != nil {
		return err
	}
	k.dataset = append([]float64(nil), x...)
	std := stat.StdDev(x, nil)
	if math.IsNaN(std) || std == 0 {
		std = 1
	}
	k.bandwidth = std * math.Pow(float64(len(x)), -0.2)
	return nil
}

func (k *kdeUnivariate) CDF(x float64) float64 {
	var sum float64
	for _, xi := range k.dataset {
		sum += distuv.UnitNormal.CDF((x - xi) / k.bandwidth)
	}
	return sum / float64(len(k.dataset))
}

// Quantile inverts the CDF by bisection.
func (k *kdeUnivariate) Quantile(p float64) float64 {
	lo := floats.Min(k.dataset) - 10*k.bandwidth
	hi := floats.Max(k.dataset) + 10*k.bandwidth
	for i := 0; i < 100 && hi-lo > 1e-12*math.Max(1, math.Abs(hi)); i++ {
		mid := (lo + hi) / 2
		if k.CDF(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func (k *kdeUnivariate) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"dataset":   append([]float64(nil), k.dataset...),
		"bandwidth": k.bandwidth,
	}
}
