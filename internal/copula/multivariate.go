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
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
)

// epsilon keeps probabilities away from 0 and 1 before the normal inverse.
const epsilon = 1.1920929e-07

// GaussianMultivariate joins per-column marginals with a Gaussian copula.
type GaussianMultivariate struct {
	distributions map[string]Family
	defaultFamily Family
	rng           *rand.Rand

	columns     []string
	univariates []Univariate
	correlation *mat.SymDense
	cholesky    *mat.TriDense
	fitted      bool
}

// NewGaussianMultivariate returns an unfitted model. Columns missing from
// distributions use defaultFamily.
func NewGaussianMultivariate(distributions map[string]Family, defaultFamily Family, seed uint64) (*GaussianMultivariate, error) {
	if _, err := NewUnivariate(defaultFamily); err != nil {
		return nil, err
	}
	dist := make(map[string]Family, len(distributions))
	for col, f := range distributions {
		if _, err := NewUnivariate(f); err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		dist[col] = f
	}
	return &GaussianMultivariate{
		distributions: dist,
		defaultFamily: defaultFamily,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Columns returns the fitted columns in order.
func (g *GaussianMultivariate) Columns() []string {
	return append([]string(nil), g.columns...)
}

// Fitted reports whether Fit has succeeded.
func (g *GaussianMultivariate) Fitted() bool { return g.fitted }

func (g *GaussianMultivariate) familyFor(column string) Family {
	if f, ok := g.distributions[column]; ok {
		return f
	}
	return g.defaultFamily
}

// Fit learns every column's marginal and the correlation of their normal
// scores. All columns must be numeric and free of missing values.
func (g *GaussianMultivariate) Fit(data *frame.Frame) error {
	g.fitted = false
	columns := data.Columns()
	if len(columns) == 0 || data.Len() == 0 {
		return ErrEmptyData
	}
	univariates := make([]Univariate, len(columns))
	scores := make([][]float64, len(columns))
	for i, col := range columns {
		x, err := data.Float64s(col)
		if err != nil {
			return err
		}
		u, err := fitUnivariate(g.familyFor(col), x)
		if err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
		univariates[i] = u
		scores[i] = normalScores(u, x)
	}

	corr := mat.NewSymDense(len(columns), nil)
	for i := range columns {
		corr.SetSym(i, i, 1)
		for j := 0; j < i; j++ {
			r := stat.Correlation(scores[i], scores[j], nil)
			if math.IsNaN(r) || math.IsInf(r, 0) {
				r = 0
			}
			corr.SetSym(i, j, r)
		}
	}
	l, corr, err := choleskyRepaired(corr)
	if err != nil {
		return err
	}

	g.columns = columns
	g.univariates = univariates
	g.correlation = corr
	g.cholesky = l
	g.fitted = true
	return nil
}

func normalScores(u Univariate, x []float64) []float64 {
	z := make([]float64, len(x))
	for i, v := range x {
		z[i] = distuv.UnitNormal.Quantile(clipProbability(u.CDF(v)))
	}
	return z
}

func clipProbability(p float64) float64 {
	if math.IsNaN(p) {
		return 0.5
	}
	return math.Max(epsilon, math.Min(1-epsilon, p))
}

// choleskyRepaired factorizes a correlation-like matrix, shrinking it towards
// the identity until it is positive definite.
func choleskyRepaired(sym *mat.SymDense) (*mat.TriDense, *mat.SymDense, error) {
	n := sym.SymmetricDim()
	if n == 0 {
		return mat.NewTriDense(1, mat.Lower, []float64{0}), sym, nil
	}
	candidate := mat.NewSymDense(n, nil)
	candidate.CopySym(sym)
	for _, shrink := range []float64{0, 1e-9, 1e-6, 1e-4, 1e-3, 1e-2, 0.05, 0.1, 0.25, 0.5, 1} {
		if shrink > 0 {
			for i := 0; i < n; i++ {
				for j := 0; j <= i; j++ {
					v := (1 - shrink) * sym.At(i, j)
					if i == j {
						v = sym.At(i, i) + shrink*math.Max(sym.At(i, i), 1)
					}
					candidate.SetSym(i, j, v)
				}
			}
		}
		var chol mat.Cholesky
		if chol.Factorize(candidate) {
			var l mat.TriDense
			chol.LTo(&l)
			return &l, candidate, nil
		}
	}
	return nil, nil, fmt.Errorf("covariance matrix is not positive definite")
}

// Sample draws n rows. Conditioned columns are fixed to the given values and
// the remaining columns are drawn from the conditional Gaussian.
func (g *GaussianMultivariate) Sample(n int, conditions map[string]float64) (*frame.Frame, error) {
	if !g.fitted {
		return nil, fmt.Errorf("model has not been fitted")
	}
	if n < 0 {
		return nil, fmt.Errorf("number of rows must be non-negative, got %d", n)
	}
	index := make(map[string]int, len(g.columns))
	for i, c := range g.columns {
		index[c] = i
	}
	var cond, free []int
	var condZ []float64
	for i, c := range g.columns {
		if v, ok := conditions[c]; ok {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("condition on column %s is not finite: %v", c, v)
			}
			cond = append(cond, i)
			condZ = append(condZ, distuv.UnitNormal.Quantile(clipProbability(g.univariates[i].CDF(v))))
		} else {
			free = append(free, i)
		}
	}
	for c := range conditions {
		if _, ok := index[c]; !ok {
			return nil, fmt.Errorf("condition column %s is not a fitted column", c)
		}
	}

	mean := make([]float64, len(free))
	chol := g.cholesky
	if len(cond) > 0 && len(free) > 0 {
		var err error
		mean, chol, err = g.conditional(free, cond, condZ)
		if err != nil {
			return nil, err
		}
	} else if len(cond) > 0 {
		chol = nil
	}

	out := make([][]float64, len(g.columns))
	for i := range out {
		out[i] = make([]float64, n)
	}
	eps := make([]float64, len(free))
	for row := 0; row < n; row++ {
		for k := range eps {
			eps[k] = g.rng.NormFloat64()
		}
		for k, col := range free {
			z := mean[k]
			for j := 0; j <= k; j++ {
				z += chol.At(k, j) * eps[j]
			}
			out[col][row] = g.univariates[col].Quantile(clipProbability(distuv.UnitNormal.CDF(z)))
		}
		for _, col := range cond {
			out[col][row] = conditions[g.columns[col]]
		}
	}

	result := frame.New()
	for i, c := range g.columns {
		if err := result.SetFloat64s(c, out[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// conditional returns the mean and the Cholesky factor of the free columns'
// normal scores given the conditioned scores.
func (g *GaussianMultivariate) conditional(free, cond []int, condZ []float64) ([]float64, *mat.TriDense, error) {
	scc := mat.NewSymDense(len(cond), nil)
	for i, a := range cond {
		for j := 0; j <= i; j++ {
			scc.SetSym(i, j, g.correlation.At(a, cond[j]))
		}
	}
	scf := mat.NewDense(len(cond), len(free), nil)
	for i, a := range cond {
		for j, b := range free {
			scf.Set(i, j, g.correlation.At(a, b))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(scc) {
		return nil, nil, fmt.Errorf("conditioned covariance is singular")
	}
	// weights = Scc^-1 Scf
	var weights mat.Dense
	if err := chol.SolveTo(&weights, scf); err != nil {
		return nil, nil, fmt.Errorf("solving conditional covariance: %w", err)
	}

	mean := make([]float64, len(free))
	for k := range free {
		for j := range cond {
			mean[k] += weights.At(j, k) * condZ[j]
		}
	}
	sigma := mat.NewSymDense(len(free), nil)
	for i, a := range free {
		for j := 0; j <= i; j++ {
			v := g.correlation.At(a, free[j])
			for c := range cond {
				v -= scf.At(c, i) * weights.At(c, j)
			}
			sigma.SetSym(i, j, v)
		}
	}
	l, _, err := choleskyRepaired(sigma)
	if err != nil {
		return nil, nil, err
	}
	return mean, l, nil
}

// Univariate returns the fitted marginal of a column.
func (g *GaussianMultivariate) Univariate(column string) (Univariate, bool) {
	for i, c := range g.columns {
		if c == column {
			return g.univariates[i], true
		}
	}
	return nil, false
}

// Correlation returns a copy of the fitted correlation matrix.
func (g *GaussianMultivariate) Correlation() [][]float64 {
	if g.correlation == nil {
		return nil
	}
	n := g.correlation.SymmetricDim()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = g.correlation.At(i, j)
		}
	}
	return out
}

// ToDict exports the fitted parameters: columns, per-column univariates with
// their type, and the correlation matrix.
func (g *GaussianMultivariate) ToDict() map[string]interface{} {
	univariates := make([]map[string]interface{}, len(g.univariates))
	for i, u := range g.univariates {
		params := u.Parameters()
		params["type"] = string(u.Family())
		univariates[i] = params
	}
	return map[string]interface{}{
		"columns":     g.Columns(),
		"univariates": univariates,
		"correlation": g.Correlation(),
	}
}
