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

// Package copula implements univariate marginal families and a Gaussian
// copula over them.
package copula

import (
	"fmt"
	"sort"
	"strings"
)

// Family names a univariate distribution family.
type Family string

const (
	Norm        Family = "norm"
	Beta        Family = "beta"
	TruncNorm   Family = "truncnorm"
	Uniform     Family = "uniform"
	Gamma       Family = "gamma"
	GaussianKDE Family = "gaussian_kde"
)

// constructors is the closed set of supported families.
var constructors = map[Family]func() Univariate{
	Norm:        func() Univariate { return &normUnivariate{} },
	Beta:        func() Univariate { return &betaUnivariate{} },
	TruncNorm:   func() Univariate { return &truncNormUnivariate{} },
	Uniform:     func() Univariate { return &uniformUnivariate{} },
	Gamma:       func() Univariate { return &gammaUnivariate{} },
	GaussianKDE: func() Univariate { return &kdeUnivariate{} },
}

// ParseFamily returns the family with the given name.
func ParseFamily(name string) (Family, error) {
	f := Family(name)
	if _, ok := constructors[f]; !ok {
		return "", fmt.Errorf("invalid distribution %q, must be one of: %s", name, strings.Join(Families(), ", "))
	}
	return f, nil
}

// Families returns the supported family names, sorted.
func Families() []string {
	names := make([]string, 0, len(constructors))
	for f := range constructors {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return names
}

// NewUnivariate returns an unfitted univariate of the given family.
func NewUnivariate(f Family) (Univariate, error) {
	ctor, ok := constructors[f]
	if !ok {
		return nil, fmt.Errorf("invalid distribution %q", f)
	}
	return ctor(), nil
}
