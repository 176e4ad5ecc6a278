// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reedsolomon

import "github.com/GoogleCloudPlatform/biokey/client/internal/gf256"

// Two coefficient orders are used in this package. Generator and codeword polynomials are stored
// highest degree first, as they are transmitted. Syndrome, locator and evaluator polynomials are
// stored lowest degree first, as Berlekamp-Massey builds them.

// polyMul multiplies two polynomials. The product of two coefficient convolutions does not depend on
// the storage order as long as both operands use the same one.
func polyMul(p, q []gf256.Element) []gf256.Element {
	r := make([]gf256.Element, len(p)+len(q)-1)
	for j, qj := range q {
		if qj == 0 {
			continue
		}
		for i, pi := range p {
			r[i+j] ^= pi.Multiply(qj)
		}
	}
	return r
}

// polyEval evaluates a lowest-degree-first polynomial at x using Horner's method.
func polyEval(p []gf256.Element, x gf256.Element) gf256.Element {
	var y gf256.Element
	for i := len(p) - 1; i >= 0; i-- {
		y = y.Multiply(x).Add(p[i])
	}
	return y
}

// addScaledShifted returns p + coef * x^shift * q for lowest-degree-first polynomials.
func addScaledShifted(p, q []gf256.Element, coef gf256.Element, shift int) []gf256.Element {
	n := len(p)
	if len(q)+shift > n {
		n = len(q) + shift
	}
	r := make([]gf256.Element, n)
	copy(r, p)
	for i, qi := range q {
		r[i+shift] ^= qi.Multiply(coef)
	}
	return r
}

// formalDerivative of a lowest-degree-first polynomial. Even powers vanish in characteristic 2.
func formalDerivative(p []gf256.Element) []gf256.Element {
	if len(p) <= 1 {
		return []gf256.Element{0}
	}
	d := make([]gf256.Element, len(p)-1)
	for i := 1; i < len(p); i += 2 {
		d[i-1] = p[i]
	}
	return d
}
