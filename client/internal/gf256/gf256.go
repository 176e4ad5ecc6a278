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

// Package gf256 implements arithmetic in GF(2^8) as used by Reed-Solomon codes over bytes.
//
// The field is built from the primitive polynomial x^8 + x^4 + x^3 + x^2 + 1 (0x11D) with 2 as the
// generator of the multiplicative group. This is the convention of QR codes and of the common
// byte-oriented Reed-Solomon libraries, so codewords are interchangeable with theirs.
package gf256

import "fmt"

// Element is an element of GF(2^8).
type Element byte

// Generator is the primitive element alpha used to build the exp/log tables.
const Generator Element = 2

// Order is the order of the multiplicative group.
const Order = 255

// primitive polynomial (x^8 + x^4 + x^3 + x^2 + 1) = {0x01 0x1D}
// we deal with uint8 so we only need 0x1D
const primitivePolynomial = 0x1D

var (
	// expTable[i] = alpha^i, doubled so that a sum of two logs never needs reducing.
	expTable [2 * Order]Element
	logTable [256]int
)

func init() {
	x := Element(1)
	for i := 0; i < Order; i++ {
		expTable[i] = x
		expTable[i+Order] = x
		logTable[x] = i
		x = mulNoTable(x, Generator)
	}
}

// mulNoTable multiplies without lookup tables or data dependent branches. It is only used to build
// the tables and to cross-check them in tests.
func mulNoTable(a, b Element) Element {
	x := byte(a)
	y := byte(b)

	var product uint8
	for i := 7; i >= 0; i-- {
		// if MSB in current product is set, mod is primitivePolynomial, else 0
		mod := (-(product >> 7)) & primitivePolynomial

		// multiply coefficient x[i] with every coefficient in y
		xiTimesY := -((x >> i) & 1) & y

		product = xiTimesY ^ mod ^ (product << 1)
	}
	return Element(product)
}

// Add returns e + a. Addition and subtraction are both xor in characteristic 2.
func (e Element) Add(a Element) Element {
	return e ^ a
}

// Subtract returns e - a.
func (e Element) Subtract(a Element) Element {
	return e ^ a
}

// Multiply returns e * a.
func (e Element) Multiply(a Element) Element {
	if e == 0 || a == 0 {
		return 0
	}
	return expTable[logTable[e]+logTable[a]]
}

// Inverse returns the multiplicative inverse of e.
// If element has no inverse, an error is returned.
func (e Element) Inverse() (Element, error) {
	if e == 0 {
		return 0, fmt.Errorf("inverse of zero is not defined")
	}
	return expTable[Order-logTable[e]], nil
}

// Divide returns e / a.
func (e Element) Divide(a Element) (Element, error) {
	if a == 0 {
		return 0, fmt.Errorf("division by zero")
	}
	if e == 0 {
		return 0, nil
	}
	return expTable[logTable[e]+Order-logTable[a]], nil
}

// Pow returns e^n. n may be negative for non-zero e.
func (e Element) Pow(n int) Element {
	if n == 0 {
		return 1
	}
	if e == 0 {
		return 0
	}
	return Exp(logTable[e] * n)
}

// Log returns the discrete logarithm of e to the base Generator.
func (e Element) Log() (int, error) {
	if e == 0 {
		return 0, fmt.Errorf("logarithm of zero is not defined")
	}
	return logTable[e], nil
}

// Exp returns Generator^n for any integer n.
func Exp(n int) Element {
	n %= Order
	if n < 0 {
		n += Order
	}
	return expTable[n]
}
