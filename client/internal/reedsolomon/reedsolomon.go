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

// Package reedsolomon implements a systematic Reed-Solomon code over GF(2^8) with bounded-distance
// error correction.
//
// The code has a block length of 255 bytes, of which nsym are parity bytes. The generator polynomial
// has the consecutive roots alpha^0 ... alpha^(nsym-1), so the codewords match those produced by the
// widely used byte-oriented Reed-Solomon libraries with default parameters.
//
// Decoding corrects up to floor(nsym/2) byte errors. Beyond that radius the decoder either reports
// ErrDecodeFailed or, with small probability, converges to a different valid codeword. Callers must
// authenticate the decoded message by other means.
package reedsolomon

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/GoogleCloudPlatform/biokey/client/internal/gf256"
)

// BlockLength is the length in bytes of every codeword.
const BlockLength = 255

var (
	// ErrInvalidInput is returned when a message or codeword has the wrong length.
	ErrInvalidInput = errors.New("reedsolomon: invalid input")
	// ErrDecodeFailed is returned when the decoder detects an uncorrectable error pattern.
	ErrDecodeFailed = errors.New("reedsolomon: too many errors to correct")
)

// Code is an RS(255, 255-nsym) code. It is immutable and safe for concurrent use.
type Code struct {
	nsym int
	// generator polynomial, highest degree first, monic.
	generator []gf256.Element
}

// Decoded is the result of a successful decode.
type Decoded struct {
	// Message holds the first BlockLength-nsym bytes of the corrected codeword.
	Message []byte
	// Codeword is the corrected codeword.
	Codeword []byte
	// Corrected is the number of byte positions that were changed.
	Corrected int
}

// New creates a code with nsym parity symbols.
func New(nsym int) (*Code, error) {
	if nsym < 1 || nsym >= BlockLength {
		return nil, fmt.Errorf("%w: parity symbol count %d outside [1, %d]", ErrInvalidInput, nsym, BlockLength-1)
	}
	return &Code{
		nsym:      nsym,
		generator: generatorPoly(nsym),
	}, nil
}

// ParitySymbols returns nsym.
func (c *Code) ParitySymbols() int { return c.nsym }

// MessageLength returns k, the number of message bytes per codeword.
func (c *Code) MessageLength() int { return BlockLength - c.nsym }

// CorrectionCapacity returns t, the number of byte errors the code is guaranteed to correct.
func (c *Code) CorrectionCapacity() int { return c.nsym / 2 }

// Encode returns msg followed by its nsym parity bytes. msg must be exactly MessageLength bytes.
func (c *Code) Encode(msg []byte) ([]byte, error) {
	if len(msg) != c.MessageLength() {
		return nil, fmt.Errorf("%w: message has length %d, expected %d", ErrInvalidInput, len(msg), c.MessageLength())
	}
	return c.encode(msg), nil
}

// Decode corrects up to CorrectionCapacity byte errors in received, which must be exactly BlockLength
// bytes. received is not modified.
func (c *Code) Decode(received []byte) (Decoded, error) {
	if len(received) != BlockLength {
		return Decoded{}, fmt.Errorf("%w: codeword has length %d, expected %d", ErrInvalidInput, len(received), BlockLength)
	}
	return c.decode(received)
}

func generatorPoly(nsym int) []gf256.Element {
	g := []gf256.Element{1}
	for i := 0; i < nsym; i++ {
		g = polyMul(g, []gf256.Element{1, gf256.Exp(i)})
	}
	return g
}

// encode works on shortened codes too: any message with len(msg)+nsym <= BlockLength.
func (c *Code) encode(msg []byte) []byte {
	out := make([]byte, len(msg)+c.nsym)
	copy(out, msg)

	// Synthetic division of msg * x^nsym by the monic generator; the remainder is left in the tail.
	for i := range msg {
		coef := gf256.Element(out[i])
		if coef == 0 {
			continue
		}
		for j := 1; j < len(c.generator); j++ {
			out[i+j] ^= byte(c.generator[j].Multiply(coef))
		}
	}

	copy(out, msg)
	return out
}

func (c *Code) decode(received []byte) (Decoded, error) {
	if len(received) <= c.nsym || len(received) > BlockLength {
		return Decoded{}, fmt.Errorf("%w: codeword has length %d", ErrInvalidInput, len(received))
	}
	cw := bytes.Clone(received)

	synd := c.syndromes(cw)
	if isZero(synd) {
		return Decoded{Message: cw[:len(cw)-c.nsym], Codeword: cw}, nil
	}

	locator := c.errorLocator(synd)
	numErrors := len(locator) - 1
	if 2*numErrors > c.nsym {
		return Decoded{}, fmt.Errorf("%w: error locator has degree %d, capacity is %d", ErrDecodeFailed, numErrors, c.CorrectionCapacity())
	}

	degrees := findErrorDegrees(locator, len(cw))
	if len(degrees) != numErrors {
		return Decoded{}, fmt.Errorf("%w: found %d error locations, expected %d", ErrDecodeFailed, len(degrees), numErrors)
	}

	if err := c.correct(cw, synd, locator, degrees); err != nil {
		return Decoded{}, err
	}

	if !isZero(c.syndromes(cw)) {
		return Decoded{}, fmt.Errorf("%w: corrected word is not a codeword", ErrDecodeFailed)
	}

	return Decoded{
		Message:   cw[:len(cw)-c.nsym],
		Codeword:  cw,
		Corrected: numErrors,
	}, nil
}

// syndromes evaluates the received polynomial (highest degree first) at alpha^0 ... alpha^(nsym-1).
func (c *Code) syndromes(cw []byte) []gf256.Element {
	synd := make([]gf256.Element, c.nsym)
	for j := range synd {
		x := gf256.Exp(j)
		var y gf256.Element
		for _, b := range cw {
			y = y.Multiply(x).Add(gf256.Element(b))
		}
		synd[j] = y
	}
	return synd
}

// errorLocator runs Berlekamp-Massey on the syndromes and returns the error locator polynomial
// Lambda(x) = prod(1 - X_k x), lowest degree first, with trailing zero coefficients removed.
func (c *Code) errorLocator(synd []gf256.Element) []gf256.Element {
	cur := []gf256.Element{1}
	prev := []gf256.Element{1}
	l := 0
	m := 1
	b := gf256.Element(1)

	for n := 0; n < len(synd); n++ {
		d := synd[n]
		for i := 1; i <= l && i < len(cur); i++ {
			d ^= cur[i].Multiply(synd[n-i])
		}
		if d == 0 {
			m++
			continue
		}

		// b is always a previous non-zero discrepancy.
		coef, _ := d.Divide(b)
		if 2*l <= n {
			saved := append([]gf256.Element(nil), cur...)
			cur = addScaledShifted(cur, prev, coef, m)
			l = n + 1 - l
			prev = saved
			b = d
			m = 1
		} else {
			cur = addScaledShifted(cur, prev, coef, m)
			m++
		}
	}

	for len(cur) > 1 && cur[len(cur)-1] == 0 {
		cur = cur[:len(cur)-1]
	}
	return cur
}

// findErrorDegrees runs a Chien search: degree d is in error when Lambda(alpha^-d) == 0.
func findErrorDegrees(locator []gf256.Element, n int) []int {
	var degrees []int
	for d := 0; d < n; d++ {
		if polyEval(locator, gf256.Exp(-d)) == 0 {
			degrees = append(degrees, d)
		}
	}
	return degrees
}

// correct applies the Forney algorithm in place.
func (c *Code) correct(cw []byte, synd, locator []gf256.Element, degrees []int) error {
	// Omega(x) = S(x) * Lambda(x) mod x^nsym
	evaluator := polyMul(synd, locator)
	if len(evaluator) > c.nsym {
		evaluator = evaluator[:c.nsym]
	}
	derivative := formalDerivative(locator)

	for _, d := range degrees {
		x := gf256.Exp(d)
		xInv := gf256.Exp(-d)

		den := polyEval(derivative, xInv)
		if den == 0 {
			return fmt.Errorf("%w: repeated error locator root", ErrDecodeFailed)
		}
		magnitude, err := x.Multiply(polyEval(evaluator, xInv)).Divide(den)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
		cw[len(cw)-1-d] ^= byte(magnitude)
	}
	return nil
}

func isZero(p []gf256.Element) bool {
	for _, e := range p {
		if e != 0 {
			return false
		}
	}
	return true
}
