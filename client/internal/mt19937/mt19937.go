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

// Package mt19937 implements the 32-bit Mersenne Twister together with the uniform and normal
// variates derived from it by the NumPy legacy RandomState generator.
//
// It exists so that random projections derived from a seed stay reproducible across
// implementations. It is not a cryptographically secure generator and must only be used to expand
// public seeds.
package mt19937

import "math"

const (
	n          = 624
	m          = 397
	matrixA    = 0x9908B0DF
	upperMask  = 0x80000000
	lowerMask  = 0x7FFFFFFF
	initFactor = 1812433253
)

// Source is a Mersenne Twister generator. It is not safe for concurrent use.
type Source struct {
	state [n]uint32
	index int

	hasGauss bool
	gauss    float64
}

// New returns a Source seeded with seed.
func New(seed uint32) *Source {
	s := &Source{}
	s.Seed(seed)
	return s
}

// Seed resets the generator to the state defined by seed, using the reference init_genrand
// initialization. Any cached normal variate is discarded.
func (s *Source) Seed(seed uint32) {
	s.state[0] = seed
	for i := 1; i < n; i++ {
		prev := s.state[i-1]
		s.state[i] = initFactor*(prev^(prev>>30)) + uint32(i)
	}
	s.index = n
	s.hasGauss = false
	s.gauss = 0
}

func (s *Source) generate() {
	for k := 0; k < n; k++ {
		y := (s.state[k] & upperMask) | (s.state[(k+1)%n] & lowerMask)
		v := s.state[(k+m)%n] ^ (y >> 1)
		if y&1 != 0 {
			v ^= matrixA
		}
		s.state[k] = v
	}
	s.index = 0
}

// Uint32 returns the next 32-bit output.
func (s *Source) Uint32() uint32 {
	if s.index >= n {
		s.generate()
	}
	y := s.state[s.index]
	s.index++

	y ^= y >> 11
	y ^= (y << 7) & 0x9D2C5680
	y ^= (y << 15) & 0xEFC60000
	y ^= y >> 18
	return y
}

// Float64 returns a uniform value in [0, 1) with 53 bits of precision built from two outputs.
func (s *Source) Float64() float64 {
	a := s.Uint32() >> 5
	b := s.Uint32() >> 6
	return (float64(a)*67108864.0 + float64(b)) / 9007199254740992.0
}

// NormFloat64 returns a standard normal variate using the polar method. Each accepted pair yields
// two variates; the second one is cached for the next call.
func (s *Source) NormFloat64() float64 {
	if s.hasGauss {
		s.hasGauss = false
		g := s.gauss
		s.gauss = 0
		return g
	}

	var x1, x2, r2 float64
	for {
		x1 = 2*s.Float64() - 1
		x2 = 2*s.Float64() - 1
		r2 = x1*x1 + x2*x2
		if r2 < 1 && r2 != 0 {
			break
		}
	}
	f := math.Sqrt(-2 * math.Log(r2) / r2)
	s.gauss = f * x1
	s.hasGauss = true
	return f * x2
}
