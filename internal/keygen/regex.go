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
package keygen

import (
	"fmt"
	"math"
	"math/bits"
	"regexp/syntax"
	"strings"
)

// maxRepeat bounds unbounded repetitions such as * and +.
const maxRepeat = 16

// printable is used for "." and negated classes.
var printable = []rune(" !\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~")

// node enumerates the strings matched by one regex fragment. Sizes saturate
// at math.MaxUint64.
type node interface {
	size() uint64
	write(sb *strings.Builder, idx uint64)
}

func satAdd(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return s
}

func satMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

type literalNode string

func (l literalNode) size() uint64                          { return 1 }
func (l literalNode) write(sb *strings.Builder, _ uint64) { sb.WriteString(string(l)) }

type classNode []rune

func (c classNode) size() uint64 { return uint64(len(c)) }
func (c classNode) write(sb *strings.Builder, idx uint64) {
	sb.WriteRune(c[idx])
}

type concatNode []node

func (c concatNode) size() uint64 {
	total := uint64(1)
	for _, n := range c {
		total = satMul(total, n.size())
	}
	return total
}

// write decodes idx in mixed radix with the last element varying fastest.
func (c concatNode) write(sb *strings.Builder, idx uint64) {
	digits := make([]uint64, len(c))
	for i := len(c) - 1; i >= 0; i-- {
		s := c[i].size()
		digits[i] = idx % s
		idx /= s
	}
	for i, n := range c {
		n.write(sb, digits[i])
	}
}

type alternateNode []node

func (a alternateNode) size() uint64 {
	var total uint64
	for _, n := range a {
		total = satAdd(total, n.size())
	}
	return total
}

func (a alternateNode) write(sb *strings.Builder, idx uint64) {
	for _, n := range a {
		s := n.size()
		if idx < s {
			n.write(sb, idx)
			return
		}
		idx -= s
	}
}

// repeatNode matches sub between min and max times, shortest first.
type repeatNode struct {
	sub      node
	min, max int
}

func (r repeatNode) lengthSize(n int) uint64 {
	total := uint64(1)
	for i := 0; i < n; i++ {
		total = satMul(total, r.sub.size())
	}
	return total
}

func (r repeatNode) size() uint64 {
	var total uint64
	for n := r.min; n <= r.max; n++ {
		total = satAdd(total, r.lengthSize(n))
	}
	return total
}

func (r repeatNode) write(sb *strings.Builder, idx uint64) {
	for n := r.min; n <= r.max; n++ {
		s := r.lengthSize(n)
		if idx < s {
			parts := make(concatNode, n)
			for i := range parts {
				parts[i] = r.sub
			}
			parts.write(sb, idx)
			return
		}
		idx -= s
	}
}

func compileRegex(pattern string) (node, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return buildNode(re.Simplify())
}

func buildNode(re *syntax.Regexp) (node, error) {
	switch re.Op {
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText,
		syntax.OpEndText, syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return literalNode(""), nil
	case syntax.OpLiteral:
		return literalNode(string(re.Rune)), nil
	case syntax.OpCharClass:
		return charClass(re.Rune), nil
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		return classNode(printable), nil
	case syntax.OpCapture:
		return buildNode(re.Sub[0])
	case syntax.OpConcat, syntax.OpAlternate:
		subs := make([]node, len(re.Sub))
		for i, s := range re.Sub {
			n, err := buildNode(s)
			if err != nil {
				return nil, err
			}
			subs[i] = n
		}
		if re.Op == syntax.OpConcat {
			return concatNode(subs), nil
		}
		return alternateNode(subs), nil
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		sub, err := buildNode(re.Sub[0])
		if err != nil {
			return nil, err
		}
		r := repeatNode{sub: sub}
		switch re.Op {
		case syntax.OpStar:
			r.max = maxRepeat
		case syntax.OpPlus:
			r.min, r.max = 1, maxRepeat
		case syntax.OpQuest:
			r.max = 1
		default:
			r.min, r.max = re.Min, re.Max
			if r.max < 0 {
				r.max = r.min + maxRepeat
			}
		}
		return r, nil
	}
	return nil, fmt.Errorf("unsupported regex construct %s", re.Op)
}

// charClass expands rune ranges. Classes spanning more than the printable
// ASCII set are narrowed to it.
func charClass(ranges []rune) node {
	var out []rune
	for i := 0; i+1 < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		if hi-lo > 0xff {
			return classNode(intersectPrintable(ranges))
		}
		for r := lo; r <= hi; r++ {
			out = append(out, r)
		}
	}
	return classNode(out)
}

func intersectPrintable(ranges []rune) []rune {
	var out []rune
	for _, r := range printable {
		for i := 0; i+1 < len(ranges); i += 2 {
			if r >= ranges[i] && r <= ranges[i+1] {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
