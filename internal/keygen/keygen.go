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

// Package keygen generates unique key values for id columns.
package keygen

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
)

// DefaultStringRegex is used for string ids that declare no regex.
const DefaultStringRegex = "[a-zA-Z]{5}"

// Generator produces successive unique values. Reset restarts it.
type Generator interface {
	Next(n int) ([]interface{}, error)
	Reset()
}

// Sequence yields int64 values start, start+1, ...
type Sequence struct {
	start, next int64
}

// NewSequence returns a sequence starting at start.
func NewSequence(start int64) *Sequence {
	return &Sequence{start: start, next: start}
}

func (s *Sequence) Next(n int) ([]interface{}, error) {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = s.next
		s.next++
	}
	return out, nil
}

func (s *Sequence) Reset() { s.next = s.start }

// RegexStrings enumerates the strings matching a regex in a fixed order.
type RegexStrings struct {
	pattern string
	root    node
	next    uint64
}

// NewRegexStrings compiles pattern.
func NewRegexStrings(pattern string) (*RegexStrings, error) {
	root, err := compileRegex(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexStrings{pattern: pattern, root: root}, nil
}

// Size returns how many distinct strings the regex can produce, saturating
// at the largest uint64.
func (r *RegexStrings) Size() uint64 { return r.root.size() }

func (r *RegexStrings) Next(n int) ([]interface{}, error) {
	size := r.root.size()
	if uint64(n) > size-r.next {
		return nil, fmt.Errorf("regex %q can only generate %d unique values, %d already used, %d requested",
			r.pattern, size, r.next, n)
	}
	out := make([]interface{}, n)
	for i := range out {
		var sb strings.Builder
		r.root.write(&sb, r.next)
		out[i] = sb.String()
		r.next++
	}
	return out, nil
}

func (r *RegexStrings) Reset() { r.next = 0 }

// UUIDs yields random v4 UUID strings from a seeded source, so a reset
// replays the same values.
type UUIDs struct {
	seed uint64
	rng  *rand.Rand
}

// NewUUIDs returns a seeded UUID generator.
func NewUUIDs(seed uint64) *UUIDs {
	u := &UUIDs{seed: seed}
	u.Reset()
	return u
}

type randReader struct {
	rng *rand.Rand
}

func (r randReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.rng.Uint32())
	}
	return len(p), nil
}

func (u *UUIDs) Next(n int) ([]interface{}, error) {
	out := make([]interface{}, n)
	reader := randReader{rng: u.rng}
	for i := range out {
		id, err := uuid.NewRandomFromReader(reader)
		if err != nil {
			return nil, fmt.Errorf("generating uuid: %w", err)
		}
		out[i] = id.String()
	}
	return out, nil
}

func (u *UUIDs) Reset() {
	u.rng = rand.New(rand.NewPCG(u.seed, u.seed+1))
}

// NewGenerator picks a generator for an id column: uuid subtype, regex
// strings for string subtype or an explicit regex, otherwise integers.
func NewGenerator(col metadata.Column, seed uint64) (Generator, error) {
	switch {
	case col.Subtype == "uuid":
		return NewUUIDs(seed), nil
	case col.Regex != "":
		return NewRegexStrings(col.Regex)
	case col.Subtype == "string":
		return NewRegexStrings(DefaultStringRegex)
	default:
		return NewSequence(0), nil
	}
}

type columnKey struct {
	table, column string
}

// Context owns one generator per (table, id column). Values continue across
// calls until the table is reset.
type Context struct {
	seed       uint64
	generators map[columnKey]Generator
}

// NewContext returns an empty context.
func NewContext(seed uint64) *Context {
	return &Context{seed: seed, generators: make(map[columnKey]Generator)}
}

// Register creates the generator for an id column. Registering an existing
// column is a no-op.
func (c *Context) Register(table string, col metadata.Column) error {
	key := columnKey{table, col.Name}
	if _, ok := c.generators[key]; ok {
		return nil
	}
	g, err := NewGenerator(col, c.seed^hashKey(table, col.Name))
	if err != nil {
		return fmt.Errorf("table %s column %s: %w", table, col.Name, err)
	}
	c.generators[key] = g
	return nil
}

// Generate returns the next n values for a registered column.
func (c *Context) Generate(table, column string, n int) ([]interface{}, error) {
	g, ok := c.generators[columnKey{table, column}]
	if !ok {
		return nil, fmt.Errorf("no key generator registered for %s.%s", table, column)
	}
	values, err := g.Next(n)
	if err != nil {
		return nil, fmt.Errorf("generating keys for %s.%s: %w", table, column, err)
	}
	return values, nil
}

// Reset restarts every generator of the given tables.
func (c *Context) Reset(tables ...string) {
	reset := make(map[string]bool, len(tables))
	for _, t := range tables {
		reset[t] = true
	}
	for key, g := range c.generators {
		if reset[key.table] {
			g.Reset()
		}
	}
}

func hashKey(table, column string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(table))
	h.Write([]byte{0})
	h.Write([]byte(column))
	return h.Sum64()
}
