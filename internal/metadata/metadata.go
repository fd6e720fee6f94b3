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

// Package metadata describes tables, their column sdtypes and the
// parent/child relationships between them.
package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// SDType is the semantic data type of a column.
type SDType string

const (
	Numerical   SDType = "numerical"
	Categorical SDType = "categorical"
	Boolean     SDType = "boolean"
	Datetime    SDType = "datetime"
	ID          SDType = "id"

	// keyAlias is accepted on input and normalized to ID.
	keyAlias SDType = "key"
)

// Column describes one column of a table.
type Column struct {
	Name           string `json:"name" yaml:"name"`
	SDType         SDType `json:"sdtype" yaml:"sdtype"`
	Subtype        string `json:"subtype,omitempty" yaml:"subtype,omitempty"`
	Regex          string `json:"regex,omitempty" yaml:"regex,omitempty"`
	DatetimeFormat string `json:"datetime_format,omitempty" yaml:"datetime_format,omitempty"`
}

// Table describes a single table.
type Table struct {
	Name       string   `json:"name" yaml:"name"`
	PrimaryKey string   `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Columns    []Column `json:"columns" yaml:"columns"`
}

// Relationship links a child foreign key to a parent primary key.
type Relationship struct {
	ParentTable      string `json:"parent_table_name" yaml:"parent_table_name"`
	ParentPrimaryKey string `json:"parent_primary_key" yaml:"parent_primary_key"`
	ChildTable       string `json:"child_table_name" yaml:"child_table_name"`
	ChildForeignKey  string `json:"child_foreign_key" yaml:"child_foreign_key"`
}

// Metadata is a collection of tables and relationships.
type Metadata struct {
	Tables        []*Table       `json:"tables" yaml:"tables"`
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{Name: t.Name, PrimaryKey: t.PrimaryKey}
	out.Columns = append([]Column(nil), t.Columns...)
	return out
}

// Validate checks column names and sdtypes of a single table.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	seen := make(map[string]bool, len(t.Columns))
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Name == "" {
			return fmt.Errorf("table %s: column %d has no name", t.Name, i)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, c.Name)
		}
		seen[c.Name] = true
		if c.SDType == keyAlias {
			c.SDType = ID
		}
		switch c.SDType {
		case Numerical, Categorical, Boolean, Datetime, ID:
		default:
			return fmt.Errorf("table %s: column %s has unsupported sdtype %q", t.Name, c.Name, c.SDType)
		}
	}
	if t.PrimaryKey != "" {
		pk, ok := t.Column(t.PrimaryKey)
		if !ok {
			return fmt.Errorf("table %s: primary key %s is not a column", t.Name, t.PrimaryKey)
		}
		if pk.SDType != ID {
			return fmt.Errorf("table %s: primary key %s must have sdtype id, got %s", t.Name, t.PrimaryKey, pk.SDType)
		}
	}
	return nil
}

// Table returns the named table.
func (m *Metadata) Table(name string) (*Table, bool) {
	for _, t := range m.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// TableNames returns table names in declaration order.
func (m *Metadata) TableNames() []string {
	names := make([]string, len(m.Tables))
	for i, t := range m.Tables {
		names[i] = t.Name
	}
	return names
}

// Children returns the relationships in which name is the parent.
func (m *Metadata) Children(name string) []Relationship {
	var out []Relationship
	for _, r := range m.Relationships {
		if r.ParentTable == name {
			out = append(out, r)
		}
	}
	return out
}

// Parents returns the relationships in which name is the child.
func (m *Metadata) Parents(name string) []Relationship {
	var out []Relationship
	for _, r := range m.Relationships {
		if r.ChildTable == name {
			out = append(out, r)
		}
	}
	return out
}

// RootTables returns the tables without parents, in declaration order.
func (m *Metadata) RootTables() []string {
	var roots []string
	for _, t := range m.Tables {
		if len(m.Parents(t.Name)) == 0 {
			roots = append(roots, t.Name)
		}
	}
	return roots
}

// Descendants returns every table reachable from name through child
// relationships, name excluded, in breadth-first order.
func (m *Metadata) Descendants(name string) []string {
	seen := map[string]bool{name: true}
	queue := []string{name}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, r := range m.Children(current) {
			if seen[r.ChildTable] {
				continue
			}
			seen[r.ChildTable] = true
			out = append(out, r.ChildTable)
			queue = append(queue, r.ChildTable)
		}
	}
	return out
}

// ForeignKeys returns the foreign key columns of a table.
func (m *Metadata) ForeignKeys(name string) []string {
	var out []string
	for _, r := range m.Parents(name) {
		out = append(out, r.ChildForeignKey)
	}
	return out
}

// Validate checks every table and relationship and rejects cycles.
func (m *Metadata) Validate() error {
	if len(m.Tables) == 0 {
		return fmt.Errorf("metadata has no tables")
	}
	seen := make(map[string]bool, len(m.Tables))
	for _, t := range m.Tables {
		if seen[t.Name] {
			return fmt.Errorf("duplicate table %s", t.Name)
		}
		seen[t.Name] = true
		if err := t.Validate(); err != nil {
			return err
		}
	}
	for _, r := range m.Relationships {
		parent, ok := m.Table(r.ParentTable)
		if !ok {
			return fmt.Errorf("relationship references unknown parent table %s", r.ParentTable)
		}
		child, ok := m.Table(r.ChildTable)
		if !ok {
			return fmt.Errorf("relationship references unknown child table %s", r.ChildTable)
		}
		if r.ParentPrimaryKey == "" || r.ParentPrimaryKey != parent.PrimaryKey {
			return fmt.Errorf("relationship %s -> %s: parent key %q is not the primary key of %s",
				r.ParentTable, r.ChildTable, r.ParentPrimaryKey, r.ParentTable)
		}
		fk, ok := child.Column(r.ChildForeignKey)
		if !ok {
			return fmt.Errorf("relationship %s -> %s: foreign key %s is not a column of %s",
				r.ParentTable, r.ChildTable, r.ChildForeignKey, r.ChildTable)
		}
		if fk.SDType != ID {
			return fmt.Errorf("relationship %s -> %s: foreign key %s must have sdtype id, got %s",
				r.ParentTable, r.ChildTable, r.ChildForeignKey, fk.SDType)
		}
	}
	if cycle := m.findCycle(); cycle != nil {
		return fmt.Errorf("relationships contain a cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

func (m *Metadata) findCycle() []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		state[name] = inProgress
		stack = append(stack, name)
		for _, r := range m.Children(name) {
			switch state[r.ChildTable] {
			case inProgress:
				for i, n := range stack {
					if n == r.ChildTable {
						cycle = append(append([]string{}, stack[i:]...), r.ChildTable)
						return true
					}
				}
			case unvisited:
				if visit(r.ChildTable) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	names := m.TableNames()
	sort.Strings(names)
	for _, name := range names {
		if state[name] == unvisited && visit(name) {
			return cycle
		}
	}
	return nil
}

// InsertionOrder returns table names with parents before children.
func (m *Metadata) InsertionOrder() ([]string, error) {
	if cycle := m.findCycle(); cycle != nil {
		return nil, fmt.Errorf("relationships contain a cycle: %s", strings.Join(cycle, " -> "))
	}
	visited := make(map[string]bool)
	var order []string
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, r := range m.Parents(name) {
			visit(r.ParentTable)
		}
		order = append(order, name)
	}
	for _, name := range m.TableNames() {
		visit(name)
	}
	return order, nil
}
