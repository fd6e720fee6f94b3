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
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
)

// Parse decodes metadata from YAML or JSON (JSON is valid YAML) and validates it.
func Parse(data []byte) (*Metadata, error) {
	var md Metadata
	if err := yaml.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}
	if err := md.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return &md, nil
}

// Load reads a metadata file.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metadata file: %w", err)
	}
	return Parse(data)
}

// Save writes metadata as JSON, or YAML when the path ends in .yaml/.yml.
func (m *Metadata) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(m)
	default:
		data, err = json.MarshalIndent(m, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata file: %w", err)
	}
	return nil
}

// LoadCSVTables reads <dir>/<table>.csv for every table of m and coerces the
// values to the declared sdtypes.
func (m *Metadata) LoadCSVTables(dir string) (map[string]*frame.Frame, error) {
	tables := make(map[string]*frame.Frame, len(m.Tables))
	for _, table := range m.Tables {
		data, err := frame.ReadCSVFile(filepath.Join(dir, table.Name+".csv"))
		if err != nil {
			return nil, fmt.Errorf("loading table %s: %w", table.Name, err)
		}
		typed, err := table.Coerce(data)
		if err != nil {
			return nil, err
		}
		if err := table.ValidateData(typed); err != nil {
			return nil, err
		}
		tables[table.Name] = typed
	}
	return tables, nil
}
