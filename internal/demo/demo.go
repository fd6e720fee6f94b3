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

// Package demo ships a small users/sessions/transactions dataset.
package demo

import (
	"embed"
	"fmt"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
)

//go:embed data/*
var files embed.FS

// LoadDemo returns the demo metadata and its tables, typed per the metadata.
func LoadDemo() (*metadata.Metadata, map[string]*frame.Frame, error) {
	raw, err := files.ReadFile("data/metadata.json")
	if err != nil {
		return nil, nil, fmt.Errorf("reading demo metadata: %w", err)
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	tables := make(map[string]*frame.Frame, len(md.Tables))
	for _, table := range md.Tables {
		file, err := files.Open("data/" + table.Name + ".csv")
		if err != nil {
			return nil, nil, fmt.Errorf("opening demo table %s: %w", table.Name, err)
		}
		data, err := frame.ReadCSV(file)
		file.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("reading demo table %s: %w", table.Name, err)
		}
		typed, err := table.Coerce(data)
		if err != nil {
			return nil, nil, err
		}
		tables[table.Name] = typed
	}
	return md, tables, nil
}
