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
package introspect

import (
	"strings"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/database"
	"github.com/GoogleCloudPlatform/db-synthesizer/internal/metadata"
)

// detectedForeignKey is a foreign key together with the table declaring it.
type detectedForeignKey struct {
	Table string
	database.ForeignKeyInfo
}

var (
	integerTypes = map[string]bool{
		"smallint": true, "integer": true, "int": true, "bigint": true, "tinyint": true,
		"mediumint": true, "int2": true, "int4": true, "int8": true,
		"serial": true, "smallserial": true, "bigserial": true,
	}
	floatTypes = map[string]bool{
		"numeric": true, "decimal": true, "real": true, "double": true, "double precision": true,
		"float": true, "float4": true, "float8": true, "money": true, "smallmoney": true,
	}
	booleanTypes = map[string]bool{"boolean": true, "bool": true, "bit": true}
	datetimeTypes = map[string]bool{
		"date": true, "datetime": true, "datetime2": true, "smalldatetime": true,
		"datetimeoffset": true, "timestamp": true,
		"timestamp without time zone": true, "timestamp with time zone": true, "timestamptz": true,
	}
	textTypes = map[string]bool{
		"text": true, "char": true, "character": true, "varchar": true, "character varying": true,
		"nchar": true, "nvarchar": true, "ntext": true, "tinytext": true, "mediumtext": true,
		"longtext": true, "citext": true, "enum": true,
	}
)

// baseType lowercases a SQL type and strips length/precision and modifiers,
// e.g. "VARCHAR(255)" -> "varchar", "int(11) unsigned" -> "int".
func baseType(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.Index(t, "("); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return strings.TrimSuffix(t, " unsigned")
}

func isTextType(dataType string) bool {
	return textTypes[baseType(dataType)]
}

// ColumnFromSQLType derives the column sdtype from its SQL data type. Key
// columns are always ids.
func ColumnFromSQLType(name, dataType string, key bool) metadata.Column {
	raw := strings.ToLower(strings.TrimSpace(dataType))
	t := baseType(dataType)

	if key || t == "uuid" || t == "uniqueidentifier" {
		switch {
		case t == "uuid" || t == "uniqueidentifier":
			return metadata.Column{Name: name, SDType: metadata.ID, Subtype: "uuid"}
		case integerTypes[t]:
			return metadata.Column{Name: name, SDType: metadata.ID, Subtype: "integer"}
		default:
			return metadata.Column{Name: name, SDType: metadata.ID, Subtype: "string"}
		}
	}

	switch {
	case raw == "tinyint(1)" || booleanTypes[t]:
		return metadata.Column{Name: name, SDType: metadata.Boolean}
	case integerTypes[t]:
		return metadata.Column{Name: name, SDType: metadata.Numerical, Subtype: "integer"}
	case floatTypes[t]:
		return metadata.Column{Name: name, SDType: metadata.Numerical, Subtype: "float"}
	case datetimeTypes[t]:
		return metadata.Column{Name: name, SDType: metadata.Datetime}
	}
	return metadata.Column{Name: name, SDType: metadata.Categorical}
}
