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

package database

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/GoogleCloudPlatform/db-synthesizer/internal/frame"
)

// scanFrame drains rows into a frame with the given column names.
func scanFrame(rows *sql.Rows, columns []string) (*frame.Frame, error) {
	out := frame.New(columns...)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		for i, v := range values {
			values[i] = NormalizeValue(v)
		}
		if err := out.AppendRow(values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}

// NormalizeValue maps driver values onto the value types a frame holds.
func NormalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// FormatCommonLiteral renders the dialect-independent literals: NULL and
// numbers. ok is false for values the dialect must render itself.
func FormatCommonLiteral(v interface{}) (string, bool, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", true, nil
	case int64:
		return strconv.FormatInt(x, 10), true, nil
	case int:
		return strconv.Itoa(x), true, nil
	case float64:
		if math.IsNaN(x) {
			return "NULL", true, nil
		}
		if math.IsInf(x, 0) {
			return "", true, fmt.Errorf("cannot render infinite value as a SQL literal")
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true, nil
	case string, bool, time.Time:
		return "", false, nil
	}
	return "", true, fmt.Errorf("unsupported value type %T", v)
}

// QuoteString doubles single quotes and wraps s in them.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// BuildInsertStatements renders data as INSERT statements of at most
// batchSize rows each.
func BuildInsertStatements(handler DialectHandler, tableName string, data *frame.Frame, batchSize int) ([]string, error) {
	if data == nil || data.Len() == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}

	columns := data.Columns()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = handler.QuoteIdentifier(c)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", handler.QuoteIdentifier(tableName), strings.Join(quoted, ", "))

	var statements []string
	var tuples []string
	for i := 0; i < data.Len(); i++ {
		row := data.Row(i)
		literals := make([]string, len(row))
		for j, v := range row {
			lit, err := handler.FormatLiteral(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i, columns[j], err)
			}
			literals[j] = lit
		}
		tuples = append(tuples, "("+strings.Join(literals, ", ")+")")
		if len(tuples) == batchSize {
			statements = append(statements, prefix+strings.Join(tuples, ", ")+";")
			tuples = tuples[:0]
		}
	}
	if len(tuples) > 0 {
		statements = append(statements, prefix+strings.Join(tuples, ", ")+";")
	}
	return statements, nil
}
