// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package trino

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/extensions"
)

// typeFromTrino maps the type text reported by information_schema (and by
// sql.ColumnType.DatabaseTypeName) to an Arrow type. Types the engine may
// add in the future degrade to utf8 rather than failing the whole schema.
func typeFromTrino(trinoType string) arrow.DataType {
	name, args, suffix := splitTypeText(trinoType)

	switch name {
	case "boolean":
		return arrow.FixedWidthTypes.Boolean
	case "tinyint":
		return arrow.PrimitiveTypes.Int8
	case "smallint":
		return arrow.PrimitiveTypes.Int16
	case "integer", "int":
		return arrow.PrimitiveTypes.Int32
	case "bigint":
		return arrow.PrimitiveTypes.Int64
	case "real":
		return arrow.PrimitiveTypes.Float32
	case "double":
		return arrow.PrimitiveTypes.Float64
	case "decimal":
		return decimalTypeFromArgs(args)
	case "varchar", "char":
		// Length bounds are tracked separately as column metadata.
		return arrow.BinaryTypes.String
	case "varbinary":
		return arrow.BinaryTypes.Binary
	case "json":
		return jsonType()
	case "uuid":
		return extensions.NewUUIDType()
	case "date":
		return arrow.FixedWidthTypes.Date32
	case "time":
		// Arrow time types carry no zone, so "with time zone" collapses
		// to the plain form at the declared precision.
		switch timeUnitForPrecision(args) {
		case arrow.Millisecond:
			return arrow.FixedWidthTypes.Time32ms
		case arrow.Nanosecond:
			return arrow.FixedWidthTypes.Time64ns
		default:
			return arrow.FixedWidthTypes.Time64us
		}
	case "timestamp":
		tz := ""
		if suffix == "with time zone" {
			tz = "UTC"
		}
		return &arrow.TimestampType{Unit: timeUnitForPrecision(args), TimeZone: tz}
	case "interval":
		if strings.HasPrefix(suffix, "year") {
			return arrow.FixedWidthTypes.MonthInterval
		}
		return arrow.FixedWidthTypes.DayTimeInterval
	case "array":
		if len(args) == 1 {
			return arrow.ListOf(typeFromTrino(args[0]))
		}
	case "map":
		if len(args) == 2 {
			return arrow.MapOf(typeFromTrino(args[0]), typeFromTrino(args[1]))
		}
	case "row":
		fields := make([]arrow.Field, 0, len(args))
		for i, arg := range args {
			fields = append(fields, rowFieldFromTrino(i, arg))
		}
		return arrow.StructOf(fields...)
	case "ipaddress":
		return arrow.BinaryTypes.String
	}

	return arrow.BinaryTypes.String
}

func jsonType() arrow.DataType {
	t, err := extensions.NewJSONType(arrow.BinaryTypes.String)
	if err != nil {
		return arrow.BinaryTypes.String
	}
	return t
}

func decimalTypeFromArgs(args []string) arrow.DataType {
	// Engine default when deciphering bare "decimal".
	precision, scale := int32(38), int32(0)
	if len(args) > 0 {
		if p, err := strconv.ParseInt(args[0], 10, 32); err == nil {
			precision = int32(p)
		}
	}
	if len(args) > 1 {
		if s, err := strconv.ParseInt(args[1], 10, 32); err == nil {
			scale = int32(s)
		}
	}
	if precision > 38 {
		return &arrow.Decimal256Type{Precision: precision, Scale: scale}
	}
	return &arrow.Decimal128Type{Precision: precision, Scale: scale}
}

func timeUnitForPrecision(args []string) arrow.TimeUnit {
	precision := int64(3)
	if len(args) > 0 {
		if p, err := strconv.ParseInt(args[0], 10, 32); err == nil {
			precision = p
		}
	}
	switch {
	case precision <= 3:
		return arrow.Millisecond
	case precision <= 6:
		return arrow.Microsecond
	default:
		return arrow.Nanosecond
	}
}

// rowFieldFromTrino parses a single "name type" member of a row(...) type.
// Anonymous members get positional names the way the engine reports them.
func rowFieldFromTrino(pos int, text string) arrow.Field {
	text = strings.TrimSpace(text)
	name := "field" + strconv.Itoa(pos)

	if strings.HasPrefix(text, `"`) {
		if end := strings.Index(text[1:], `"`); end >= 0 {
			name = text[1 : 1+end]
			text = strings.TrimSpace(text[end+2:])
		}
	} else if idx := strings.IndexByte(text, ' '); idx > 0 {
		head := text[:idx]
		if !isTypeName(head) {
			name = head
			text = strings.TrimSpace(text[idx+1:])
		}
	}

	return arrow.Field{Name: name, Type: typeFromTrino(text), Nullable: true}
}

// isTypeName reports whether the token starts a type rather than naming a
// row member, e.g. "row(varchar, bigint)" has anonymous members.
func isTypeName(tok string) bool {
	switch strings.ToLower(tok) {
	case "boolean", "tinyint", "smallint", "integer", "int", "bigint",
		"real", "double", "decimal", "varchar", "char", "varbinary",
		"json", "uuid", "date", "time", "timestamp", "interval",
		"array", "map", "row", "ipaddress":
		return true
	}
	return strings.ContainsAny(tok, "(")
}

// foldUnquoted lowercases type text while preserving the case of
// double-quoted row member names.
func foldUnquoted(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inQuote := false
	for _, r := range text {
		if r == '"' {
			inQuote = !inQuote
		}
		if inQuote {
			b.WriteRune(r)
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// splitTypeText decomposes Trino type text into its base name, parenthesized
// arguments and any trailing qualifier ("with time zone", "year to month").
// Arguments are split at the top nesting level only.
func splitTypeText(text string) (name string, args []string, suffix string) {
	text = foldUnquoted(strings.TrimSpace(text))

	open := strings.IndexByte(text, '(')
	if open < 0 {
		if idx := strings.IndexByte(text, ' '); idx > 0 {
			return text[:idx], nil, strings.TrimSpace(text[idx+1:])
		}
		return text, nil, ""
	}

	name = strings.TrimSpace(text[:open])
	depth := 0
	inQuote := false
	argStart := open + 1
	for i := open; i < len(text); i++ {
		switch text[i] {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if inQuote {
				continue
			}
			depth--
			if depth == 0 {
				if arg := strings.TrimSpace(text[argStart:i]); arg != "" {
					args = append(args, arg)
				}
				suffix = strings.TrimSpace(text[i+1:])
				return name, args, suffix
			}
		case ',':
			if !inQuote && depth == 1 {
				args = append(args, strings.TrimSpace(text[argStart:i]))
				argStart = i + 1
			}
		}
	}
	return name, args, ""
}
