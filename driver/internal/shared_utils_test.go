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

package internal_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/extensions"
	"github.com/stretchr/testify/require"
	"github.com/trinodb/trino-adbc/driver/internal"
)

func TestPatternToRegexp(t *testing.T) {
	re, err := internal.PatternToRegexp(nil)
	require.NoError(t, err)
	require.Nil(t, re)

	pattern := func(s string) *string { return &s }

	tests := []struct {
		pattern string
		input   string
		matches bool
	}{
		{"%", "anything", true},
		{"%", "", true},
		{"tpch", "tpch", true},
		{"tpch", "tpcds", false},
		{"tpc%", "tpcds", true},
		{"tpc_", "tpch", true},
		{"tpc_", "tpc", false},
		{"_ch", "tch", true},
		// Regexp metacharacters in the pattern match literally.
		{"a.b", "a.b", true},
		{"a.b", "axb", false},
		// The pattern is anchored at both ends.
		{"orders", "orders_history", false},
		{"orders", "old_orders", false},
	}

	for _, tt := range tests {
		re, err := internal.PatternToRegexp(pattern(tt.pattern))
		require.NoError(t, err)
		require.NotNil(t, re)
		require.Equal(t, tt.matches, re.MatchString(tt.input),
			"pattern %q against %q", tt.pattern, tt.input)
	}
}

func TestToXdbcDataType(t *testing.T) {
	// Covers the Arrow types the engine's type text maps onto, plus the
	// extension types, which resolve through their storage type.
	tests := []struct {
		name     string
		dataType arrow.DataType
		expected internal.XdbcDataType
	}{
		{"nil", nil, internal.XdbcDataType_XDBC_UNKNOWN_TYPE},
		{"tinyint", arrow.PrimitiveTypes.Int8, internal.XdbcDataType_XDBC_TINYINT},
		{"smallint", arrow.PrimitiveTypes.Int16, internal.XdbcDataType_XDBC_SMALLINT},
		{"integer", arrow.PrimitiveTypes.Int32, internal.XdbcDataType_XDBC_INTEGER},
		{"bigint", arrow.PrimitiveTypes.Int64, internal.XdbcDataType_XDBC_BIGINT},
		{"real", arrow.PrimitiveTypes.Float32, internal.XdbcDataType_XDBC_FLOAT},
		{"double", arrow.PrimitiveTypes.Float64, internal.XdbcDataType_XDBC_DOUBLE},
		{"varchar", arrow.BinaryTypes.String, internal.XdbcDataType_XDBC_VARCHAR},
		{"varbinary", arrow.BinaryTypes.Binary, internal.XdbcDataType_XDBC_BINARY},
		{"boolean", arrow.FixedWidthTypes.Boolean, internal.XdbcDataType_XDBC_BIT},
		{"date", arrow.FixedWidthTypes.Date32, internal.XdbcDataType_XDBC_DATE},
		{"timestamp", arrow.FixedWidthTypes.Timestamp_us, internal.XdbcDataType_XDBC_TIMESTAMP},
		{"uuid", extensions.NewUUIDType(), internal.XdbcDataType_XDBC_GUID},
		{"bool8", extensions.NewBool8Type(), internal.XdbcDataType_XDBC_TINYINT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, internal.ToXdbcDataType(tt.dataType))
		})
	}

	t.Run("json storage type", func(t *testing.T) {
		jsonType, err := extensions.NewJSONType(arrow.BinaryTypes.String)
		require.NoError(t, err)
		require.Equal(t, internal.XdbcDataType_XDBC_VARCHAR, internal.ToXdbcDataType(jsonType))
	})

	t.Run("opaque storage type", func(t *testing.T) {
		opaqueType := extensions.NewOpaqueType(arrow.BinaryTypes.Binary, "geometry", "trino")
		require.Equal(t, internal.XdbcDataType_XDBC_BINARY, internal.ToXdbcDataType(opaqueType))
	})
}
