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
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ array.RecordReader = (*reader)(nil)

func TestReaderRecordBatch(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	bldr := array.NewRecordBuilder(alloc, schema)
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).Append(1)

	rec := bldr.NewRecord()
	defer rec.Release()

	r := &reader{schema: schema, rec: rec}
	assert.Equal(t, schema, r.Schema())
	assert.Equal(t, r.Record(), r.RecordBatch())
}

func TestAppendValueScalars(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "b", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "i", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "f", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "d", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
		{Name: "ts", Type: &arrow.TimestampType{Unit: arrow.Millisecond}, Nullable: true},
		{Name: "dec", Type: &arrow.Decimal128Type{Precision: 10, Scale: 2}, Nullable: true},
	}, nil)

	bldr := array.NewRecordBuilder(alloc, schema)
	defer bldr.Release()

	when := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	row := []any{true, int64(42), 3.5, "hello", when, when, "12345.67"}
	for i, val := range row {
		require.NoError(t, appendValue(bldr.Field(i), val))
	}
	// A row of NULLs must be representable for every column.
	for i := range row {
		require.NoError(t, appendValue(bldr.Field(i), nil))
	}

	rec := bldr.NewRecord()
	defer rec.Release()

	require.EqualValues(t, 2, rec.NumRows())
	assert.True(t, rec.Column(0).(*array.Boolean).Value(0))
	assert.EqualValues(t, 42, rec.Column(1).(*array.Int64).Value(0))
	assert.EqualValues(t, 3.5, rec.Column(2).(*array.Float64).Value(0))
	assert.Equal(t, "hello", rec.Column(3).(*array.String).Value(0))
	assert.Equal(t, "12345.67", rec.Column(6).(*array.Decimal128).ValueStr(0))
	for col := 0; col < int(rec.NumCols()); col++ {
		assert.True(t, rec.Column(col).IsNull(1), "column %d", col)
	}
}

func TestAppendValueNested(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "arr", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
		{Name: "obj", Type: arrow.StructOf(
			arrow.Field{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			arrow.Field{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		), Nullable: true},
	}, nil)

	bldr := array.NewRecordBuilder(alloc, schema)
	defer bldr.Release()

	require.NoError(t, appendValue(bldr.Field(0), []any{int64(1), int64(2), int64(3)}))
	require.NoError(t, appendValue(bldr.Field(1), map[string]any{"id": int64(7), "name": "seven"}))

	rec := bldr.NewRecord()
	defer rec.Release()

	list := rec.Column(0).(*array.List)
	values := list.ListValues().(*array.Int64)
	start, end := list.ValueOffsets(0)
	require.EqualValues(t, 3, end-start)
	assert.EqualValues(t, 1, values.Value(int(start)))
	assert.EqualValues(t, 3, values.Value(int(end-1)))

	obj := rec.Column(1).(*array.Struct)
	assert.EqualValues(t, 7, obj.Field(0).(*array.Int64).Value(0))
	assert.Equal(t, "seven", obj.Field(1).(*array.String).Value(0))
}

func TestAppendValueTypeMismatch(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	bldr := array.NewBooleanBuilder(alloc)
	defer bldr.Release()

	err := appendValue(bldr, "not-a-bool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool")
}

func TestParseYearMonthInterval(t *testing.T) {
	months, err := parseYearMonthInterval("2-3")
	require.NoError(t, err)
	assert.EqualValues(t, 27, months)

	months, err = parseYearMonthInterval("-1-6")
	require.NoError(t, err)
	assert.EqualValues(t, -18, months)

	_, err = parseYearMonthInterval("bogus")
	require.Error(t, err)
}

func TestParseDayTimeInterval(t *testing.T) {
	interval, err := parseDayTimeInterval("2 03:04:05.600")
	require.NoError(t, err)
	assert.EqualValues(t, 2, interval.Days)
	assert.EqualValues(t, ((3*60+4)*60+5)*1000+600, interval.Milliseconds)

	interval, err = parseDayTimeInterval("-1 00:00:01.000")
	require.NoError(t, err)
	assert.EqualValues(t, -1, interval.Days)
	assert.EqualValues(t, -1000, interval.Milliseconds)

	_, err = parseDayTimeInterval("bogus")
	require.Error(t, err)
}

func TestArrowValueToGo(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.DefaultAllocator)
	defer alloc.AssertSize(t, 0)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "i", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "f", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "n", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)

	bldr := array.NewRecordBuilder(alloc, schema)
	defer bldr.Release()
	bldr.Field(0).(*array.Int32Builder).Append(11)
	bldr.Field(1).(*array.StringBuilder).Append("x")
	bldr.Field(2).(*array.Float64Builder).Append(1.25)
	bldr.Field(3).(*array.Int64Builder).AppendNull()

	rec := bldr.NewRecord()
	defer rec.Release()

	val, err := arrowValueToGo(rec.Column(0), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(11), val)

	val, err = arrowValueToGo(rec.Column(1), 0)
	require.NoError(t, err)
	assert.Equal(t, "x", val)

	val, err = arrowValueToGo(rec.Column(2), 0)
	require.NoError(t, err)
	assert.Equal(t, 1.25, val)

	val, err = arrowValueToGo(rec.Column(3), 0)
	require.NoError(t, err)
	assert.Nil(t, val)
}
