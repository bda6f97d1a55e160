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

// Package internal assembles GetObjects results from per-level catalog
// lookups. The engine has no table constraints, so constraint lists are
// always present but empty below table depth.
package internal

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// CatalogAndSchema keys the table lookup.
type CatalogAndSchema struct {
	Catalog, Schema string
}

// TableInfo carries one table of the lookup. Schema is nil unless columns
// were requested; its fields hold the XDBC attributes as metadata.
type TableInfo struct {
	Name, TableType string
	Schema          *arrow.Schema
}

type GetObjDBSchemasFn func(ctx context.Context, depth adbc.ObjectDepth, catalog *string, schema *string) (map[string][]string, error)
type GetObjTablesFn func(ctx context.Context, depth adbc.ObjectDepth, catalog *string, schema *string, tableName *string, columnName *string, tableType []string) (map[CatalogAndSchema][]TableInfo, error)

// PatternToRegexp compiles a SQL-style pattern (%, _) into a
// case-insensitive anchored regexp. A nil pattern matches everything.
func PatternToRegexp(pattern *string) (*regexp.Regexp, error) {
	if pattern == nil {
		return nil, nil
	}

	var builder strings.Builder
	builder.WriteString("(?i)^")
	for _, c := range *pattern {
		switch c {
		case '_':
			builder.WriteString(".")
		case '%':
			builder.WriteString(".*")
		default:
			builder.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	builder.WriteString("$")
	return regexp.Compile(builder.String())
}

// GetObjects builds the adbc.GetObjectsSchema record from the lookups the
// enumerator produced. The enumerator pre-filters schema and table names;
// catalog and column patterns are applied here.
type GetObjects struct {
	Ctx        context.Context
	Depth      adbc.ObjectDepth
	Catalog    *string
	DbSchema   *string
	TableName  *string
	ColumnName *string
	TableType  []string

	builder           *array.RecordBuilder
	schemaLookup      map[string][]string
	tableLookup       map[CatalogAndSchema][]TableInfo
	catalogPattern    *regexp.Regexp
	columnNamePattern *regexp.Regexp

	catalogNameBuilder           *array.StringBuilder
	catalogDbSchemasBuilder      *array.ListBuilder
	catalogDbSchemasItems        *array.StructBuilder
	dbSchemaNameBuilder          *array.StringBuilder
	dbSchemaTablesBuilder        *array.ListBuilder
	dbSchemaTablesItems          *array.StructBuilder
	tableNameBuilder             *array.StringBuilder
	tableTypeBuilder             *array.StringBuilder
	tableColumnsBuilder          *array.ListBuilder
	tableColumnsItems            *array.StructBuilder
	columnNameBuilder            *array.StringBuilder
	ordinalPositionBuilder       *array.Int32Builder
	remarksBuilder               *array.StringBuilder
	xdbcDataTypeBuilder          *array.Int16Builder
	xdbcTypeNameBuilder          *array.StringBuilder
	xdbcColumnSizeBuilder        *array.Int32Builder
	xdbcDecimalDigitsBuilder     *array.Int16Builder
	xdbcNumPrecRadixBuilder      *array.Int16Builder
	xdbcNullableBuilder          *array.Int16Builder
	xdbcColumnDefBuilder         *array.StringBuilder
	xdbcSqlDataTypeBuilder       *array.Int16Builder
	xdbcDatetimeSubBuilder       *array.Int16Builder
	xdbcCharOctetLengthBuilder   *array.Int32Builder
	xdbcIsNullableBuilder        *array.StringBuilder
	xdbcScopeCatalogBuilder      *array.StringBuilder
	xdbcScopeSchemaBuilder       *array.StringBuilder
	xdbcScopeTableBuilder        *array.StringBuilder
	xdbcIsAutoincrementBuilder   *array.BooleanBuilder
	xdbcIsGeneratedcolumnBuilder *array.BooleanBuilder
	tableConstraintsBuilder      *array.ListBuilder
}

func (g *GetObjects) Init(mem memory.Allocator, getSchemas GetObjDBSchemasFn, getTables GetObjTablesFn) error {
	schemaLookup, err := getSchemas(g.Ctx, g.Depth, g.Catalog, g.DbSchema)
	if err != nil {
		return err
	}
	g.schemaLookup = schemaLookup

	tableLookup, err := getTables(g.Ctx, g.Depth, g.Catalog, g.DbSchema, g.TableName, g.ColumnName, g.TableType)
	if err != nil {
		return err
	}
	g.tableLookup = tableLookup

	if g.catalogPattern, err = PatternToRegexp(g.Catalog); err != nil {
		return adbc.Error{Msg: err.Error(), Code: adbc.StatusInvalidArgument}
	}
	if g.columnNamePattern, err = PatternToRegexp(g.ColumnName); err != nil {
		return adbc.Error{Msg: err.Error(), Code: adbc.StatusInvalidArgument}
	}

	g.builder = array.NewRecordBuilder(mem, adbc.GetObjectsSchema)
	g.catalogNameBuilder = g.builder.Field(0).(*array.StringBuilder)
	g.catalogDbSchemasBuilder = g.builder.Field(1).(*array.ListBuilder)
	g.catalogDbSchemasItems = g.catalogDbSchemasBuilder.ValueBuilder().(*array.StructBuilder)
	g.dbSchemaNameBuilder = g.catalogDbSchemasItems.FieldBuilder(0).(*array.StringBuilder)
	g.dbSchemaTablesBuilder = g.catalogDbSchemasItems.FieldBuilder(1).(*array.ListBuilder)
	g.dbSchemaTablesItems = g.dbSchemaTablesBuilder.ValueBuilder().(*array.StructBuilder)
	g.tableNameBuilder = g.dbSchemaTablesItems.FieldBuilder(0).(*array.StringBuilder)
	g.tableTypeBuilder = g.dbSchemaTablesItems.FieldBuilder(1).(*array.StringBuilder)
	g.tableColumnsBuilder = g.dbSchemaTablesItems.FieldBuilder(2).(*array.ListBuilder)
	g.tableColumnsItems = g.tableColumnsBuilder.ValueBuilder().(*array.StructBuilder)
	g.columnNameBuilder = g.tableColumnsItems.FieldBuilder(0).(*array.StringBuilder)
	g.ordinalPositionBuilder = g.tableColumnsItems.FieldBuilder(1).(*array.Int32Builder)
	g.remarksBuilder = g.tableColumnsItems.FieldBuilder(2).(*array.StringBuilder)
	g.xdbcDataTypeBuilder = g.tableColumnsItems.FieldBuilder(3).(*array.Int16Builder)
	g.xdbcTypeNameBuilder = g.tableColumnsItems.FieldBuilder(4).(*array.StringBuilder)
	g.xdbcColumnSizeBuilder = g.tableColumnsItems.FieldBuilder(5).(*array.Int32Builder)
	g.xdbcDecimalDigitsBuilder = g.tableColumnsItems.FieldBuilder(6).(*array.Int16Builder)
	g.xdbcNumPrecRadixBuilder = g.tableColumnsItems.FieldBuilder(7).(*array.Int16Builder)
	g.xdbcNullableBuilder = g.tableColumnsItems.FieldBuilder(8).(*array.Int16Builder)
	g.xdbcColumnDefBuilder = g.tableColumnsItems.FieldBuilder(9).(*array.StringBuilder)
	g.xdbcSqlDataTypeBuilder = g.tableColumnsItems.FieldBuilder(10).(*array.Int16Builder)
	g.xdbcDatetimeSubBuilder = g.tableColumnsItems.FieldBuilder(11).(*array.Int16Builder)
	g.xdbcCharOctetLengthBuilder = g.tableColumnsItems.FieldBuilder(12).(*array.Int32Builder)
	g.xdbcIsNullableBuilder = g.tableColumnsItems.FieldBuilder(13).(*array.StringBuilder)
	g.xdbcScopeCatalogBuilder = g.tableColumnsItems.FieldBuilder(14).(*array.StringBuilder)
	g.xdbcScopeSchemaBuilder = g.tableColumnsItems.FieldBuilder(15).(*array.StringBuilder)
	g.xdbcScopeTableBuilder = g.tableColumnsItems.FieldBuilder(16).(*array.StringBuilder)
	g.xdbcIsAutoincrementBuilder = g.tableColumnsItems.FieldBuilder(17).(*array.BooleanBuilder)
	g.xdbcIsGeneratedcolumnBuilder = g.tableColumnsItems.FieldBuilder(18).(*array.BooleanBuilder)
	g.tableConstraintsBuilder = g.dbSchemaTablesItems.FieldBuilder(3).(*array.ListBuilder)

	return nil
}

func (g *GetObjects) Release() {
	g.builder.Release()
}

func (g *GetObjects) Finish() (array.RecordReader, error) {
	record := g.builder.NewRecord()
	defer record.Release()

	result, err := array.NewRecordReader(g.builder.Schema(), []arrow.Record{record})
	if err != nil {
		return nil, adbc.Error{Msg: err.Error(), Code: adbc.StatusInternal}
	}
	return result, nil
}

func (g *GetObjects) AppendCatalog(catalogName string) {
	if g.catalogPattern != nil && !g.catalogPattern.MatchString(catalogName) {
		return
	}
	g.catalogNameBuilder.Append(catalogName)

	if g.Depth == adbc.ObjectDepthCatalogs {
		g.catalogDbSchemasBuilder.AppendNull()
		return
	}

	g.catalogDbSchemasBuilder.Append(true)

	for _, dbSchemaName := range g.schemaLookup[catalogName] {
		g.appendDbSchema(catalogName, dbSchemaName)
	}
}

func (g *GetObjects) appendDbSchema(catalogName, dbSchemaName string) {
	g.dbSchemaNameBuilder.Append(dbSchemaName)
	g.catalogDbSchemasItems.Append(true)

	if g.Depth == adbc.ObjectDepthDBSchemas {
		g.dbSchemaTablesBuilder.AppendNull()
		return
	}
	g.dbSchemaTablesBuilder.Append(true)

	key := CatalogAndSchema{Catalog: catalogName, Schema: dbSchemaName}
	for _, tableInfo := range g.tableLookup[key] {
		g.appendTableInfo(tableInfo)
	}
}

func (g *GetObjects) appendTableInfo(tableInfo TableInfo) {
	g.tableNameBuilder.Append(tableInfo.Name)
	g.tableTypeBuilder.Append(tableInfo.TableType)
	g.dbSchemaTablesItems.Append(true)

	// No constraints exist in the engine; the list is null at table depth
	// and empty below it, never absent.
	if g.Depth == adbc.ObjectDepthTables {
		g.tableConstraintsBuilder.AppendNull()
	} else {
		g.tableConstraintsBuilder.Append(true)
	}

	g.appendColumnsInfo(tableInfo)
}

func (g *GetObjects) appendColumnsInfo(tableInfo TableInfo) {
	if g.Depth == adbc.ObjectDepthTables {
		g.tableColumnsBuilder.AppendNull()
		return
	}

	g.tableColumnsBuilder.Append(true)

	if tableInfo.Schema == nil {
		return
	}

	for colIndex, column := range tableInfo.Schema.Fields() {
		if g.columnNamePattern != nil && !g.columnNamePattern.MatchString(column.Name) {
			continue
		}
		g.columnNameBuilder.Append(column.Name)
		if !column.HasMetadata() {
			g.ordinalPositionBuilder.Append(int32(colIndex + 1))
			g.remarksBuilder.AppendNull()

			g.xdbcDataTypeBuilder.AppendNull()
			g.xdbcTypeNameBuilder.AppendNull()
			g.xdbcNullableBuilder.AppendNull()
			g.xdbcIsNullableBuilder.AppendNull()
			g.xdbcColumnSizeBuilder.AppendNull()
			g.xdbcDecimalDigitsBuilder.AppendNull()
			g.xdbcNumPrecRadixBuilder.AppendNull()
			g.xdbcCharOctetLengthBuilder.AppendNull()
			g.xdbcDatetimeSubBuilder.AppendNull()
			g.xdbcSqlDataTypeBuilder.AppendNull()
		} else {
			g.appendColumnMetadata(column, colIndex)
		}

		g.xdbcColumnDefBuilder.AppendNull()
		g.xdbcScopeCatalogBuilder.AppendNull()
		g.xdbcScopeSchemaBuilder.AppendNull()
		g.xdbcScopeTableBuilder.AppendNull()
		g.xdbcIsAutoincrementBuilder.AppendNull()
		g.xdbcIsGeneratedcolumnBuilder.AppendNull()

		g.tableColumnsItems.Append(true)
	}
}

// appendColumnMetadata transfers the XDBC attributes carried as field
// metadata into the column record.
func (g *GetObjects) appendColumnMetadata(column arrow.Field, colIndex int) {
	appendMetaString(g.remarksBuilder, column, "COMMENT")
	appendMetaString(g.xdbcTypeNameBuilder, column, "XDBC_TYPE_NAME")
	appendMetaString(g.xdbcIsNullableBuilder, column, "XDBC_IS_NULLABLE")

	if strNullable, ok := column.Metadata.GetValue("XDBC_NULLABLE"); ok {
		nullable, _ := strconv.ParseBool(strNullable)
		g.xdbcNullableBuilder.Append(boolToInt16(nullable))
	} else {
		g.xdbcNullableBuilder.AppendNull()
	}

	appendMetaInt16(g.xdbcDataTypeBuilder, column, "XDBC_DATA_TYPE")
	appendMetaInt16(g.xdbcSqlDataTypeBuilder, column, "XDBC_SQL_DATA_TYPE")
	appendMetaInt16(g.xdbcDecimalDigitsBuilder, column, "XDBC_SCALE")
	appendMetaInt16(g.xdbcNumPrecRadixBuilder, column, "XDBC_NUM_PREC_RADIX")
	appendMetaInt16(g.xdbcDatetimeSubBuilder, column, "XDBC_DATETIME_SUB")
	appendMetaInt32(g.xdbcCharOctetLengthBuilder, column, "XDBC_CHAR_OCTET_LENGTH")

	// Column size is the numeric precision, or the character limit for
	// text types.
	if strPrecision, ok := column.Metadata.GetValue("XDBC_PRECISION"); ok {
		precision64, _ := strconv.ParseInt(strPrecision, 10, 32)
		g.xdbcColumnSizeBuilder.Append(int32(precision64))
	} else if strCharLimit, ok := column.Metadata.GetValue("CHARACTER_MAXIMUM_LENGTH"); ok {
		charLimit64, _ := strconv.ParseInt(strCharLimit, 10, 32)
		g.xdbcColumnSizeBuilder.Append(int32(charLimit64))
	} else {
		g.xdbcColumnSizeBuilder.AppendNull()
	}

	pos := int32(colIndex + 1)
	if ordinal, ok := column.Metadata.GetValue("ORDINAL_POSITION"); ok {
		if v, err := strconv.ParseInt(ordinal, 10, 32); err == nil {
			pos = int32(v)
		}
	}
	g.ordinalPositionBuilder.Append(pos)
}

func appendMetaString(bldr *array.StringBuilder, column arrow.Field, key string) {
	if v, ok := column.Metadata.GetValue(key); ok {
		bldr.Append(v)
	} else {
		bldr.AppendNull()
	}
}

func appendMetaInt16(bldr *array.Int16Builder, column arrow.Field, key string) {
	if v, ok := column.Metadata.GetValue(key); ok {
		v64, _ := strconv.ParseInt(v, 10, 16)
		bldr.Append(int16(v64))
	} else {
		bldr.AppendNull()
	}
}

func appendMetaInt32(bldr *array.Int32Builder, column arrow.Field, key string) {
	if v, ok := column.Metadata.GetValue(key); ok {
		v64, _ := strconv.ParseInt(v, 10, 32)
		bldr.Append(int32(v64))
	} else {
		bldr.AppendNull()
	}
}

func boolToInt16(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

// XdbcDataType is the JDBC/ODBC type code of a column, as reported in the
// XDBC_DATA_TYPE and XDBC_SQL_DATA_TYPE fields.
type XdbcDataType int32

const (
	XdbcDataType_XDBC_UNKNOWN_TYPE  XdbcDataType = 0
	XdbcDataType_XDBC_CHAR          XdbcDataType = 1
	XdbcDataType_XDBC_NUMERIC       XdbcDataType = 2
	XdbcDataType_XDBC_DECIMAL       XdbcDataType = 3
	XdbcDataType_XDBC_INTEGER       XdbcDataType = 4
	XdbcDataType_XDBC_SMALLINT      XdbcDataType = 5
	XdbcDataType_XDBC_FLOAT         XdbcDataType = 6
	XdbcDataType_XDBC_REAL          XdbcDataType = 7
	XdbcDataType_XDBC_DOUBLE        XdbcDataType = 8
	XdbcDataType_XDBC_DATETIME      XdbcDataType = 9
	XdbcDataType_XDBC_INTERVAL      XdbcDataType = 10
	XdbcDataType_XDBC_VARCHAR       XdbcDataType = 12
	XdbcDataType_XDBC_DATE          XdbcDataType = 91
	XdbcDataType_XDBC_TIME          XdbcDataType = 92
	XdbcDataType_XDBC_TIMESTAMP     XdbcDataType = 93
	XdbcDataType_XDBC_LONGVARCHAR   XdbcDataType = -1
	XdbcDataType_XDBC_BINARY        XdbcDataType = -2
	XdbcDataType_XDBC_VARBINARY     XdbcDataType = -3
	XdbcDataType_XDBC_LONGVARBINARY XdbcDataType = -4
	XdbcDataType_XDBC_BIGINT        XdbcDataType = -5
	XdbcDataType_XDBC_TINYINT       XdbcDataType = -6
	XdbcDataType_XDBC_BIT           XdbcDataType = -7
	XdbcDataType_XDBC_WCHAR         XdbcDataType = -8
	XdbcDataType_XDBC_WVARCHAR      XdbcDataType = -9
	XdbcDataType_XDBC_GUID          XdbcDataType = -11
)

// ToXdbcDataType maps the Arrow type of a column to its JDBC/ODBC type
// code. Extension types map by their canonical meaning where one exists
// (UUID), otherwise by their storage type.
func ToXdbcDataType(dt arrow.DataType) XdbcDataType {
	if dt == nil {
		return XdbcDataType_XDBC_UNKNOWN_TYPE
	}

	if ext, ok := dt.(arrow.ExtensionType); ok {
		if ext.ExtensionName() == "arrow.uuid" {
			return XdbcDataType_XDBC_GUID
		}
		return ToXdbcDataType(ext.StorageType())
	}

	switch dt.ID() {
	case arrow.BOOL:
		return XdbcDataType_XDBC_BIT
	case arrow.INT8, arrow.UINT8:
		return XdbcDataType_XDBC_TINYINT
	case arrow.INT16, arrow.UINT16:
		return XdbcDataType_XDBC_SMALLINT
	case arrow.INT32, arrow.UINT32:
		return XdbcDataType_XDBC_INTEGER
	case arrow.INT64, arrow.UINT64:
		return XdbcDataType_XDBC_BIGINT
	case arrow.FLOAT16, arrow.FLOAT32:
		return XdbcDataType_XDBC_FLOAT
	case arrow.FLOAT64:
		return XdbcDataType_XDBC_DOUBLE
	case arrow.DECIMAL128, arrow.DECIMAL256:
		return XdbcDataType_XDBC_DECIMAL
	case arrow.STRING, arrow.LARGE_STRING:
		return XdbcDataType_XDBC_VARCHAR
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return XdbcDataType_XDBC_BINARY
	case arrow.DATE32, arrow.DATE64:
		return XdbcDataType_XDBC_DATE
	case arrow.TIME32, arrow.TIME64:
		return XdbcDataType_XDBC_TIME
	case arrow.TIMESTAMP:
		return XdbcDataType_XDBC_TIMESTAMP
	case arrow.INTERVAL_MONTHS, arrow.INTERVAL_DAY_TIME, arrow.INTERVAL_MONTH_DAY_NANO:
		return XdbcDataType_XDBC_INTERVAL
	default:
		return XdbcDataType_XDBC_UNKNOWN_TYPE
	}
}
