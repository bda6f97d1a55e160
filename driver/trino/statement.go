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
	"context"
	"database/sql"
	"strconv"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/trinodb/trino-adbc/driver/internal/driverbase"
)

type statementImpl struct {
	driverbase.StatementImplBase

	cnxn *connectionImpl

	query     string
	prepared  *sql.Stmt
	bindArgs  []any
	queueSize int
	batchSize int
	closed    bool
}

func (st *statementImpl) Close() error {
	if st.closed {
		return st.ErrorHelper.Errorf(adbc.StatusInvalidState, "statement already closed")
	}
	st.closed = true
	st.bindArgs = nil
	if st.prepared != nil {
		err := st.prepared.Close()
		st.prepared = nil
		return errToAdbcErr(adbc.StatusIO, err)
	}
	return nil
}

func (st *statementImpl) SetSqlQuery(query string) error {
	if st.prepared != nil {
		_ = st.prepared.Close()
		st.prepared = nil
	}
	st.query = query
	return nil
}

func (st *statementImpl) SetSubstraitPlan(plan []byte) error {
	return st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "substrait plans are not supported")
}

// Bind uses the first row of the record as scalar query parameters.
func (st *statementImpl) Bind(ctx context.Context, values arrow.Record) error {
	if values.NumRows() < 1 {
		return st.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "bound record contains no rows")
	}

	args := make([]any, values.NumCols())
	for i := range args {
		val, err := arrowValueToGo(values.Column(i), 0)
		if err != nil {
			return st.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "cannot bind parameter %d: %s", i, err)
		}
		args[i] = val
	}
	st.bindArgs = args
	return nil
}

func (st *statementImpl) BindStream(ctx context.Context, stream array.RecordReader) error {
	defer stream.Release()
	for stream.Next() {
		rec := stream.Record()
		if rec.NumRows() == 0 {
			continue
		}
		return st.Bind(ctx, rec)
	}
	if err := stream.Err(); err != nil {
		return errToAdbcErr(adbc.StatusInvalidArgument, err)
	}
	return st.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "bound stream contains no rows")
}

func (st *statementImpl) GetParameterSchema() (*arrow.Schema, error) {
	return nil, st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "GetParameterSchema")
}

func (st *statementImpl) Prepare(ctx context.Context) error {
	if st.query == "" {
		return st.ErrorHelper.Errorf(adbc.StatusInvalidState, "no query to prepare")
	}
	ctx, span := st.StartSpan(ctx, "Prepare")
	defer span.End()

	stmt, err := st.cnxn.db.PrepareContext(ctx, st.query)
	if err != nil {
		return errToAdbcErr(adbc.StatusIO, err)
	}
	if st.prepared != nil {
		_ = st.prepared.Close()
	}
	st.prepared = stmt
	return nil
}

func (st *statementImpl) queryContext(ctx context.Context) (*sql.Rows, error) {
	if st.prepared != nil {
		return st.prepared.QueryContext(ctx, st.bindArgs...)
	}
	return st.cnxn.db.QueryContext(ctx, st.query, st.bindArgs...)
}

func (st *statementImpl) ExecuteQuery(ctx context.Context) (array.RecordReader, int64, error) {
	if st.query == "" {
		return nil, -1, st.ErrorHelper.Errorf(adbc.StatusInvalidState, "cannot execute without a query")
	}
	ctx, span := st.StartSpan(ctx, "ExecuteQuery")
	defer span.End()

	rows, err := st.queryContext(ctx)
	if err != nil {
		return nil, -1, errToAdbcErr(adbc.StatusIO, err)
	}

	schema, err := schemaFromRows(rows)
	if err != nil {
		_ = rows.Close()
		return nil, -1, err
	}

	rdr, err := newRecordReader(ctx, st.cnxn.Alloc, rows, schema, st.batchSize, st.queueSize)
	if err != nil {
		_ = rows.Close()
		return nil, -1, err
	}
	return rdr, -1, nil
}

func (st *statementImpl) ExecuteUpdate(ctx context.Context) (int64, error) {
	if st.query == "" {
		return -1, st.ErrorHelper.Errorf(adbc.StatusInvalidState, "cannot execute without a query")
	}
	ctx, span := st.StartSpan(ctx, "ExecuteUpdate")
	defer span.End()

	var result sql.Result
	var err error
	if st.prepared != nil {
		result, err = st.prepared.ExecContext(ctx, st.bindArgs...)
	} else {
		result, err = st.cnxn.db.ExecContext(ctx, st.query, st.bindArgs...)
	}
	if err != nil {
		return -1, errToAdbcErr(adbc.StatusIO, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return affected, nil
}

func (st *statementImpl) ExecutePartitions(ctx context.Context) (*arrow.Schema, adbc.Partitions, int64, error) {
	return nil, adbc.Partitions{}, -1, st.ErrorHelper.Errorf(adbc.StatusNotImplemented, "partitioned result sets are not supported")
}

// ExecuteSchema resolves the result schema without materializing rows by
// wrapping the query in a LIMIT 0 subquery.
func (st *statementImpl) ExecuteSchema(ctx context.Context) (*arrow.Schema, error) {
	if st.query == "" {
		return nil, st.ErrorHelper.Errorf(adbc.StatusInvalidState, "cannot execute without a query")
	}
	ctx, span := st.StartSpan(ctx, "ExecuteSchema")
	defer span.End()

	rows, err := st.cnxn.db.QueryContext(ctx, "SELECT * FROM ("+st.query+") AS t LIMIT 0", st.bindArgs...)
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	defer rows.Close()

	return schemaFromRows(rows)
}

func (st *statementImpl) SetOption(key, value string) error {
	switch key {
	case OptionIntQueueSize:
		size, err := strconv.Atoi(value)
		if err != nil || size <= 0 {
			return st.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid value '%s' for option '%s'", value, key)
		}
		st.queueSize = size
		return nil
	}
	return st.StatementImplBase.SetOption(key, value)
}

func (st *statementImpl) SetOptionInt(key string, value int64) error {
	switch key {
	case OptionIntQueueSize:
		if value <= 0 {
			return st.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid value '%d' for option '%s'", value, key)
		}
		st.queueSize = int(value)
		return nil
	}
	return st.StatementImplBase.SetOptionInt(key, value)
}

func (st *statementImpl) GetOption(key string) (string, error) {
	switch key {
	case OptionIntQueueSize:
		return strconv.Itoa(st.queueSize), nil
	}
	return st.StatementImplBase.GetOption(key)
}

func (st *statementImpl) GetOptionInt(key string) (int64, error) {
	switch key {
	case OptionIntQueueSize:
		return int64(st.queueSize), nil
	}
	return st.StatementImplBase.GetOptionInt(key)
}

// schemaFromRows derives the Arrow schema of a result set from the type
// text reported by the engine for each column.
func schemaFromRows(rows *sql.Rows) (*arrow.Schema, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusInternal, err)
	}

	fields := make([]arrow.Field, len(colTypes))
	for i, col := range colTypes {
		nullable := true
		if n, ok := col.Nullable(); ok {
			nullable = n
		}
		fields[i] = arrow.Field{
			Name:     col.Name(),
			Type:     typeFromTrino(col.DatabaseTypeName()),
			Nullable: nullable,
		}
	}
	return arrow.NewSchema(fields, nil), nil
}
