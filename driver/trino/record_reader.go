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
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/decimal256"
	"github.com/apache/arrow-go/v18/arrow/extensions"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// checkContext maps context termination onto the cancellation and timeout
// adbc status codes.
func checkContext(ctx context.Context, maybeErr error) error {
	if maybeErr != nil {
		return maybeErr
	} else if ctx.Err() == context.Canceled {
		return adbc.Error{Msg: ctx.Err().Error(), Code: adbc.StatusCancelled}
	} else if ctx.Err() == context.DeadlineExceeded {
		return adbc.Error{Msg: ctx.Err().Error(), Code: adbc.StatusTimeout}
	}
	return ctx.Err()
}

type reader struct {
	refCount int64

	schema   *arrow.Schema
	ch       chan arrow.Record
	rec      arrow.Record
	err      error
	ctx      context.Context
	cancelFn context.CancelFunc
	group    *errgroup.Group
}

// newRecordReader scans the result set on a background goroutine, batching
// rows into Arrow records pushed through a bounded channel. The rows are
// owned by the reader from here on.
func newRecordReader(ctx context.Context, alloc memory.Allocator, rows *sql.Rows, schema *arrow.Schema, batchSize, queueSize int) (array.RecordReader, error) {
	ctx, cancelFn := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	ch := make(chan arrow.Record, queueSize)
	rdr := &reader{
		refCount: 1,
		schema:   schema,
		ch:       ch,
		ctx:      ctx,
		cancelFn: cancelFn,
		group:    group,
	}

	group.Go(func() error {
		defer rows.Close()
		defer close(ch)

		bldr := array.NewRecordBuilder(alloc, schema)
		defer bldr.Release()

		flush := func() error {
			rec := bldr.NewRecord()
			select {
			case ch <- rec:
				return nil
			case <-gctx.Done():
				rec.Release()
				return gctx.Err()
			}
		}

		pending := 0
		values := make([]any, len(schema.Fields()))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}

		for rows.Next() {
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			for i, val := range values {
				if err := appendValue(bldr.Field(i), val); err != nil {
					return fmt.Errorf("column %s: %w", schema.Field(i).Name, err)
				}
			}
			pending++
			if pending >= batchSize {
				if err := flush(); err != nil {
					return err
				}
				pending = 0
			}
		}
		if pending > 0 {
			if err := flush(); err != nil {
				return err
			}
		}
		return rows.Err()
	})

	return rdr, nil
}

func (r *reader) Schema() *arrow.Schema { return r.schema }

func (r *reader) Retain() {
	atomic.AddInt64(&r.refCount, 1)
}

func (r *reader) Release() {
	if atomic.AddInt64(&r.refCount, -1) == 0 {
		r.cancelFn()
		if r.rec != nil {
			r.rec.Release()
			r.rec = nil
		}
		for rec := range r.ch {
			rec.Release()
		}
	}
}

func (r *reader) Next() bool {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}

	rec, ok := <-r.ch
	if !ok {
		if r.err == nil {
			if err := checkContext(r.ctx, r.group.Wait()); err != nil {
				r.err = errToAdbcErr(adbc.StatusIO, err)
			}
		}
		return false
	}
	r.rec = rec
	return true
}

func (r *reader) Record() arrow.Record { return r.rec }

func (r *reader) RecordBatch() arrow.RecordBatch { return r.rec }

func (r *reader) Err() error { return r.err }

// appendValue writes one scanned engine value into an Arrow builder,
// recursing through list, map and row containers.
func appendValue(bldr array.Builder, val any) error {
	if val == nil {
		bldr.AppendNull()
		return nil
	}

	switch b := bldr.(type) {
	case *array.BooleanBuilder:
		v, ok := val.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", val)
		}
		b.Append(v)
	case *array.Int8Builder:
		v, err := toInt64(val)
		if err != nil {
			return err
		}
		b.Append(int8(v))
	case *array.Int16Builder:
		v, err := toInt64(val)
		if err != nil {
			return err
		}
		b.Append(int16(v))
	case *array.Int32Builder:
		v, err := toInt64(val)
		if err != nil {
			return err
		}
		b.Append(int32(v))
	case *array.Int64Builder:
		v, err := toInt64(val)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.Float32Builder:
		v, err := toFloat64(val)
		if err != nil {
			return err
		}
		b.Append(float32(v))
	case *array.Float64Builder:
		v, err := toFloat64(val)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.StringBuilder:
		switch v := val.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		default:
			b.Append(fmt.Sprint(v))
		}
	case *array.BinaryBuilder:
		switch v := val.(type) {
		case []byte:
			b.Append(v)
		case string:
			b.Append([]byte(v))
		default:
			return fmt.Errorf("expected binary, got %T", val)
		}
	case *array.Date32Builder:
		t, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", val)
		}
		b.Append(arrow.Date32FromTime(t))
	case *array.Time32Builder:
		t, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", val)
		}
		b.Append(arrow.Time32(timeSinceMidnight(t) / time.Millisecond))
	case *array.Time64Builder:
		t, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", val)
		}
		if b.Type().(*arrow.Time64Type).Unit == arrow.Nanosecond {
			b.Append(arrow.Time64(timeSinceMidnight(t)))
		} else {
			b.Append(arrow.Time64(timeSinceMidnight(t) / time.Microsecond))
		}
	case *array.TimestampBuilder:
		t, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", val)
		}
		ts, err := arrow.TimestampFromTime(t, b.Type().(*arrow.TimestampType).Unit)
		if err != nil {
			return err
		}
		b.Append(ts)
	case *array.Decimal128Builder:
		typ := b.Type().(*arrow.Decimal128Type)
		num, err := decimal128.FromString(fmt.Sprint(val), typ.Precision, typ.Scale)
		if err != nil {
			return err
		}
		b.Append(num)
	case *array.Decimal256Builder:
		typ := b.Type().(*arrow.Decimal256Type)
		num, err := decimal256.FromString(fmt.Sprint(val), typ.Precision, typ.Scale)
		if err != nil {
			return err
		}
		b.Append(num)
	case *array.MonthIntervalBuilder:
		months, err := parseYearMonthInterval(fmt.Sprint(val))
		if err != nil {
			return err
		}
		b.Append(months)
	case *array.DayTimeIntervalBuilder:
		interval, err := parseDayTimeInterval(fmt.Sprint(val))
		if err != nil {
			return err
		}
		b.Append(interval)
	case *extensions.UUIDBuilder:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("expected uuid string, got %T", val)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		b.Append(u)
	case *array.ListBuilder:
		items, ok := val.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", val)
		}
		b.Append(true)
		for _, item := range items {
			if err := appendValue(b.ValueBuilder(), item); err != nil {
				return err
			}
		}
	case *array.MapBuilder:
		entries, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("expected map, got %T", val)
		}
		b.Append(true)
		for k, item := range entries {
			if err := appendValue(b.KeyBuilder(), k); err != nil {
				return err
			}
			if err := appendValue(b.ItemBuilder(), item); err != nil {
				return err
			}
		}
	case *array.StructBuilder:
		b.Append(true)
		typ := b.Type().(*arrow.StructType)
		switch v := val.(type) {
		case []any:
			for i := 0; i < b.NumField(); i++ {
				var item any
				if i < len(v) {
					item = v[i]
				}
				if err := appendValue(b.FieldBuilder(i), item); err != nil {
					return err
				}
			}
		case map[string]any:
			for i := 0; i < b.NumField(); i++ {
				if err := appendValue(b.FieldBuilder(i), v[typ.Field(i).Name]); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("expected row, got %T", val)
		}
	case interface{ StorageBuilder() array.Builder }:
		return appendValue(b.StorageBuilder(), val)
	default:
		return fmt.Errorf("unsupported builder %T", bldr)
	}
	return nil
}

func toInt64(val any) (int64, error) {
	switch v := val.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("expected integer, got %T", val)
}

func toFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("expected float, got %T", val)
}

func timeSinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// parseYearMonthInterval decodes the engine's "Y-M" rendering into total
// months.
func parseYearMonthInterval(text string) (arrow.MonthInterval, error) {
	text = strings.TrimSpace(text)
	negative := strings.HasPrefix(text, "-")
	text = strings.TrimPrefix(text, "-")

	yearStr, monthStr, found := strings.Cut(text, "-")
	if !found {
		return 0, fmt.Errorf("malformed year-month interval '%s'", text)
	}
	years, err := strconv.ParseInt(yearStr, 10, 32)
	if err != nil {
		return 0, err
	}
	months, err := strconv.ParseInt(monthStr, 10, 32)
	if err != nil {
		return 0, err
	}

	total := arrow.MonthInterval(years*12 + months)
	if negative {
		total = -total
	}
	return total, nil
}

// parseDayTimeInterval decodes the engine's "D HH:MM:SS.mmm" rendering.
func parseDayTimeInterval(text string) (arrow.DayTimeInterval, error) {
	text = strings.TrimSpace(text)
	negative := strings.HasPrefix(text, "-")
	text = strings.TrimPrefix(text, "-")

	dayStr, clock, found := strings.Cut(text, " ")
	if !found {
		return arrow.DayTimeInterval{}, fmt.Errorf("malformed day-time interval '%s'", text)
	}
	days, err := strconv.ParseInt(dayStr, 10, 32)
	if err != nil {
		return arrow.DayTimeInterval{}, err
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return arrow.DayTimeInterval{}, fmt.Errorf("malformed day-time interval '%s'", text)
	}
	hours, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return arrow.DayTimeInterval{}, err
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return arrow.DayTimeInterval{}, err
	}
	secStr, msStr, _ := strings.Cut(parts[2], ".")
	seconds, err := strconv.ParseInt(secStr, 10, 32)
	if err != nil {
		return arrow.DayTimeInterval{}, err
	}
	var millis int64
	if msStr != "" {
		millis, err = strconv.ParseInt(msStr, 10, 32)
		if err != nil {
			return arrow.DayTimeInterval{}, err
		}
	}

	total := ((hours*60+minutes)*60+seconds)*1000 + millis
	interval := arrow.DayTimeInterval{Days: int32(days), Milliseconds: int32(total)}
	if negative {
		interval.Days = -interval.Days
		interval.Milliseconds = -interval.Milliseconds
	}
	return interval, nil
}

// arrowValueToGo extracts a single row value for use as a query parameter.
func arrowValueToGo(col arrow.Array, row int) (any, error) {
	if col.IsNull(row) {
		return nil, nil
	}

	switch arr := col.(type) {
	case *array.Boolean:
		return arr.Value(row), nil
	case *array.Int8:
		return int64(arr.Value(row)), nil
	case *array.Int16:
		return int64(arr.Value(row)), nil
	case *array.Int32:
		return int64(arr.Value(row)), nil
	case *array.Int64:
		return arr.Value(row), nil
	case *array.Uint8:
		return int64(arr.Value(row)), nil
	case *array.Uint16:
		return int64(arr.Value(row)), nil
	case *array.Uint32:
		return int64(arr.Value(row)), nil
	case *array.Uint64:
		return int64(arr.Value(row)), nil
	case *array.Float32:
		return float64(arr.Value(row)), nil
	case *array.Float64:
		return arr.Value(row), nil
	case *array.String:
		return arr.Value(row), nil
	case *array.LargeString:
		return arr.Value(row), nil
	case *array.Binary:
		return arr.Value(row), nil
	case *array.Date32:
		return arr.Value(row).ToTime(), nil
	case *array.Timestamp:
		return arr.Value(row).ToTime(arr.DataType().(*arrow.TimestampType).Unit), nil
	case *array.Decimal128:
		typ := arr.DataType().(*arrow.Decimal128Type)
		return arr.Value(row).ToString(typ.Scale), nil
	case *array.Decimal256:
		typ := arr.DataType().(*arrow.Decimal256Type)
		return arr.Value(row).ToString(typ.Scale), nil
	case array.ExtensionArray:
		return arrowValueToGo(arr.Storage(), row)
	}
	return nil, fmt.Errorf("unsupported parameter type %s", col.DataType())
}
