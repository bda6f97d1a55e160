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

package driverbase

import (
	"context"
	"io"
	"log/slog"

	"github.com/apache/arrow-adbc/go/adbc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Info codes carried as attributes on every root span.
var otelAttrForInfoCode = map[adbc.InfoCode]attribute.Key{
	adbc.InfoVendorName:         attribute.Key(driverNamespace + ".vendor.name"),
	adbc.InfoVendorVersion:      attribute.Key(driverNamespace + ".vendor.version"),
	adbc.InfoDriverName:         attribute.Key(driverNamespace + ".driver.name"),
	adbc.InfoDriverVersion:      attribute.Key(driverNamespace + ".driver.version"),
	adbc.InfoDriverArrowVersion: attribute.Key(driverNamespace + ".driver.arrow.version"),
	adbc.InfoDriverADBCVersion:  attribute.Key(driverNamespace + ".driver.adbc.version"),
}

// nilLogger returns a logger that discards everything, so callers never have
// to check whether a logger was set.
func nilLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func nilTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("")
}

type traceParentHolder interface {
	GetTraceParent() string
}

// maybeAddTraceParent injects an externally supplied W3C traceparent into ctx
// so that spans started from it become children of the external span. The
// statement-level value takes precedence over the connection/database value.
// A ctx that already carries a valid span context is left untouched.
func maybeAddTraceParent(ctx context.Context, parent traceParentHolder, override traceParentHolder) (context.Context, bool) {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx, false
	}

	var traceParent string
	if override != nil {
		traceParent = override.GetTraceParent()
	}
	if traceParent == "" && parent != nil {
		traceParent = parent.GetTraceParent()
	}
	if traceParent == "" {
		return ctx, false
	}

	carrier := propagation.MapCarrier{"traceparent": traceParent}
	ctx = propagation.TraceContext{}.Extract(ctx, carrier)
	return ctx, trace.SpanContextFromContext(ctx).IsValid()
}

func getInitialSpanAttributes(driverInfo *DriverInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(otelAttrForInfoCode))
	for _, code := range driverInfo.InfoSupportedCodes() {
		attr, ok := otelAttrForInfoCode[code]
		if !ok {
			continue
		}
		value, ok := driverInfo.GetInfoForInfoCode(code)
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			attrs = append(attrs, attr.String(v))
		case bool:
			attrs = append(attrs, attr.Bool(v))
		case int64:
			attrs = append(attrs, attr.Int64(v))
		}
	}
	return attrs
}
