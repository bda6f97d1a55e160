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

// Package driverbase holds the vendor-independent scaffolding the Trino
// driver is built on: option plumbing, driver info, error construction,
// tracing, and default implementations of the ADBC interfaces.
package driverbase

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/extensions"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Build metadata resolved once at init from the binary's module info.
var (
	infoDriverVersion      string
	infoDriverArrowVersion string
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.modified" && s.Value == "true" {
			infoDriverVersion += "-dev"
		}
	}
	for _, dep := range info.Deps {
		if strings.HasPrefix(dep.Path, "github.com/apache/arrow-go/") {
			infoDriverArrowVersion = dep.Version
			return
		}
	}
}

// DriverImpl is the vendor-specific half of a driver. The Trino driver
// embeds DriverImplBase and overrides what it needs.
type DriverImpl interface {
	adbc.Driver
	adbc.DriverWithContext
	Base() *DriverImplBase
}

// Driver is what NewDriver hands back to callers.
type Driver interface {
	adbc.Driver
}

// DriverImplBase supplies default implementations of DriverImpl. It is
// meant to be embedded in a concrete driver implementation.
type DriverImplBase struct {
	Alloc       memory.Allocator
	ErrorHelper ErrorHelper
	DriverInfo  *DriverInfo
}

var _ DriverImpl = (*DriverImplBase)(nil)

// NewDriverImplBase builds a DriverImplBase from the driver's info and an
// Arrow allocator. A nil allocator falls back to memory.DefaultAllocator.
// Version info codes discovered at build time are registered on info.
func NewDriverImplBase(info *DriverInfo, alloc memory.Allocator) DriverImplBase {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}

	if infoDriverVersion != "" {
		if err := info.RegisterInfoCode(adbc.InfoDriverVersion, infoDriverVersion); err != nil {
			panic(err)
		}
	}
	if infoDriverArrowVersion != "" {
		if err := info.RegisterInfoCode(adbc.InfoDriverArrowVersion, infoDriverArrowVersion); err != nil {
			panic(err)
		}
	}

	registerExtensionTypes()
	return DriverImplBase{
		Alloc:       alloc,
		ErrorHelper: ErrorHelper{DriverName: info.GetName()},
		DriverInfo:  info,
	}
}

func (base *DriverImplBase) Base() *DriverImplBase { return base }

func (base *DriverImplBase) NewDatabase(opts map[string]string) (adbc.Database, error) {
	return nil, base.ErrorHelper.Errorf(adbc.StatusNotImplemented, "NewDatabase")
}

func (base *DriverImplBase) NewDatabaseWithContext(ctx context.Context, opts map[string]string) (adbc.Database, error) {
	return nil, base.ErrorHelper.Errorf(adbc.StatusNotImplemented, "NewDatabaseWithContext")
}

type driver struct {
	DriverImpl
}

// NewDriver wraps a DriverImpl into the Driver handed to applications.
func NewDriver(impl DriverImpl) Driver {
	return &driver{DriverImpl: impl}
}

// registerExtensionTypes makes sure the canonical Arrow extension types are
// available before any schema referencing them is built. Registration is
// idempotent, so a redundant call is harmless.
var registerExtensionTypes = sync.OnceFunc(func() {
	canonicalTypes := []arrow.ExtensionType{
		extensions.NewUUIDType(),
		extensions.NewBool8Type(),
		&extensions.JSONType{},
		&extensions.OpaqueType{},
	}

	for _, extType := range canonicalTypes {
		// An error here just means a type with the same name was already
		// registered, most likely by the extensions package init().
		_ = arrow.RegisterExtensionType(extType)
	}
})
