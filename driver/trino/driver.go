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

// Package trino is an ADBC driver for the Trino distributed SQL query
// engine. Metadata requests are answered from Trino's system catalogs
// (information_schema, system.jdbc, system.metadata) and queries run
// through the native REST client exposed as a database/sql driver.
package trino

import (
	"context"
	"errors"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	trinoclient "github.com/trinodb/trino-go-client/trino"

	"github.com/trinodb/trino-adbc/driver/internal/driverbase"
)

const (
	OptionStringHost     = "adbc.trino.host"
	OptionIntPort        = "adbc.trino.port"
	OptionStringUsername = "username"
	OptionStringPassword = "password"

	// Optional default catalog and schema for new connections. The catalog
	// falls back to "system" when neither the URI nor this option sets one.
	OptionStringCatalog = "adbc.trino.catalog"
	OptionStringSchema  = "adbc.trino.schema"

	// Client identification reported to the engine, visible in
	// system.runtime.queries.
	OptionStringSource = "adbc.trino.source"

	OptionStringAuthType            = "adbc.trino.auth_type"
	OptionValueAuthTypeNone         = "none"
	OptionValueAuthTypeBasic        = "basic"
	OptionValueAuthTypeJwt          = "jwt"
	OptionValueAuthTypeCertificate  = "certificate"
	OptionValueAuthTypeKerberos     = "kerberos"
	OptionStringAuthAccessToken     = "adbc.trino.auth.access_token"
	OptionStringKerberosPrincipal   = "adbc.trino.kerberos.principal"
	OptionStringKerberosRealm       = "adbc.trino.kerberos.realm"
	OptionStringKerberosKeytabPath  = "adbc.trino.kerberos.keytab_path"
	OptionStringKerberosConfigPath  = "adbc.trino.kerberos.config_path"
	OptionStringKerberosServiceName = "adbc.trino.kerberos.remote_service_name"

	// TLS settings. A client certificate switches authentication to mutual
	// TLS; the key may be an encrypted PKCS#8 key when a passphrase is set.
	OptionBoolSSL                    = "adbc.trino.ssl"
	OptionBoolSSLSkipVerify          = "adbc.trino.ssl.skip_verify"
	OptionStringSSLRootCertPath      = "adbc.trino.ssl.root_cert_path"
	OptionStringSSLClientCertPath    = "adbc.trino.ssl.client_cert_path"
	OptionStringSSLClientKeyPath     = "adbc.trino.ssl.client_key_path"
	OptionStringSSLClientKeyPassword = "adbc.trino.ssl.client_key_password"

	// Server-side timeout applied to every query on the connection.
	OptionStringQueryTimeout = "adbc.trino.query_timeout"

	// Session properties, e.g. adbc.trino.session.query_max_run_time.
	OptionPrefixSessionProperty = "adbc.trino.session."

	// Number of record batches buffered between the result fetcher and the
	// RecordReader consumer.
	OptionIntQueueSize = "adbc.trino.statement.queue_size"

	defaultCatalog   = "system"
	defaultSource    = "trino-adbc"
	defaultQueueSize = 5
	defaultBatchSize = 1024
)

type driverImpl struct {
	driverbase.DriverImplBase
}

// NewDriver creates a new Trino driver using the given Arrow allocator.
// The vendor version is the server's and costs a round trip, so it is
// resolved lazily by the connection rather than registered here.
func NewDriver(alloc memory.Allocator) adbc.Driver {
	info := driverbase.DefaultDriverInfo("Trino")
	return driverbase.NewDriver(&driverImpl{
		DriverImplBase: driverbase.NewDriverImplBase(info, alloc),
	})
}

func (d *driverImpl) NewDatabase(opts map[string]string) (adbc.Database, error) {
	return d.NewDatabaseWithContext(context.Background(), opts)
}

func (d *driverImpl) NewDatabaseWithContext(ctx context.Context, opts map[string]string) (adbc.Database, error) {
	dbBase, err := driverbase.NewDatabaseImplBase(ctx, &d.DriverImplBase)
	if err != nil {
		return nil, err
	}

	db := &databaseImpl{
		DatabaseImplBase: dbBase,
		catalog:          defaultCatalog,
		source:           defaultSource,
		sessionProps:     make(map[string]string),
	}
	if err := db.SetOptions(opts); err != nil {
		return nil, err
	}
	return driverbase.NewDatabase(db), nil
}

// errToAdbcErr converts engine and client errors into adbc.Error values,
// preserving the Trino error name, code and SQLSTATE when present.
func errToAdbcErr(code adbc.Status, err error) error {
	if err == nil {
		return nil
	}

	var adbcErr adbc.Error
	if errors.As(err, &adbcErr) {
		return adbcErr
	}

	var trinoErr *trinoclient.ErrTrino
	if errors.As(err, &trinoErr) {
		if trinoErr.ErrorName == "PERMISSION_DENIED" {
			code = adbc.StatusUnauthorized
		}
		var sqlstate [5]byte
		copy(sqlstate[:], trinoErr.SqlState)
		return adbc.Error{
			Code:       code,
			Msg:        trinoErr.Message,
			VendorCode: int32(trinoErr.ErrorCode),
			SqlState:   sqlstate,
		}
	}

	var failed *trinoclient.ErrQueryFailed
	if errors.As(err, &failed) {
		return adbc.Error{
			Code: code,
			Msg:  failed.Error(),
		}
	}

	return adbc.Error{
		Msg:  err.Error(),
		Code: code,
	}
}
