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
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/bluele/gcache"
	trinoclient "github.com/trinodb/trino-go-client/trino"
	"golang.org/x/sync/errgroup"

	"github.com/trinodb/trino-adbc/driver/internal"
	"github.com/trinodb/trino-adbc/driver/internal/driverbase"
)

const (
	tableSchemaCacheSize = 32
	tableSchemaCacheTTL  = 5 * time.Minute

	// Schema-level metadata keys attached by GetTableSchema.
	metadataKeyTableComment     = "TABLE_COMMENT"
	metadataKeyPartitionColumns = "PARTITION_COLUMNS"
)

type connectionImpl struct {
	driverbase.ConnectionImplBase

	db *sql.DB

	catalog  string
	dbSchema string

	customClientName string
	ownsCustomClient bool
	queueSize        int

	tableSchemaCache gcache.Cache

	versionOnce sync.Once
	versionErr  error
}

// quoteIdent renders an identifier for interpolation into catalog queries.
// Only identifiers can be parameterized this way; values use placeholders.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// GetObjectsCatalogs implements driverbase.DbObjectsEnumerator. Pattern
// filtering happens in the record assembly, so all catalogs are returned.
func (c *connectionImpl) GetObjectsCatalogs(ctx context.Context, catalog *string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT "table_cat" FROM "system"."jdbc"."catalogs"`)
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	defer rows.Close()

	var catalogs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errToAdbcErr(adbc.StatusInternal, err)
		}
		catalogs = append(catalogs, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	slices.Sort(catalogs)
	return catalogs, nil
}

// matchingCatalogs resolves a catalog search pattern against the live
// catalog list. An exact name skips the listing round trip.
func (c *connectionImpl) matchingCatalogs(ctx context.Context, catalog *string) ([]string, error) {
	if catalog != nil && !strings.ContainsAny(*catalog, "%_") {
		return []string{*catalog}, nil
	}

	catalogs, err := c.GetObjectsCatalogs(ctx, catalog)
	if err != nil {
		return nil, err
	}

	pattern, err := internal.PatternToRegexp(catalog)
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusInvalidArgument, err)
	}
	if pattern == nil {
		return catalogs, nil
	}

	matched := catalogs[:0]
	for _, name := range catalogs {
		if pattern.MatchString(name) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// GetObjectsDbSchemas implements driverbase.DbObjectsEnumerator by fanning
// the schemata query out over every matching catalog.
func (c *connectionImpl) GetObjectsDbSchemas(ctx context.Context, depth adbc.ObjectDepth, catalog *string, schema *string) (map[string][]string, error) {
	catalogs, err := c.matchingCatalogs(ctx, catalog)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string][]string, len(catalogs))

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range catalogs {
		g.Go(func() error {
			query := `SELECT "schema_name" FROM ` + quoteIdent(cat) + `."information_schema"."schemata"`
			args := make([]any, 0, 1)
			if schema != nil {
				query += ` WHERE "schema_name" LIKE ?`
				args = append(args, *schema)
			}

			rows, err := c.db.QueryContext(gctx, query, args...)
			if err != nil {
				return errToAdbcErr(adbc.StatusIO, err)
			}
			defer rows.Close()

			var schemas []string
			for rows.Next() {
				var name string
				if err := rows.Scan(&name); err != nil {
					return errToAdbcErr(adbc.StatusInternal, err)
				}
				schemas = append(schemas, name)
			}
			if err := rows.Err(); err != nil {
				return errToAdbcErr(adbc.StatusIO, err)
			}

			slices.Sort(schemas)
			mu.Lock()
			result[cat] = schemas
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetObjectsTables implements driverbase.DbObjectsEnumerator. Temporary
// tables and sequences do not exist in Trino, so only base tables and views
// ever appear.
func (c *connectionImpl) GetObjectsTables(ctx context.Context, depth adbc.ObjectDepth, catalog *string, schema *string, tableName *string, columnName *string, tableType []string) (map[internal.CatalogAndSchema][]internal.TableInfo, error) {
	catalogs, err := c.matchingCatalogs(ctx, catalog)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[internal.CatalogAndSchema][]internal.TableInfo)

	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range catalogs {
		g.Go(func() error {
			tables, err := c.tablesInCatalog(gctx, cat, schema, tableName, tableType)
			if err != nil {
				return err
			}

			if depth == adbc.ObjectDepthColumns || depth == adbc.ObjectDepthAll {
				if err := c.attachColumns(gctx, cat, schema, tableName, tables); err != nil {
					return err
				}
			}

			mu.Lock()
			for key, infos := range tables {
				result[key] = infos
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *connectionImpl) tablesInCatalog(ctx context.Context, catalog string, schema, tableName *string, tableType []string) (map[internal.CatalogAndSchema][]internal.TableInfo, error) {
	query := `SELECT "table_schema", "table_name", "table_type" FROM ` + quoteIdent(catalog) + `."information_schema"."tables"` +
		` WHERE "table_type" IN ('BASE TABLE', 'VIEW')`
	args := make([]any, 0, 2)
	if schema != nil {
		query += ` AND "table_schema" LIKE ?`
		args = append(args, *schema)
	}
	if tableName != nil {
		query += ` AND "table_name" LIKE ?`
		args = append(args, *tableName)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	defer rows.Close()

	result := make(map[internal.CatalogAndSchema][]internal.TableInfo)
	for rows.Next() {
		var schemaName, name, typ string
		if err := rows.Scan(&schemaName, &name, &typ); err != nil {
			return nil, errToAdbcErr(adbc.StatusInternal, err)
		}
		if len(tableType) > 0 && !slices.Contains(tableType, typ) {
			continue
		}
		key := internal.CatalogAndSchema{Catalog: catalog, Schema: schemaName}
		result[key] = append(result[key], internal.TableInfo{Name: name, TableType: typ})
	}
	if err := rows.Err(); err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	return result, nil
}

// attachColumns fills in the Arrow schema of every table found in a
// catalog, carrying the column remarks and XDBC metadata used by the
// GetObjects record assembly.
func (c *connectionImpl) attachColumns(ctx context.Context, catalog string, schema, tableName *string, tables map[internal.CatalogAndSchema][]internal.TableInfo) error {
	query := `SELECT "table_schema", "table_name", "column_name", "data_type", UPPER("is_nullable") AS "is_nullable", "comment"` +
		` FROM ` + quoteIdent(catalog) + `."information_schema"."columns" WHERE 1 = 1`
	args := make([]any, 0, 2)
	if schema != nil {
		query += ` AND "table_schema" LIKE ?`
		args = append(args, *schema)
	}
	if tableName != nil {
		query += ` AND "table_name" LIKE ?`
		args = append(args, *tableName)
	}
	query += ` ORDER BY "table_schema", "table_name", "ordinal_position"`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errToAdbcErr(adbc.StatusIO, err)
	}
	defer rows.Close()

	fields := make(map[internal.CatalogAndSchema]map[string][]arrow.Field)
	for rows.Next() {
		var schemaName, table, column, dataType, isNullable string
		var comment sql.NullString
		if err := rows.Scan(&schemaName, &table, &column, &dataType, &isNullable, &comment); err != nil {
			return errToAdbcErr(adbc.StatusInternal, err)
		}

		key := internal.CatalogAndSchema{Catalog: catalog, Schema: schemaName}
		if fields[key] == nil {
			fields[key] = make(map[string][]arrow.Field)
		}
		ordinal := len(fields[key][table]) + 1
		fields[key][table] = append(fields[key][table], columnToField(column, dataType, isNullable, comment, ordinal))
	}
	if err := rows.Err(); err != nil {
		return errToAdbcErr(adbc.StatusIO, err)
	}

	for key, infos := range tables {
		for i, info := range infos {
			if tableFields, ok := fields[key][info.Name]; ok {
				infos[i].Schema = arrow.NewSchema(tableFields, nil)
			}
		}
	}
	return nil
}

func columnToField(name, trinoType, isNullable string, comment sql.NullString, ordinal int) arrow.Field {
	arrowType := typeFromTrino(trinoType)
	nullable := isNullable == "YES"

	xdbcType := internal.ToXdbcDataType(arrowType)
	md := map[string]string{
		"ORDINAL_POSITION":   strconv.Itoa(ordinal),
		"XDBC_TYPE_NAME":     trinoType,
		"XDBC_DATA_TYPE":     strconv.Itoa(int(xdbcType)),
		"XDBC_SQL_DATA_TYPE": strconv.Itoa(int(xdbcType)),
		"XDBC_NULLABLE":      strconv.FormatBool(nullable),
	}
	if nullable {
		md["XDBC_IS_NULLABLE"] = "YES"
	} else {
		md["XDBC_IS_NULLABLE"] = "NO"
	}
	if comment.Valid {
		md["COMMENT"] = comment.String
	}

	typeName, typeArgs, _ := splitTypeText(trinoType)
	switch typeName {
	case "decimal":
		if len(typeArgs) > 0 {
			md["XDBC_PRECISION"] = typeArgs[0]
			md["XDBC_NUM_PREC_RADIX"] = "10"
		}
		if len(typeArgs) > 1 {
			md["XDBC_SCALE"] = typeArgs[1]
		}
	case "varchar", "char":
		if len(typeArgs) > 0 {
			md["CHARACTER_MAXIMUM_LENGTH"] = typeArgs[0]
			md["XDBC_CHAR_OCTET_LENGTH"] = typeArgs[0]
		}
	}

	return arrow.Field{
		Name:     name,
		Type:     arrowType,
		Nullable: nullable,
		Metadata: arrow.MetadataFrom(md),
	}
}

func (c *connectionImpl) GetTableSchema(ctx context.Context, catalog *string, dbSchema *string, tableName string) (*arrow.Schema, error) {
	cat := c.catalog
	if catalog != nil {
		cat = *catalog
	}
	schemaName := c.dbSchema
	if dbSchema != nil {
		schemaName = *dbSchema
	}
	if schemaName == "" {
		return nil, c.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "no schema provided for table '%s'", tableName)
	}

	cacheKey := cat + "." + schemaName + "." + tableName
	if cached, err := c.tableSchemaCache.Get(cacheKey); err == nil {
		return cached.(*arrow.Schema), nil
	}

	fields, err := c.tableColumns(ctx, cat, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, c.ErrorHelper.Errorf(adbc.StatusNotFound, "table '%s'.'%s'.'%s' does not exist", cat, schemaName, tableName)
	}

	md := map[string]string{}
	if comment, err := c.tableComment(ctx, cat, schemaName, tableName); err != nil {
		return nil, err
	} else if comment != "" {
		md[metadataKeyTableComment] = comment
	}
	if partitions := c.partitionColumns(ctx, cat, schemaName, tableName); len(partitions) > 0 {
		md[metadataKeyPartitionColumns] = strings.Join(partitions, ",")
	}

	schemaMeta := arrow.MetadataFrom(md)
	schema := arrow.NewSchema(fields, &schemaMeta)
	_ = c.tableSchemaCache.Set(cacheKey, schema)
	return schema, nil
}

func (c *connectionImpl) tableColumns(ctx context.Context, catalog, schemaName, tableName string) ([]arrow.Field, error) {
	query := `SELECT "column_name", "data_type", UPPER("is_nullable") AS "is_nullable", "comment"` +
		` FROM ` + quoteIdent(catalog) + `."information_schema"."columns"` +
		` WHERE "table_schema" = ? AND "table_name" = ? ORDER BY "ordinal_position"`

	rows, err := c.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	defer rows.Close()

	var fields []arrow.Field
	for rows.Next() {
		var column, dataType, isNullable string
		var comment sql.NullString
		if err := rows.Scan(&column, &dataType, &isNullable, &comment); err != nil {
			return nil, errToAdbcErr(adbc.StatusInternal, err)
		}
		fields = append(fields, columnToField(column, dataType, isNullable, comment, len(fields)+1))
	}
	if err := rows.Err(); err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	return fields, nil
}

// tableComment fetches the table comment from system.metadata. Connectors
// may deny access to that table; the comment is dropped in that case rather
// than failing the schema request.
func (c *connectionImpl) tableComment(ctx context.Context, catalog, schemaName, tableName string) (string, error) {
	query := `SELECT "comment" FROM "system"."metadata"."table_comments"` +
		` WHERE "catalog_name" = ? AND "schema_name" = ? AND "table_name" = ?`

	var comment sql.NullString
	err := c.db.QueryRowContext(ctx, query, catalog, schemaName, tableName).Scan(&comment)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		adbcErr := errToAdbcErr(adbc.StatusIO, err)
		var e adbc.Error
		if errors.As(adbcErr, &e) && e.Code == adbc.StatusUnauthorized {
			c.Logger.DebugContext(ctx, "table comment not accessible",
				"catalog", catalog, "schema", schemaName, "table", tableName)
			return "", nil
		}
		return "", adbcErr
	}
	if comment.Valid {
		return comment.String, nil
	}
	return "", nil
}

// partitionColumns probes the "$partitions" pseudo-table. Most connectors
// do not expose it, so any failure simply means no partition metadata.
func (c *connectionImpl) partitionColumns(ctx context.Context, catalog, schemaName, tableName string) []string {
	query := `SELECT * FROM ` + quoteIdent(catalog) + `.` + quoteIdent(schemaName) + `.` + quoteIdent(tableName+"$partitions") + ` LIMIT 0`
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		c.Logger.DebugContext(ctx, "no partition columns",
			"catalog", catalog, "schema", schemaName, "table", tableName, "error", err)
		return nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil
	}
	return cols
}

// ListTableTypes implements driverbase.TableTypeLister.
func (c *connectionImpl) ListTableTypes(ctx context.Context) ([]string, error) {
	return []string{"BASE TABLE", "VIEW"}, nil
}

// SetAutocommit implements driverbase.AutocommitSetter. Trino connections
// are autocommit only.
func (c *connectionImpl) SetAutocommit(enabled bool) error {
	if enabled {
		return nil
	}
	return c.ErrorHelper.Errorf(adbc.StatusNotImplemented, "disabling autocommit is not supported")
}

// GetCurrentCatalog implements driverbase.CurrentNamespacer.
func (c *connectionImpl) GetCurrentCatalog() (string, error) {
	if c.catalog == "" {
		return "", fmt.Errorf("current catalog is not set")
	}
	return c.catalog, nil
}

// GetCurrentDbSchema implements driverbase.CurrentNamespacer.
func (c *connectionImpl) GetCurrentDbSchema() (string, error) {
	if c.dbSchema == "" {
		return "", fmt.Errorf("current db schema is not set")
	}
	return c.dbSchema, nil
}

// SetCurrentCatalog implements driverbase.CurrentNamespacer.
func (c *connectionImpl) SetCurrentCatalog(val string) error {
	c.catalog = val
	c.tableSchemaCache.Purge()
	return nil
}

// SetCurrentDbSchema implements driverbase.CurrentNamespacer.
func (c *connectionImpl) SetCurrentDbSchema(val string) error {
	c.dbSchema = val
	c.tableSchemaCache.Purge()
	return nil
}

// PrepareDriverInfo implements driverbase.DriverInfoPreparer. The server
// version costs an HTTP round trip, so it is resolved only when the vendor
// version info code is actually requested.
func (c *connectionImpl) PrepareDriverInfo(ctx context.Context, infoCodes []adbc.InfoCode) error {
	if len(infoCodes) > 0 && !slices.Contains(infoCodes, adbc.InfoVendorVersion) {
		return nil
	}

	c.versionOnce.Do(func() {
		var version string
		if err := c.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
			c.versionErr = errToAdbcErr(adbc.StatusIO, err)
			return
		}
		c.versionErr = c.DriverInfo.RegisterInfoCode(adbc.InfoVendorVersion, version)
	})
	return c.versionErr
}

func (c *connectionImpl) NewStatement() (adbc.Statement, error) {
	return driverbase.NewStatement(&statementImpl{
		StatementImplBase: driverbase.NewStatementImplBase(&c.ConnectionImplBase, c.ErrorHelper),
		cnxn:              c,
		queueSize:         c.queueSize,
		batchSize:         defaultBatchSize,
	}), nil
}

func (c *connectionImpl) Close() error {
	if c.ownsCustomClient {
		trinoclient.DeregisterCustomClient(c.customClientName)
	}
	return errToAdbcErr(adbc.StatusIO, c.db.Close())
}
