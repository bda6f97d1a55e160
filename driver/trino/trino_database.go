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
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-adbc/go/adbc"
	"github.com/bluele/gcache"
	"github.com/google/uuid"
	trinoclient "github.com/trinodb/trino-go-client/trino"
	"github.com/youmark/pkcs8"
	"golang.org/x/exp/maps"

	"github.com/trinodb/trino-adbc/driver/internal/driverbase"
)

type databaseImpl struct {
	driverbase.DatabaseImplBase

	scheme   string // "" means decide from credentials and port
	host     string
	port     int
	username string
	password string
	catalog  string
	schema   string
	source   string

	authType    string
	accessToken string

	sessionProps map[string]string
	extraCreds   map[string]string

	kerberosPrincipal   string
	kerberosRealm       string
	kerberosKeytabPath  string
	kerberosConfigPath  string
	kerberosServiceName string

	sslSkipVerify     bool
	sslRootCertPath   string
	clientCertPath    string
	clientKeyPath     string
	clientKeyPassword string
	customClientName  string

	queryTimeout time.Duration
}

func (d *databaseImpl) SetOptions(options map[string]string) error {
	for k, v := range options {
		if err := d.SetOption(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (d *databaseImpl) SetOption(key, value string) error {
	if prop, ok := strings.CutPrefix(key, OptionPrefixSessionProperty); ok {
		d.sessionProps[prop] = value
		return nil
	}

	switch key {
	case adbc.OptionKeyURI:
		return d.parseURI(value)
	case OptionStringHost:
		d.host = value
	case OptionIntPort:
		port, err := strconv.Atoi(value)
		if err != nil {
			return d.errInvalidOption(key, value)
		}
		d.port = port
	case OptionStringUsername:
		d.username = value
	case OptionStringPassword:
		d.password = value
	case OptionStringCatalog:
		d.catalog = value
	case OptionStringSchema:
		d.schema = value
	case OptionStringSource:
		d.source = value
	case OptionStringAuthType:
		switch value {
		case OptionValueAuthTypeNone, OptionValueAuthTypeBasic, OptionValueAuthTypeJwt,
			OptionValueAuthTypeCertificate, OptionValueAuthTypeKerberos:
			d.authType = value
		default:
			return d.errInvalidOption(key, value)
		}
	case OptionStringAuthAccessToken:
		d.accessToken = value
		d.authType = OptionValueAuthTypeJwt
	case OptionStringKerberosPrincipal:
		d.kerberosPrincipal = value
	case OptionStringKerberosRealm:
		d.kerberosRealm = value
	case OptionStringKerberosKeytabPath:
		d.kerberosKeytabPath = value
	case OptionStringKerberosConfigPath:
		d.kerberosConfigPath = value
	case OptionStringKerberosServiceName:
		d.kerberosServiceName = value
	case OptionBoolSSL:
		ssl, err := strconv.ParseBool(value)
		if err != nil {
			return d.errInvalidOption(key, value)
		}
		if ssl {
			d.scheme = "https"
		} else {
			d.scheme = "http"
		}
	case OptionBoolSSLSkipVerify:
		skip, err := strconv.ParseBool(value)
		if err != nil {
			return d.errInvalidOption(key, value)
		}
		d.sslSkipVerify = skip
	case OptionStringSSLRootCertPath:
		d.sslRootCertPath = value
	case OptionStringSSLClientCertPath:
		d.clientCertPath = value
	case OptionStringSSLClientKeyPath:
		d.clientKeyPath = value
	case OptionStringSSLClientKeyPassword:
		d.clientKeyPassword = value
	case OptionStringQueryTimeout:
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return d.errInvalidOption(key, value)
		}
		d.queryTimeout = timeout
	default:
		return d.DatabaseImplBase.SetOption(key, value)
	}
	return nil
}

func (d *databaseImpl) GetOption(key string) (string, error) {
	if prop, ok := strings.CutPrefix(key, OptionPrefixSessionProperty); ok {
		if v, ok := d.sessionProps[prop]; ok {
			return v, nil
		}
		return d.DatabaseImplBase.GetOption(key)
	}

	switch key {
	case OptionStringHost:
		return d.host, nil
	case OptionIntPort:
		return strconv.Itoa(d.port), nil
	case OptionStringUsername:
		return d.username, nil
	case OptionStringCatalog:
		return d.catalog, nil
	case OptionStringSchema:
		return d.schema, nil
	case OptionStringSource:
		return d.source, nil
	case OptionStringAuthType:
		return d.authType, nil
	case OptionStringQueryTimeout:
		if d.queryTimeout == 0 {
			return "", nil
		}
		return d.queryTimeout.String(), nil
	}
	return d.DatabaseImplBase.GetOption(key)
}

func (d *databaseImpl) errInvalidOption(key, value string) error {
	return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid value '%s' for option '%s'", value, key)
}

// parseURI maps a trino:// (or http://, https://) URL onto native connection
// parameters. The path is a compound "catalog/schema" segment pair; a single
// segment sets only the catalog and an empty path leaves the default catalog.
func (d *databaseImpl) parseURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid uri '%s': %s", uri, err)
	}

	switch u.Scheme {
	case "trino":
		d.scheme = ""
	case "http", "https":
		d.scheme = u.Scheme
	default:
		return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid uri scheme '%s'", u.Scheme)
	}

	d.host = u.Hostname()
	if portStr := u.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid port in uri '%s'", uri)
		}
		d.port = port
	}

	if u.User != nil {
		d.username = u.User.Username()
		if password, ok := u.User.Password(); ok {
			if d.username == "" {
				return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "username is required when a password is set in the uri")
			}
			d.password = password
			d.authType = OptionValueAuthTypeBasic
		}
	}

	if err := d.parsePath(u.EscapedPath()); err != nil {
		return err
	}
	return d.parseQuery(u.Query())
}

func (d *databaseImpl) parsePath(path string) error {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}

	segments := strings.Split(path, "/")
	if len(segments) > 2 {
		return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "unexpected database format '%s'", path)
	}

	catalog, err := url.PathUnescape(segments[0])
	if err != nil {
		return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid catalog in uri path '%s'", path)
	}
	d.catalog = catalog

	if len(segments) == 2 {
		schema, err := url.PathUnescape(segments[1])
		if err != nil {
			return d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "invalid schema in uri path '%s'", path)
		}
		d.schema = schema
	}
	return nil
}

func (d *databaseImpl) parseQuery(query url.Values) error {
	if v := query.Get("source"); v != "" {
		d.source = v
	}
	if v := query.Get("session_properties"); v != "" {
		props, err := parsePairs(v)
		if err != nil {
			return d.errInvalidOption("session_properties", v)
		}
		for k, val := range props {
			d.sessionProps[k] = val
		}
	}
	if v := query.Get("extra_credentials"); v != "" {
		creds, err := parsePairs(v)
		if err != nil {
			return d.errInvalidOption("extra_credentials", v)
		}
		d.extraCreds = creds
	}
	if v := query.Get("access_token"); v != "" {
		d.accessToken = v
		d.authType = OptionValueAuthTypeJwt
	}
	if cert, key := query.Get("cert"), query.Get("key"); cert != "" && key != "" {
		d.clientCertPath = cert
		d.clientKeyPath = key
		d.authType = OptionValueAuthTypeCertificate
	}
	if v := query.Get("verify"); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return d.errInvalidOption("verify", v)
		}
		d.sslSkipVerify = !verify
	}
	if v := query.Get("query_timeout"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return d.errInvalidOption("query_timeout", v)
		}
		d.queryTimeout = timeout
	}
	if v := query.Get("custom_client"); v != "" {
		d.customClientName = v
	}
	return nil
}

// parsePairs decodes comma-separated key:value pairs, the URI encoding used
// for session properties and extra credentials.
func parsePairs(text string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, pair := range strings.Split(text, ",") {
		k, v, found := strings.Cut(pair, ":")
		if !found || k == "" {
			return nil, fmt.Errorf("malformed pair '%s'", pair)
		}
		pairs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return pairs, nil
}

// resolveScheme decides http vs https when the URI used the trino:// scheme.
// Credentials never travel in cleartext, so basic auth and JWT force https.
func (d *databaseImpl) resolveScheme() string {
	if d.scheme != "" {
		return d.scheme
	}
	if d.password != "" || d.accessToken != "" || d.port == 443 {
		return "https"
	}
	return "http"
}

func (d *databaseImpl) serverURI(scheme string) string {
	host := d.host
	port := d.port
	if port == 0 {
		if scheme == "https" {
			port = 443
		} else {
			port = 8080
		}
	}

	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
	if d.username != "" {
		if d.password != "" {
			u.User = url.UserPassword(d.username, d.password)
		} else {
			u.User = url.User(d.username)
		}
	}
	return u.String()
}

func (d *databaseImpl) buildConfig(scheme string) (*trinoclient.Config, error) {
	if d.host == "" {
		return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "no host provided")
	}
	if scheme == "http" && d.password != "" {
		return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "basic authentication requires TLS")
	}

	// Cloned so later SetOption calls cannot mutate an open connection.
	cfg := &trinoclient.Config{
		ServerURI:         d.serverURI(scheme),
		Source:            d.source,
		Catalog:           d.catalog,
		Schema:            d.schema,
		SessionProperties: maps.Clone(d.sessionProps),
		ExtraCredentials:  maps.Clone(d.extraCreds),
	}

	switch d.authType {
	case OptionValueAuthTypeJwt:
		cfg.AccessToken = d.accessToken
	case OptionValueAuthTypeKerberos:
		cfg.KerberosEnabled = "true"
		cfg.KerberosPrincipal = d.kerberosPrincipal
		cfg.KerberosRealm = d.kerberosRealm
		cfg.KerberosKeytabPath = d.kerberosKeytabPath
		cfg.KerberosConfigPath = d.kerberosConfigPath
		cfg.KerberosRemoteServiceName = d.kerberosServiceName
		cfg.SSLCertPath = d.sslRootCertPath
	}

	if d.queryTimeout > 0 {
		timeout := d.queryTimeout
		cfg.QueryTimeout = &timeout
	}
	return cfg, nil
}

// needsCustomClient reports whether TLS material requires registering a
// dedicated http.Client with the engine client.
func (d *databaseImpl) needsCustomClient() bool {
	return d.sslSkipVerify || d.sslRootCertPath != "" || d.clientCertPath != ""
}

func (d *databaseImpl) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.sslSkipVerify {
		tlsCfg.InsecureSkipVerify = true
	}

	if d.sslRootCertPath != "" {
		pemData, err := os.ReadFile(d.sslRootCertPath)
		if err != nil {
			return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "failed to read root certificate: %s", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "no certificates found in '%s'", d.sslRootCertPath)
		}
		tlsCfg.RootCAs = pool
	}

	if d.clientCertPath != "" {
		cert, err := d.loadClientCertificate()
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (d *databaseImpl) loadClientCertificate() (tls.Certificate, error) {
	if d.clientKeyPassword == "" {
		cert, err := tls.LoadX509KeyPair(d.clientCertPath, d.clientKeyPath)
		if err != nil {
			return tls.Certificate{}, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "failed to load client certificate: %s", err)
		}
		return cert, nil
	}

	// Encrypted keys must be PKCS#8, which the stdlib cannot decrypt.
	keyPEM, err := os.ReadFile(d.clientKeyPath)
	if err != nil {
		return tls.Certificate{}, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "failed to read client key: %s", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "no PEM data in '%s'", d.clientKeyPath)
	}
	key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(d.clientKeyPassword))
	if err != nil {
		return tls.Certificate{}, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "failed to decrypt client key: %s", err)
	}

	certPEM, err := os.ReadFile(d.clientCertPath)
	if err != nil {
		return tls.Certificate{}, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "failed to read client certificate: %s", err)
	}
	cert := tls.Certificate{PrivateKey: key}
	for {
		var certBlock *pem.Block
		certBlock, certPEM = pem.Decode(certPEM)
		if certBlock == nil {
			break
		}
		if certBlock.Type == "CERTIFICATE" {
			cert.Certificate = append(cert.Certificate, certBlock.Bytes)
		}
	}
	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, d.ErrorHelper.Errorf(adbc.StatusInvalidArgument, "no certificates found in '%s'", d.clientCertPath)
	}
	return cert, nil
}

func (d *databaseImpl) Open(ctx context.Context) (adbc.Connection, error) {
	scheme := d.resolveScheme()
	cfg, err := d.buildConfig(scheme)
	if err != nil {
		return nil, err
	}

	customClient := d.customClientName
	ownsCustomClient := false
	if customClient == "" && d.needsCustomClient() {
		tlsCfg, err := d.buildTLSConfig()
		if err != nil {
			return nil, err
		}
		customClient = "trino-adbc-" + uuid.NewString()
		client := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
		if err := trinoclient.RegisterCustomClient(customClient, client); err != nil {
			return nil, errToAdbcErr(adbc.StatusInternal, err)
		}
		ownsCustomClient = true
	}
	cfg.CustomClientName = customClient

	dsn, err := cfg.FormatDSN()
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusInvalidArgument, err)
	}

	pool, err := sql.Open("trino", dsn)
	if err != nil {
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, errToAdbcErr(adbc.StatusIO, err)
	}

	conn := &connectionImpl{
		ConnectionImplBase: driverbase.NewConnectionImplBase(&d.DatabaseImplBase),
		db:                 pool,
		catalog:            d.catalog,
		dbSchema:           d.schema,
		customClientName:   customClient,
		ownsCustomClient:   ownsCustomClient,
		queueSize:          defaultQueueSize,
		tableSchemaCache:   gcache.New(tableSchemaCacheSize).LRU().Expiration(tableSchemaCacheTTL).Build(),
	}

	return driverbase.NewConnectionBuilder(conn).
		WithAutocommitSetter(conn).
		WithCurrentNamespacer(conn).
		WithTableTypeLister(conn).
		WithDriverInfoPreparer(conn).
		WithDbObjectsEnumerator(conn).
		Connection(), nil
}

func (d *databaseImpl) Close() error { return nil }
