package mssql

import (
	"errors"
	"net"
	"net/url"
	"strconv"
)

const (
	defaultPort           = 1433
	defaultConnectTimeout = 15 // seconds
	appName               = "context-engine"
)

// Config locates a customer's SQL Server. Only SQL authentication is
// supported, and every session is opened read-only.
type Config struct {
	Host     string
	Port     int // 0 means 1433
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int // seconds, 0 means 15
}

// Validate checks required fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, errors.New("port out of range"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required for SQL authentication"))
	}
	return errors.Join(errs...)
}

// ConnectionString builds a sqlserver:// URL for the go-mssqldb driver.
// Sessions declare ApplicationIntent=ReadOnly so availability groups may
// route catalog reads to a secondary.
func (c *Config) ConnectionString() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	timeout := c.ConnectionTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	query := url.Values{}
	query.Set("database", c.Database)
	query.Set("encrypt", strconv.FormatBool(c.Encrypt))
	if c.TrustServerCertificate {
		query.Set("TrustServerCertificate", "true")
	}
	query.Set("connection timeout", strconv.Itoa(timeout))
	query.Set("app name", appName)
	query.Set("ApplicationIntent", "ReadOnly")

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		RawQuery: query.Encode(),
	}
	return u.String()
}
