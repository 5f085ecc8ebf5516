package mssqlconn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSN_IncludesDatabaseAndHost(t *testing.T) {
	dsn := BuildDSN(Config{Host: "db01", Port: 1433, User: "sa", Password: "pw", Database: "Orders"})
	assert.Contains(t, dsn, "sqlserver://sa:pw@db01:1433")
	assert.Contains(t, dsn, "database=Orders")
}

func TestBuildDSN_EncryptAndTrustServerCertificate(t *testing.T) {
	dsn := BuildDSN(Config{Host: "db01", Port: 1433, Database: "Orders", Encrypt: "strict", TrustServerCertificate: true})
	assert.Contains(t, dsn, "encrypt=strict")
	assert.Contains(t, dsn, "trustservercertificate=true")
}

func TestBuildDSN_DialTimeoutOmittedWhenZero(t *testing.T) {
	dsn := BuildDSN(Config{Host: "db01", Port: 1433, Database: "Orders"})
	assert.NotContains(t, dsn, "dial+timeout")
}

func TestBuildDSN_DialTimeoutIncludedWhenSet(t *testing.T) {
	dsn := BuildDSN(Config{Host: "db01", Port: 1433, Database: "Orders", ConnectionTimeout: 15 * time.Second})
	assert.Contains(t, dsn, "dial+timeout=15")
}
