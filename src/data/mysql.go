package data

import (
	"fmt"
	"os"
	"strings"
)

// GetMySQLDSN returns the MySQL DSN from the environment, used when the
// document leaves storage.mysql_dsn empty.
func GetMySQLDSN() (string, error) {
	dsn := os.Getenv("MYSQL_DSN")
	if strings.TrimSpace(dsn) == "" {
		return "", fmt.Errorf("data: neither storage.mysql_dsn nor MYSQL_DSN is set")
	}
	return dsn, nil
}
