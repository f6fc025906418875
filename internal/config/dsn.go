package config

import (
	"fmt"
	"strings"
)

// ParsedDSN is the result of parsing an audit DSN.
type ParsedDSN struct {
	// Backend is "sqlite" or "postgres".
	Backend string

	// Path is the database file path (sqlite only).
	Path string

	// URL is the full connection string (postgres only).
	URL string
}

// ParseDSN splits a DSN of the form sqlite://<path> or postgres://<conn>
// into its backend and target. An empty DSN returns (nil, nil).
func ParseDSN(dsn string) (*ParsedDSN, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite DSN is missing a path")
		}
		return &ParsedDSN{Backend: "sqlite", Path: path}, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return &ParsedDSN{Backend: "postgres", URL: dsn}, nil
	default:
		return nil, fmt.Errorf("unsupported DSN scheme: %q (use sqlite:// or postgres://)", dsn)
	}
}
