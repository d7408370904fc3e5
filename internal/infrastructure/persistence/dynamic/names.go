// Package dynamic binds tenant collections by name at runtime. A Collection is
// a stateless view over a borrowed tenant connection that reads and writes
// loosely typed documents, optionally checked against a declared Shape.
package dynamic

import (
	"regexp"
	"strings"

	"github.com/erp/datacore/internal/domain/shared"
)

var (
	collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
	columnNamePattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)
)

// reservedPrefixes address engine catalogs and administrative namespaces
var reservedPrefixes = []string{
	"__",
	"pg_",
	"sqlite_",
	"system",
	"information_schema",
	"admin",
}

// reservedNames are platform tables that live next to tenant data
var reservedNames = map[string]bool{
	"tenants":           true,
	"schema_migrations": true,
}

// ValidateCollectionName rejects names that could address anything other
// than an ordinary business collection. Names are never sanitized.
func ValidateCollectionName(name string) error {
	invalid := func(reason string) error {
		return shared.ErrInvalidName.WithMessage(reason).WithDetail("collection", name)
	}

	if name == "" {
		return invalid("collection name is required")
	}
	if strings.ContainsAny(name, "./\\$") {
		return invalid("collection name must not contain separators")
	}
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return invalid("collection name uses a reserved prefix")
		}
	}
	if !collectionNamePattern.MatchString(name) {
		return invalid("collection name must be lowercase letters, digits or underscores and start with a letter")
	}
	if reservedNames[name] {
		return invalid("collection name is reserved")
	}
	return nil
}

// validColumn reports whether field can be used as a column name
func validColumn(field string) bool {
	return columnNamePattern.MatchString(field)
}
