package dbclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"mongorunner/internal/domain"
)

// BuildURI returns the connection string for conn and the database name that
// sessions default to.
func BuildURI(conn *domain.DatabaseConnection, password string) (uri, dbName string) {
	// A host that is already a connection string (Atlas mongodb+srv:// or a
	// standard mongodb://) is used as is.
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri = conn.Host
		// Atlas connection strings ship with a password placeholder
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", password)
			uri = strings.ReplaceAll(uri, "<db_password>", password)
		}
		if conn.Database != "" && !strings.Contains(uri, "/"+conn.Database) {
			if idx := strings.Index(uri, "?"); idx != -1 {
				uri = strings.TrimRight(uri[:idx], "/") + "/" + conn.Database + uri[idx:]
			} else {
				uri = strings.TrimRight(uri, "/") + "/" + conn.Database
			}
		}
	} else {
		port := conn.Port
		if port == 0 {
			port = 27017
		}
		if conn.Username != "" {
			uri = fmt.Sprintf("mongodb://%s:%s@%s:%d", conn.Username, password, conn.Host, port)
		} else {
			uri = fmt.Sprintf("mongodb://%s:%d", conn.Host, port)
		}
		uri += "/" + conn.Database
		if q := extraParams(conn.ExtraJSON); q != "" {
			uri += "?" + q
		}
	}

	dbName = conn.Database
	if dbName == "" {
		dbName = databaseFromURI(uri)
	}
	return uri, dbName
}

// extraParams turns the connection's ExtraJSON (authSource, replicaSet, ...)
// into a query string with a stable parameter order.
func extraParams(extraJSON string) string {
	if extraJSON == "" || extraJSON == "{}" {
		return ""
	}
	var extras map[string]string
	if json.Unmarshal([]byte(extraJSON), &extras) != nil {
		return ""
	}
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	params := make([]string, 0, len(keys))
	for _, k := range keys {
		params = append(params, k+"="+extras[k])
	}
	return strings.Join(params, "&")
}

// databaseFromURI extracts the path component of user:pass@host/DB?params,
// falling back to "test" like the mongo shell.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if atIdx := strings.LastIndex(rest, "@"); atIdx != -1 {
		rest = rest[atIdx+1:]
	}
	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		path := rest[slashIdx+1:]
		if qIdx := strings.Index(path, "?"); qIdx != -1 {
			path = path[:qIdx]
		}
		if path != "" {
			return path
		}
	}
	return "test"
}

// MaskURI hides password in uri for logging.
func MaskURI(uri, password string) string {
	if password == "" {
		return uri
	}
	return strings.ReplaceAll(uri, password, "***")
}
