package domain

import "time"

// ConnectStatus is the lifecycle state of a live connection handle.
type ConnectStatus string

const (
	ConnectStatusDisconnected ConnectStatus = "disconnected"
	ConnectStatusConnecting   ConnectStatus = "connecting"
	ConnectStatusConnected    ConnectStatus = "connected"
	ConnectStatusError        ConnectStatus = "error"
)

// DatabaseConnection holds the metadata for connecting to a MongoDB deployment.
// The password is stored separately in the SecretStore (e.g. macOS Keychain).
type DatabaseConnection struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Host            string    `json:"host"` // hostname or full mongodb:// / mongodb+srv:// URI
	Port            int       `json:"port"`
	Database        string    `json:"database"` // default database for new sessions
	Username        string    `json:"username"`
	ExtraJSON       string    `json:"extraJson"` // URI options (authSource, replicaSet, ...)
	ActiveOnStartup bool      `json:"activeOnStartup"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// DatabaseConnectionStore manages CRUD operations for database connections.
type DatabaseConnectionStore interface {
	CreateConnection(c *DatabaseConnection) error
	GetConnection(id string) (*DatabaseConnection, error)
	ListConnections() ([]DatabaseConnection, error)
	UpdateConnection(c *DatabaseConnection) error
	DeleteConnection(id string) error
}

// Topology is the raw nested description of a deployment:
// databases → collections → indexes.
type Topology struct {
	Databases []DatabaseInfo `json:"databases"`
}

type DatabaseInfo struct {
	Name        string           `json:"name"`
	Collections []CollectionInfo `json:"collections"`
}

type CollectionInfo struct {
	Name    string      `json:"name"`
	Indexes []IndexInfo `json:"indexes"`
}

type IndexInfo struct {
	Name string `json:"name"`
	Keys string `json:"keys"` // key document as relaxed extended JSON
}

// FieldInfo is one sampled attribute of a collection.
type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
