package model

// Version constants for the store schema and the engine.
const (
	// SchemaVersion is the store schema version written to PRAGMA user_version.
	SchemaVersion = 2

	// EngineVersion is the indexsync engine version.
	EngineVersion = "0.1.0"
)
