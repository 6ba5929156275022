package config

// Default locations for databases
const (
	// DefaultDatabaseURI is the default application database (sqlite file)
	DefaultDatabaseURI = "sqlite://./crudkit.db"

	// DefaultTasksDatabasePath is the default path for the task queue database
	DefaultTasksDatabasePath = "./crudkit-tasks.db"
)
