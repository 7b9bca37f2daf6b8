// Package table defines the output schema and records of a measurement run
// and persists them to SQLite.
package table
