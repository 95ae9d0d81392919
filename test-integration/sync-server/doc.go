// Package integration provides integration tests for the tablesync server.
// They run the complete application over SQLite against a fake paging source
// and drive it through the HTTP API.
package integration
