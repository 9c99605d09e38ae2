// Package replay runs exported chat histories through the pipeline offline.
package replay

import (
	"path/filepath"
	"strings"
)

// FileSource indicates which reader handles an export file.
type FileSource int

const (
	SourceSQLite FileSource = iota
	SourceJSONL
)

func (s FileSource) String() string {
	if s == SourceSQLite {
		return "sqlite"
	}
	return "jsonl"
}

// sourceFor maps a file extension to its reader. ok is false for files the
// runner does not handle.
func sourceFor(name string) (FileSource, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".db", ".sqlite", ".sqlite3":
		return SourceSQLite, true
	case ".jsonl", ".ndjson":
		return SourceJSONL, true
	default:
		return 0, false
	}
}
