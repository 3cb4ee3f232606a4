package model

import "encoding/json"

// Record is the caller-supplied payload of an entry: an arbitrary JSON
// object, carried verbatim from the request body to the log file.
type Record = json.RawMessage

// Entry is the persisted unit. Each successful append writes exactly one
// Entry as one newline-terminated JSON line; entries are never mutated
// or deleted afterwards.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Data      Record `json:"data"`
}
