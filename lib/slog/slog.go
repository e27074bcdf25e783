// Package slog is a logger interface offering a uniformly unpleasant
// and wearying experience for application developers, users and operators.
//
// TODO replace this entirely with something else. Maybe zerolog?
package slog

import (
	"encoding/json"
	"fmt"
	"log"
	"tntpending/lib/core"
)

// LogRecord holds data for a single client log record.
type LogRecord struct {
	Msg        string                `json:"msg,omitempty"`        // Msg is an optional log message
	Error      error                 `json:"error,omitempty"`      // Error is an optional error
	Details    any                   `json:"details,omitempty"`    // Details are optional details
	StackTrace string                `json:"stacktrace,omitempty"` // StackTrace is optional stack trace
	ShardID    *core.ShardID         `json:"shardid,omitempty"`    // ShardID is optional id of shard, if known.
	Replica    *core.Replica         `json:"replica,omitempty"`    // Replica is optional replica, if known.
	Identity   *core.ReplicaIdentity `json:"identity,omitempty"`   // Identity is optional verified replica identity, if known.
}

// Logger is an abstract log interface for the client.
//
// Multiple goroutines may invoke methods on a Logger simultaneously.
type Logger interface {
	Info(record *LogRecord)
	Warn(record *LogRecord)
	Error(record *LogRecord)
}

// TODO make the log output less awful to read by humans and machines.
type stdlibLogShim struct{}

type errorPayload struct {
	Type  string `json:"type,omitempty"`  // Type is the error type
	Error string `json:"error,omitempty"` // Error is the error message
}

func asErrorPayload(err error) *errorPayload {
	if err == nil {
		return nil
	}
	return &errorPayload{
		Type:  fmt.Sprintf("%T", err),
		Error: err.Error(),
	}
}

type recordPayload struct {
	Msg        string                `json:"msg,omitempty"`
	Error      *errorPayload         `json:"error,omitempty"`
	Details    any                   `json:"details,omitempty"`
	StackTrace string                `json:"stacktrace,omitempty"`
	ShardID    *core.ShardID         `json:"shardid,omitempty"`
	Replica    *core.Replica         `json:"replica,omitempty"`
	Identity   *core.ReplicaIdentity `json:"identity,omitempty"`
	Level      string                `json:"level,omitempty"`
}

func logRecordAsSemiJSON(level string, record *LogRecord) {
	var payload recordPayload
	payload.Level = level
	if record != nil {
		payload.Msg = record.Msg
		payload.Error = asErrorPayload(record.Error)
		payload.Details = record.Details
		payload.StackTrace = record.StackTrace
		payload.ShardID = record.ShardID
		payload.Replica = record.Replica
		payload.Identity = record.Identity
	}

	data, _ := json.Marshal(&payload)

	// TODO put the timestamps in the JSON as well.
	log.Println(string(data))
}

func (s *stdlibLogShim) Info(record *LogRecord) {
	logRecordAsSemiJSON("info", record)
}

func (s *stdlibLogShim) Warn(record *LogRecord) {
	logRecordAsSemiJSON("warn", record)
}

func (s *stdlibLogShim) Error(record *LogRecord) {
	logRecordAsSemiJSON("error", record)
}

// GetDefaultLogger returns the default Logger.
func GetDefaultLogger() Logger {
	return &stdlibLogShim{}
}

// RecordingLogger captures all logged events in memory.
// It is designed for use as a test fixture.
type RecordingLogger struct {
	Events []Event
}

type Event struct {
	Level string
	*LogRecord
}

func (l *RecordingLogger) Info(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "info", LogRecord: record})
}

func (l *RecordingLogger) Warn(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "warn", LogRecord: record})
}

func (l *RecordingLogger) Error(record *LogRecord) {
	l.Events = append(l.Events, Event{Level: "error", LogRecord: record})
}

// VoidLogger discards all log records. Useful in tests that don't want
// log noise but don't need to inspect events either.
type VoidLogger struct{}

func (VoidLogger) Info(record *LogRecord)  {}
func (VoidLogger) Warn(record *LogRecord)  {}
func (VoidLogger) Error(record *LogRecord) {}

var _ Logger = (*RecordingLogger)(nil) // type check
var _ Logger = VoidLogger{}            // type check
