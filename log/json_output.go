package log

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/sagernet/sing/common"
)

var _ Output = (*JSONOutput)(nil)

// JSONOutput formats logs as JSON
type JSONOutput struct {
	writer   io.Writer
	encoder  *json.Encoder
	file     *os.File
	filePath string
	hostname string
	version  string
}

// NewJSONOutput creates a new JSON output
func NewJSONOutput(writer io.Writer, filePath, hostname, version string) Output {
	output := &JSONOutput{
		writer:   writer,
		filePath: filePath,
		hostname: hostname,
		version:  version,
	}
	if writer != nil {
		output.encoder = json.NewEncoder(writer)
	}
	return output
}

// Start opens the file if this is a file output
func (o *JSONOutput) Start() error {
	if o.filePath != "" && o.writer == nil {
		file, err := os.OpenFile(o.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		o.file = file
		o.writer = file
		o.encoder = json.NewEncoder(file)
	}
	return nil
}

// Write writes a JSON-formatted log entry
func (o *JSONOutput) Write(entry LogEntry) error {
	if o.encoder == nil {
		return nil
	}

	doc := o.buildJSONDocument(entry)
	return o.encoder.Encode(doc)
}

// Close flushes and closes the output
func (o *JSONOutput) Close() error {
	return common.Close(common.PtrOrNil(o.file))
}

// buildJSONDocument builds a JSON document from a LogEntry
func (o *JSONOutput) buildJSONDocument(entry LogEntry) map[string]interface{} {
	doc := make(map[string]interface{})

	// Top-level fields
	doc["@timestamp"] = entry.Timestamp.UTC().Format(time.RFC3339Nano)
	doc["level"] = FormatLevel(entry.Level)
	doc["message"] = entry.Message
	if entry.Tag != "" {
		doc["tag"] = entry.Tag
	}

	// Query info
	if entry.QueryID != 0 {
		query := make(map[string]interface{})
		query["id"] = entry.QueryID
		if entry.QueryDuration > 0 {
			query["duration_ms"] = entry.QueryDuration.Milliseconds()
		}

		// Source
		if sourceIP, ok := entry.Metadata["source_ip"]; ok {
			source := make(map[string]interface{})
			source["ip"] = sourceIP
			if sourcePort, ok := entry.Metadata["source_port"]; ok {
				source["port"] = sourcePort
			}
			query["source"] = source
		}

		doc["query"] = query
	}

	// Location constraint
	constraint := make(map[string]interface{})
	if kind, ok := entry.Metadata["constraint_kind"]; ok {
		constraint["kind"] = kind
	}
	if country, ok := entry.Metadata["constraint_country"]; ok {
		constraint["country"] = country
	}
	if city, ok := entry.Metadata["constraint_city"]; ok {
		constraint["city"] = city
	}
	if hostname, ok := entry.Metadata["constraint_hostname"]; ok {
		constraint["hostname"] = hostname
	}
	if len(constraint) > 0 {
		doc["constraint"] = constraint
	}

	// Selection
	selection := make(map[string]interface{})
	if strategy, ok := entry.Metadata["strategy"]; ok {
		selection["strategy"] = strategy
	}
	if key, ok := entry.Metadata["selection_key"]; ok {
		selection["key"] = key
	}
	if attempt, ok := entry.Metadata["attempt"]; ok {
		selection["attempt"] = attempt
	}
	if relay, ok := entry.Metadata["selected_relay"]; ok {
		selection["relay"] = relay
	}
	if len(selection) > 0 {
		doc["selection"] = selection
	}

	// Host info
	host := make(map[string]interface{})
	if o.hostname != "" {
		host["hostname"] = o.hostname
	}
	if o.version != "" {
		host["version"] = o.version
	}
	if len(host) > 0 {
		doc["host"] = host
	}

	// Structured event data (resolve, selection, list update, probe)
	if entry.Event != nil {
		event := make(map[string]interface{})
		event["type"] = string(entry.Event.Type)

		// Include event-specific data
		if entry.Event.Data != nil {
			for k, v := range entry.Event.Data {
				event[k] = v
			}
		}

		doc["event"] = event
	}

	return doc
}
