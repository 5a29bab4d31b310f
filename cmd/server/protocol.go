// Package main provides a TCP SQL server for memodb: one SQL statement
// per line in, one JSON response per line out.
package main

import (
	"encoding/json"
)

// Request represents a SQL query from the client. Clients may also send a
// bare SQL line; it is treated as {"query": line}.
type Request struct {
	Query string `json:"query"`
	Token string `json:"token,omitempty"`
}

// Response represents the server's response to a query.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// QueryResponse contains tabular query results.
type QueryResponse struct {
	Columns      []string   `json:"columns"`
	Data         [][]string `json:"data"`
	AffectedRows int        `json:"affected_rows,omitempty"`
	TimeMs       float64    `json:"time_ms"`
}

// EncodeResponse serializes a Response to JSON with a newline.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a request line: JSON when it looks like JSON,
// otherwise the line is the query itself.
func DecodeRequest(line []byte) (Request, error) {
	if len(line) > 0 && line[0] == '{' {
		var req Request
		err := json.Unmarshal(line, &req)
		return req, err
	}
	return Request{Query: string(line)}, nil
}
