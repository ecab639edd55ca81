package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// maxFrame bounds one request line.
const maxFrame = 4 * 1024 * 1024

// StdioTransport serves line-delimited JSON-RPC 2.0: one request per input
// line, one response per output line. Nothing but response frames may be
// written to out, so the transport logs to stderr.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport creates a transport reading from in and writing to out.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.New(os.Stderr, "twinrag-mcp: ", log.LstdFlags),
	}
}

// Serve handles requests in order until in reaches EOF or ctx is cancelled.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxFrame)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if isNotification(line) {
			// Notifications get no response frame.
			if _, err := t.server.HandleRequest(ctx, line); err != nil {
				t.logger.Printf("WARNING: notification: %v", err)
			}
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Printf("ERROR: handler: %v", err)
			resp = internalErrorResponse(line, err)
		}
		if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	t.logger.Println("input closed, shutting down")
	return nil
}

// isNotification reports whether a request carries no id.
func isNotification(line []byte) bool {
	var probe struct {
		ID *json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return false
	}
	return probe.ID == nil
}

// internalErrorResponse builds an error frame for a request the server could
// not answer, keeping its id when it can be recovered.
func internalErrorResponse(line []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(line, &partial)

	data, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: handlerErr.Error()},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
