package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/context-engine/pkg/logging"
)

// MCP call outcomes recorded in the "outcome" log field.
const (
	mcpOutcomeOK        = "ok"
	mcpOutcomeToolError = "tool_error"
	mcpOutcomeRPCError  = "rpc_error"
)

// MCPRequestLogger logs one line per MCP JSON-RPC call once the response is
// written. Tool arguments are sanitized: secrets are redacted and questions
// truncated. Pass nil logger to disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					logger.Warn("MCP request too large", zap.Int64("limit", tooLarge.Limit))
					http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				logger.Warn("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			call := parseMCPCall(body)
			tee := &teeResponseWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(tee, r)

			fields := append(call.fields(), zap.Duration("duration", time.Since(start)))
			outcome, rpcErr := mcpOutcome(tee.body.Bytes())
			fields = append(fields, zap.String("outcome", outcome))

			switch outcome {
			case mcpOutcomeRPCError:
				fields = append(fields, zap.Int("error_code", rpcErr.Code), zap.String("error_message", rpcErr.Message))
				logger.Warn("MCP call failed", fields...)
			default:
				logger.Debug("MCP call", fields...)
			}
		})
	}
}

type mcpCall struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

func parseMCPCall(body []byte) mcpCall {
	var call mcpCall
	_ = json.Unmarshal(body, &call)
	return call
}

func (c mcpCall) fields() []zap.Field {
	fields := []zap.Field{zap.String("method", c.Method)}
	if c.Params.Name == "" {
		return fields
	}
	fields = append(fields, zap.String("tool", c.Params.Name))
	if cid, ok := c.Params.Arguments["customer_id"].(string); ok {
		fields = append(fields, zap.String("customer_id", cid))
	}
	return append(fields, zap.Any("arguments", sanitizeArguments(c.Params.Arguments)))
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpOutcome classifies a JSON-RPC response. Tool failures travel inside a
// successful result with isError set. Bodies that are not JSON (SSE streams,
// empty notifications acks) count as ok.
func mcpOutcome(body []byte) (string, *rpcError) {
	var resp struct {
		Result struct {
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *rpcError `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return mcpOutcomeOK, nil
	}
	switch {
	case resp.Error != nil:
		return mcpOutcomeRPCError, resp.Error
	case resp.Result.IsError:
		return mcpOutcomeToolError, nil
	default:
		return mcpOutcomeOK, nil
	}
}

// teeResponseWriter keeps a copy of the response body.
type teeResponseWriter struct {
	http.ResponseWriter
	body bytes.Buffer
}

func (w *teeResponseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

var sensitiveKeywords = []string{"password", "secret", "token", "key", "credential"}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

// sanitizeArguments redacts sensitive fields and truncates strings.
func sanitizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		switch s, isString := v.(string); {
		case isSensitiveKey(k):
			out[k] = logging.RedactedText
		case isString:
			out[k] = logging.SanitizeQuestion(s)
		default:
			out[k] = v
		}
	}
	return out
}
