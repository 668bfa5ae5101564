package core

// Source records which resolution layer produced a tool result.
type Source string

const (
	// SourceContext means the caller supplied the value with the request.
	SourceContext Source = "frontend-context"
	// SourceCache means the value came from the server-side tool cache.
	SourceCache Source = "cache"
	// SourceLive means the underlying tool function was invoked.
	SourceLive Source = "live"
)

// ToolResult is the uniform outcome of a tool invocation. Failures are
// encoded, never raised: a failed result travels back to the model as a tool
// turn so it can adapt its answer.
type ToolResult struct {
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
	Source  Source `json:"source,omitempty"`
}

// SuccessResult wraps a payload with its provenance.
func SuccessResult(payload any, source Source) ToolResult {
	return ToolResult{OK: true, Payload: payload, Source: source}
}

// FailureResult encodes a failure reason.
func FailureResult(message string) ToolResult {
	return ToolResult{OK: false, Error: message}
}

// Response converts the result into the FunctionResponse fed back to the
// model for the given call.
func (r ToolResult) Response(callID, name string) FunctionResponse {
	fr := FunctionResponse{ID: callID, Name: name}
	if r.OK {
		fr.Response = r.Payload
	} else {
		fr.Error = r.Error
	}
	return fr
}
