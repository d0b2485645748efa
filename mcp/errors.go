package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

type errorCode string

const (
	codeNotFound   errorCode = "not_found"
	codeValidation errorCode = "validation"
	codeInternal   errorCode = "internal"
)

// toolError is the JSON payload every failing tool call carries, so agents
// can branch on the code instead of parsing prose.
type toolError struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

func errorResult(code errorCode, message string) *mcp.CallToolResult {
	data, _ := json.Marshal(toolError{Code: code, Message: message})
	return mcp.NewToolResultError(string(data))
}

func notFound(resource, id string) *mcp.CallToolResult {
	return errorResult(codeNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

func validationError(msg string) *mcp.CallToolResult {
	return errorResult(codeValidation, msg)
}

func internalError(err error) *mcp.CallToolResult {
	return errorResult(codeInternal, err.Error())
}
