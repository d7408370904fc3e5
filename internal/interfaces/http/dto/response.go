package dto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/erp/datacore/internal/infrastructure/persistence/dynamic"
)

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// QueryRequest is the body of a collection query
type QueryRequest struct {
	Filter    json.RawMessage `json:"filter"`
	Sort      SortSpec        `json:"sort"`
	Limit     int             `json:"limit" binding:"min=0,max=1000"`
	Offset    int             `json:"offset" binding:"min=0"`
	WithTotal bool            `json:"with_total"`
}

// ListQuery carries the query-string form of a collection read
type ListQuery struct {
	Filter    string `form:"filter"`
	Sort      string `form:"sort"`
	Limit     int    `form:"limit" binding:"min=0,max=1000"`
	Offset    int    `form:"offset" binding:"min=0"`
	WithTotal bool   `form:"with_total"`
}

// SortSpec accepts either "nombre,-saldo" or ["nombre", "-saldo"]
type SortSpec []string

// UnmarshalJSON implements json.Unmarshaler
func (s *SortSpec) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = splitSort(one)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("sort must be a string or a list of strings")
	}
	*s = many
	return nil
}

// Fields parses the sort value into sort fields
func (s SortSpec) Fields() ([]dynamic.SortField, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return dynamic.ParseSort(strings.Join(s, ","))
}

// SortFromQuery parses the query-string sort parameter
func SortFromQuery(raw string) SortSpec {
	return splitSort(raw)
}

func splitSort(raw string) SortSpec {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// QueryResponse is a page of documents
type QueryResponse struct {
	Items  []map[string]any `json:"items"`
	Total  *int64           `json:"total,omitempty"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// TenantResponse is the public view of a tenant record
type TenantResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Platform bool   `json:"platform"`
	Active   bool   `json:"active"`
}

// PoolStatsResponse reports pool occupancy and counters
type PoolStatsResponse struct {
	Size         int   `json:"size"`
	InUse        int   `json:"in_use"`
	Idle         int   `json:"idle"`
	Dialing      int   `json:"dialing"`
	MaxSize      int   `json:"max_size"`
	Dials        int64 `json:"dials"`
	DialFailures int64 `json:"dial_failures"`
	Evictions    int64 `json:"evictions"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
}
