package schema

// ErrorResponse represents a standard error payload.
type ErrorResponse struct {
	Detail string  `json:"detail" msgpack:"detail"`
	Kind   string  `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Issues []Issue `json:"issues,omitempty" msgpack:"issues,omitempty"`
}

// HealthResponse represents the health check response payload.
type HealthResponse struct {
	Status  string `json:"status" msgpack:"status"`
	Version string `json:"version,omitempty" msgpack:"version,omitempty"`
}
