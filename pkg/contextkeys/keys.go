package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for storing and retrieving a request ID.
	RequestIDKey contextKey = "request_id"

	// TabIDKey identifies the session store (tab) that issued an operation.
	TabIDKey contextKey = "tab_id"

	// UserIDKey is the context key for the id of the logged-in user.
	UserIDKey contextKey = "user_id"

	// OperationKey names the store operation being executed, e.g. "bootstrap".
	OperationKey contextKey = "operation"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}
