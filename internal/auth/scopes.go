package auth

// Known OAuth scopes used by the log agent and entries service.
const (
	ScopeEntriesWrite = "entries:write"
	ScopeEntriesRead  = "entries:read"
)
