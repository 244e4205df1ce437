package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldIdentity      = "identity"
	FieldUserID        = "user_id"
	FieldTxID          = "tx_id"
	FieldProvisionalID = "provisional_id"
	FieldTxType        = "tx_type"
	FieldAmount        = "amount"
	FieldCategory      = "category"
	FieldCount         = "count"
	FieldTier          = "tier"
	FieldEpoch         = "epoch"
	FieldEventType     = "event_type"
	FieldAttempt       = "attempt"
	FieldBackend       = "backend"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentSession    = "session"
	ComponentRemote     = "remote"
	ComponentLocal      = "local_ledger"
	ComponentReconciler = "reconciler"
	ComponentStore      = "store"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentMirror     = "mirror"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentAssistant  = "assistant"
	ComponentRateLimit  = "rate_limit"
	ComponentBackend    = "backend"
	ComponentDevServer  = "devserver"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpCommit   = "commit"
	OpRollback = "rollback"
	OpDelete   = "delete"
	OpList     = "list"
	OpReload   = "reload"
	OpStats    = "stats"
	OpLogin    = "login"
	OpRegister = "register"
	OpRefresh  = "refresh"
	OpLogout   = "logout"
	OpRestore  = "restore"
	OpPersist  = "persist"
	OpPublish  = "publish"
	OpAppend   = "append"
	OpParse    = "parse"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTransaction adds the identifying fields of a ledger entry
func (f LogFields) WithTransaction(id, typ, category, amount string) LogFields {
	f[FieldTxID] = id
	f[FieldTxType] = typ
	f[FieldCategory] = category
	f[FieldAmount] = amount
	return f
}

// WithHTTP adds request and response fields
func (f LogFields) WithHTTP(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
