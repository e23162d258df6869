package mobile

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity int

const (
	// SeverityDebug is informational, logged in debug mode only.
	SeverityDebug ErrorSeverity = iota
	// SeverityWarning is non-critical, the SDK keeps going.
	SeverityWarning
	// SeverityCritical needs the app's attention (e.g. offer a retry).
	SeverityCritical
	// SeverityFatal means the SDK cannot operate until Init succeeds.
	SeverityFatal
)

// Error codes delivered to ErrorCallback.
const (
	ErrCodeNotInitialized = "NOT_INITIALIZED"
	ErrCodeInvalidConfig  = "INVALID_CONFIG"
	ErrCodeInvalidJSON    = "INVALID_JSON"
	ErrCodeStorage        = "STORAGE_ERROR"
	ErrCodeInitFailed     = "INIT_FAILED"
	ErrCodeNoPlatform     = "NO_PLATFORM"
)

// SDKError represents a structured error with severity and code.
type SDKError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Severity ErrorSeverity `json:"severity"`
}

// Error implements the error interface.
func (e *SDKError) Error() string {
	return e.Message
}

func newWarningError(code, message string) *SDKError {
	return &SDKError{Code: code, Message: message, Severity: SeverityWarning}
}

func newCriticalError(code, message string) *SDKError {
	return &SDKError{Code: code, Message: message, Severity: SeverityCritical}
}

func newFatalError(code, message string) *SDKError {
	return &SDKError{Code: code, Message: message, Severity: SeverityFatal}
}
