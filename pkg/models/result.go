package models

// ResultCode classifies a lifecycle Result.
type ResultCode string

const (
	CodeOK              ResultCode = "ok"
	CodeAlreadyActive   ResultCode = "already_active"
	CodeAlreadyInactive ResultCode = "already_inactive"
	CodeValidation      ResultCode = "validation"
	CodeDependency      ResultCode = "dependency"
	CodeVersion         ResultCode = "version"
	CodeNotReady        ResultCode = "not_ready"
	CodePublish         ResultCode = "publish"
)

// Result is returned by every recoverable lifecycle branch. Fatal conditions are Go errors instead.
type Result struct {
	Error   bool       `json:"error"`
	Code    ResultCode `json:"code"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
}

func Success(message string) *Result {
	return &Result{Code: CodeOK, Message: message}
}

// Noop is a successful result signalling that nothing had to change.
func Noop(code ResultCode, message string) *Result {
	return &Result{Code: code, Message: message}
}

func Failure(code ResultCode, message string) *Result {
	return &Result{Error: true, Code: code, Message: message}
}
