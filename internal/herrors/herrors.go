// Package herrors provides the unified error taxonomy surfaced by the
// Hermes core: package validation, module execution, queue backpressure,
// timeouts, shutdown, and the document-sync wire protocol each report a
// distinct Kind so callers can classify failures without string matching.
package herrors

import "fmt"

// Kind is a unique taxonomy entry.
type Kind string

const (
	KindPackageInvalid Kind = "package-invalid"
	KindModuleTrap      Kind = "module-trap"
	KindHostCallError   Kind = "host-call-error"
	KindBackpressure    Kind = "backpressure"
	KindTimeout         Kind = "timeout"
	KindShutdown        Kind = "shutdown"
	KindProtocolError   Kind = "protocol-error"
	KindFetchFailed     Kind = "fetch-failed"
)

// HermesError is a structured error carrying a taxonomy Kind, a message,
// optional subcode/details, and the wrapped cause.
type HermesError struct {
	Kind    Kind
	Message string
	Subcode string
	Details map[string]interface{}
	Err     error
}

func (e *HermesError) Error() string {
	if e.Subcode != "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Subcode, e.Message, e.Err)
		}
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Subcode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *HermesError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair for observability and returns e.
func (e *HermesError) WithDetails(key string, value interface{}) *HermesError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds a HermesError with no wrapped cause.
func New(kind Kind, message string) *HermesError {
	return &HermesError{Kind: kind, Message: message}
}

// Wrap builds a HermesError around an existing error.
func Wrap(kind Kind, message string, err error) *HermesError {
	return &HermesError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	for err != nil {
		if he, ok := err.(*HermesError); ok {
			return he.Kind == kind
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// PackageInvalid — §4.2 validation failure modes.
func PackageInvalid(reason, path string) *HermesError {
	return New(KindPackageInvalid, "package failed validation").
		WithDetails("reason", reason).
		WithDetails("path", path)
}

func MalformedStructure(path string) *HermesError {
	return PackageInvalid("malformed-structure", path)
}

func SchemaViolation(path string, err error) *HermesError {
	return Wrap(KindPackageInvalid, "schema-violation", err).WithDetails("path", path)
}

func DigestMismatch(path string) *HermesError {
	return PackageInvalid("digest-mismatch", path)
}

func UntrustedSigner(certID string) *HermesError {
	return PackageInvalid("untrusted-signer", "").WithDetails("certificate_id", certID)
}

func SignatureInvalid(path string, err error) *HermesError {
	return Wrap(KindPackageInvalid, "signature-invalid", err).WithDetails("path", path)
}

func MissingRequiredFile(path string) *HermesError {
	return PackageInvalid("missing-required-file", path)
}

// ModuleTrap — §4.4 call-isolated guest failure.
func ModuleTrap(module, event string, err error) *HermesError {
	return Wrap(KindModuleTrap, "module trapped during call", err).
		WithDetails("module", module).
		WithDetails("event", event)
}

// HostCallError — §4.3 extension-reported failure, with an extension subcode.
func HostCallError(extension, subcode string, err error) *HermesError {
	e := Wrap(KindHostCallError, "host capability call failed", err).WithDetails("extension", extension)
	e.Subcode = subcode
	return e
}

// Backpressure — §4.5 queue at capacity.
func Backpressure(queueDepth int) *HermesError {
	return New(KindBackpressure, "event queue at capacity").WithDetails("queue_depth", queueDepth)
}

// Timeout — §4.4/§5 call exceeded its deadline.
func Timeout(module, event string) *HermesError {
	return New(KindTimeout, "call exceeded its deadline").
		WithDetails("module", module).
		WithDetails("event", event)
}

// Shutdown — §4.5 call interrupted by engine shutdown.
func Shutdown() *HermesError {
	return New(KindShutdown, "interrupted by engine shutdown")
}

// ProtocolError — §4.7 document-sync envelope/encoding violation.
func ProtocolError(topic, reason string) *HermesError {
	return New(KindProtocolError, reason).WithDetails("topic", topic)
}

// FetchFailed — §4.7 content unreachable after retries.
func FetchFailed(cid string, err error) *HermesError {
	return Wrap(KindFetchFailed, "content unreachable after retries", err).WithDetails("cid", cid)
}
