// Package apierr defines the error taxonomy shared by every client component.
//
// Errors fall into five kinds. Validation errors are produced locally before any
// network call and carry per-field messages. Connectivity, API and unknown errors
// surface as a single global message near the triggering view. AuthExpired is never
// shown: it forces the session back to the unauthenticated state.
package apierr

import (
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// Kind classifies a client error.
type Kind int

const (
	// KindUnknown is the fallback for unstructured or network-level failures.
	KindUnknown Kind = iota
	// KindValidation is a field-scoped, pre-network failure.
	KindValidation
	// KindConnectivity means the client has no network connectivity.
	KindConnectivity
	// KindAPI carries a structured message extracted from the server response.
	KindAPI
	// KindAuthExpired is a 401-equivalent response to an authenticated call.
	KindAuthExpired
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConnectivity:
		return "connectivity"
	case KindAPI:
		return "api"
	case KindAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// User-visible fallback messages.
const (
	MsgConnectivity   = "Please check your internet connection"
	MsgUnknown        = "An unexpected error occurred. Please try again later."
	MsgNotLoggedIn    = "User is not logged in"
	MsgSessionExpired = "Session expired, please log in again"
)

// Error is a normalized client failure.
type Error struct {
	Kind    Kind
	Message string
	// Status is the HTTP status code, zero when no response was received.
	Status int
	// Fields holds server-side field errors when the response carried them.
	Fields map[string]string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

// Unwrap returns the underlying transport or decoding error, if any.
func (e *Error) Unwrap() error { return e.cause }

// Connectivity returns a ConnectivityError wrapping cause.
func Connectivity(cause error) *Error {
	return &Error{Kind: KindConnectivity, Message: MsgConnectivity, cause: cause}
}

// Unknown returns an UnknownError with the given user-visible message.
func Unknown(msg string, cause error) *Error {
	if msg == "" {
		msg = MsgUnknown
	}
	return &Error{Kind: KindUnknown, Message: msg, cause: cause}
}

// API returns an ApiError carrying the server message.
func API(status int, msg string, fields map[string]string) *Error {
	return &Error{Kind: KindAPI, Status: status, Message: msg, Fields: fields}
}

// AuthExpired returns an AuthExpired error.
func AuthExpired(msg string) *Error {
	if msg == "" {
		msg = MsgSessionExpired
	}
	return &Error{Kind: KindAuthExpired, Status: 401, Message: msg}
}

// KindOf reports the kind of err. Validation errors are recognized too.
func KindOf(err error) Kind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsAuthExpired reports whether err is a 401-equivalent failure.
func IsAuthExpired(err error) bool {
	return err != nil && KindOf(err) == KindAuthExpired
}

// Banner returns the single global message to display for err. The second result
// is false when nothing should be shown globally: validation errors are rendered
// per field and AuthExpired is handled by logging out.
func Banner(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "", false
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindAuthExpired {
			return "", false
		}
		if e.Message == "" {
			return MsgUnknown, true
		}
		return e.Message, true
	}
	return MsgUnknown, true
}

// ValidationError collects field-scoped failures detected before any network call.
type ValidationError struct {
	Fields map[string]string
}

// Add records msg for field unless the field already has a message.
func (v *ValidationError) Add(field, msg string) {
	if v.Fields == nil {
		v.Fields = make(map[string]string)
	}
	if _, ok := v.Fields[field]; !ok {
		v.Fields[field] = msg
	}
}

// Field returns the message recorded for field.
func (v *ValidationError) Field(field string) string {
	return v.Fields[field]
}

// Empty reports whether no field failed.
func (v *ValidationError) Empty() bool { return len(v.Fields) == 0 }

// Err returns v as an error, or nil when no field failed.
func (v *ValidationError) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("validation failed")
	for i, k := range keys {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v.Fields[k])
	}
	return b.String()
}
