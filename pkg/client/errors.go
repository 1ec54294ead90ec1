package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrZenAlreadyExists           = errors.New("zen already exists")
	ErrZenDoesNotExist            = errors.New("zen does not exist")
	ErrMissingParameters          = errors.New("missing parameters")
	ErrParametersMismatch         = errors.New("parameters mismatch")
	ErrUnsupportedParameterType   = errors.New("unsupported parameter type")
	ErrDatabaseDoesNotExist       = errors.New("database does not exist")
	ErrExecutionEngineUnavailable = errors.New("execution engine unavailable")
)

var errorCodes = map[string]error{
	"ZEN_ALREADY_EXISTS":           ErrZenAlreadyExists,
	"ZEN_DOES_NOT_EXIST":           ErrZenDoesNotExist,
	"MISSING_PARAMETERS":           ErrMissingParameters,
	"PARAMETERS_MISMATCH":          ErrParametersMismatch,
	"UNSUPPORTED_PARAMETER_TYPE":   ErrUnsupportedParameterType,
	"DATABASE_DOES_NOT_EXIST":      ErrDatabaseDoesNotExist,
	"EXECUTION_ENGINE_UNAVAILABLE": ErrExecutionEngineUnavailable,
}

// Response is a non-success answer from the backend, kept whole for
// diagnosis.
type Response struct {
	Method     string
	Path       string
	StatusCode int
	Code       string
	Message    string
	Context    map[string]any
	TraceID    string
	Body       []byte
}

func newResponse(method, path string, status int, body []byte) *Response {
	resp := &Response{Method: method, Path: path, StatusCode: status, Body: body}
	if status < 300 {
		return resp
	}

	var envelope struct {
		Detail       json.RawMessage `json:"detail"`
		ErrorCode    string          `json:"error_code"`
		ErrorMessage string          `json:"error_message"`
		Context      map[string]any  `json:"context"`
		TraceID      string          `json:"trace_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		resp.Message = strings.TrimSpace(string(body))
		return resp
	}
	resp.Code = envelope.ErrorCode
	resp.Context = envelope.Context
	resp.TraceID = envelope.TraceID
	switch {
	case len(envelope.Detail) > 0:
		resp.Message = flatDetail(envelope.Detail)
	case envelope.ErrorMessage != "":
		resp.Message = envelope.ErrorMessage
	default:
		resp.Message = strings.TrimSpace(string(body))
	}
	return resp
}

// flatDetail unwraps {"detail": "..."} envelopes. Non-string details are kept
// as their JSON text.
func flatDetail(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(bytes.TrimSpace(raw))
}

func (r *Response) decode(dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(r.Body))
	decoder.UseNumber()
	return decoder.Decode(dst)
}

func (r *Response) String() string {
	return fmt.Sprintf("%s %s -> %d code=%q message=%q trace_id=%q", r.Method, r.Path, r.StatusCode, r.Code, r.Message, r.TraceID)
}

// UncaughtBackendError is returned for every backend answer this client has
// no specific error for.
type UncaughtBackendError struct {
	Response *Response
	Zen      *Zen
	Context  string
}

func (e *UncaughtBackendError) Error() string {
	var b strings.Builder
	b.WriteString("uncaught error from the QueryZen backend, please report it with this whole message\n")
	b.WriteString("response: ")
	if e.Response != nil {
		b.WriteString(e.Response.String())
	} else {
		b.WriteString("<none>")
	}
	b.WriteString("\nzen: ")
	if e.Zen != nil {
		fmt.Fprintf(&b, "%s/%s version %s", e.Zen.Collection, e.Zen.Name, Version(e.Zen.Version))
	} else {
		b.WriteString("<none>")
	}
	b.WriteString("\ncontext: ")
	b.WriteString(e.Context)
	return b.String()
}

// classify maps the backend error code to a sentinel, falling back to the
// status code for servers that send no code.
func classify(resp *Response, z *Zen, operation string, byStatus map[int]error) error {
	if sentinel, ok := errorCodes[resp.Code]; ok {
		return &BackendError{Err: sentinel, Response: resp}
	}
	if resp.Code == "" {
		if sentinel, ok := byStatus[resp.StatusCode]; ok {
			return &BackendError{Err: sentinel, Response: resp}
		}
	}
	return &UncaughtBackendError{Response: resp, Zen: z, Context: operation}
}

// BackendError is a known backend failure. It matches its sentinel with
// errors.Is.
type BackendError struct {
	Err      error
	Response *Response
}

func (e *BackendError) Error() string {
	if e.Response == nil || e.Response.Message == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Response.Message
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Parameters returns the parameter names the backend reported, if any.
func (e *BackendError) Parameters() []string {
	if e.Response == nil {
		return nil
	}
	raw, ok := e.Response.Context["parameters"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(raw))
	for _, value := range raw {
		if name, ok := value.(string); ok {
			names = append(names, name)
		}
	}
	return names
}
