package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes of the regsync binary.
const (
	ExitSuccess = 0
	// ExitFailure covers a failed engine run, a change request the store
	// refused and a failing scenario.
	ExitFailure = 1
	// ExitCommandError covers bad invocations: an unreadable config, a store
	// that cannot be opened, an unknown action or a malformed tag argument.
	ExitCommandError = 2
)

// ExitError pairs a command failure with the exit code main returns for it.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns a failure without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code and context to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to the process exit code. Errors that carry no
// ExitError, cobra's flag errors included, exit with ExitFailure.
func GetExitCode(err error) int {
	if exitErr := (*ExitError)(nil); errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Error codes carried in a JSON error envelope.
const (
	ErrCodeConfig  = "E001" // config or .env file unreadable or invalid
	ErrCodeStore   = "E002" // store could not be opened or read
	ErrCodeRequest = "E003" // change request rejected
)

// Envelope is the single JSON document every command prints with
// --format json. Data is set when Status is "ok", Error otherwise.
type Envelope struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError describes a failed command.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// TextRenderer is implemented by results with a multi-line text form, such
// as the status view and the scenario report.
type TextRenderer interface {
	RenderText(w io.Writer)
}

// Printer writes command results in the format picked with --format.
// Results go to Out; diagnostics go to Err so JSON on Out stays parseable.
type Printer struct {
	JSON    bool
	Out     io.Writer
	Err     io.Writer
	Verbose bool
}

// Result prints a command's result. In text mode a TextRenderer draws
// itself and anything else prints through its String form.
func (p *Printer) Result(v any) error {
	if p.JSON {
		return json.NewEncoder(p.Out).Encode(Envelope{Status: "ok", Data: v})
	}
	if r, ok := v.(TextRenderer); ok {
		r.RenderText(p.Out)
		return nil
	}
	_, err := fmt.Fprintln(p.Out, v)
	return err
}

// Fail reports err under code. In JSON mode it writes an error envelope so
// scripts always read one document. In text mode main prints the returned
// error, so only the details are written here, and only when verbose.
func (p *Printer) Fail(code string, err error, details any) {
	if p.JSON {
		_ = json.NewEncoder(p.Out).Encode(Envelope{
			Status: "error",
			Error:  &EnvelopeError{Code: code, Message: err.Error(), Details: details},
		})
		return
	}
	if p.Verbose && details != nil && p.Err != nil {
		fmt.Fprintf(p.Err, "[%s] details: %v\n", code, details)
	}
}
