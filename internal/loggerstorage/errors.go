package loggerstorage

import "fmt"

// ConfigurationError reports invalid, missing, mutually inconsistent or
// unknown storage parameters. It is raised at construction time only,
// never in the middle of a read.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// FormatError reports malformed storage content: a bad timestamp,
// insufficient fields, out-of-order or overlapping timestamps, or a
// local time that does not exist because of a DST transition. It always
// carries the identity of the offending file and, when available, the
// offending line or record.
type FormatError struct {
	Path    string // file, directory or DSN the error originated in
	Line    string // offending line or record description, may be empty
	Message string
	Err     error // underlying cause, may be nil
}

func (e *FormatError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("%s: %q: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
