package content

import "errors"

// Failure kinds shared by the editor and experiment pipelines. Callers wrap
// them with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrMissingConfig means the page carries no page identifier. Init
	// aborts with a diagnostic only.
	ErrMissingConfig = errors.New("missing page configuration")

	// ErrFetch covers transport failures and non-2xx replies on any read.
	ErrFetch = errors.New("fetch failed")

	// ErrSave is surfaced to the operator and is recoverable by retry.
	ErrSave = errors.New("save failed")

	// ErrConversion is best-effort and never surfaced to visitors.
	ErrConversion = errors.New("conversion failed")
)
