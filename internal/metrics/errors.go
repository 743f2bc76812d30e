package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/torosent/tankwatch/internal/store"
	"github.com/torosent/tankwatch/internal/wire"
)

// Failure labels used in Stats.Errors.
const (
	LabelSchemaMismatch = "Schema mismatch"
	LabelMalformed      = "Malformed message"
	LabelTimeout        = "Timeout"
	LabelCanceled       = "Canceled"
	LabelUnknown        = "Unknown error"
)

// ErrorLabel maps an ingest failure to the label it is counted under.
// Unclassified errors are named after their innermost type, e.g. "url.Error".
func ErrorLabel(err error) string {
	var mismatch *store.SchemaMismatchError
	switch {
	case err == nil:
		return LabelUnknown
	case errors.As(err, &mismatch):
		return LabelSchemaMismatch
	case errors.Is(err, wire.ErrMalformed), errors.Is(err, store.ErrMalformedBatch):
		return LabelMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return LabelTimeout
	case errors.Is(err, context.Canceled):
		return LabelCanceled
	}
	return typeLabel(err)
}

func typeLabel(err error) string {
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if name == "errors.errorString" {
		return "Error"
	}
	return name
}
