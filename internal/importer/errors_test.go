package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/tabimport/internal/dataset"
	"github.com/JonMunkholm/tabimport/internal/reflection"
	"github.com/JonMunkholm/tabimport/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil", nil, ""},
		{"job not found", fmt.Errorf("%w: 123", ErrJobNotFound), "IMP001"},
		{"log not found", ErrLogNotFound, "IMP002"},
		{"unknown model", fmt.Errorf("%w: x.y", ErrUnknownModel), "IMP003"},
		{"not importable", ErrModelNotImportable, "IMP004"},
		{"bad options", fmt.Errorf("%w: eof", ErrInvalidOptions), "IMP005"},
		{"unknown reflection", reflection.ErrUnknownReflection, "IMP006"},
		{"unsupported format", fmt.Errorf("%w: parquet", dataset.ErrUnsupportedFormat), "FILE002"},
		{"bad parameter", dataset.ErrInvalidParameter, "FILE003"},
		{"body too large", errors.New("http: request body too large"), "FILE001"},
		{"sqlite unique", fmt.Errorf("%w: UNIQUE constraint failed: auth_user.username", store.ErrConstraint), "DB001"},
		{"postgres unique", errors.New("duplicate key value violates unique constraint"), "DB001"},
		{"constraint", store.ErrConstraint, "DB003"},
		{"ambiguous identity", store.ErrMultipleObjects, "DB005"},
		{"busy", ErrTooManyRuns, "UPL001"},
		{"cancelled", context.Canceled, "UPL002"},
		{"deadline", context.DeadlineExceeded, "UPL003"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
	want := "System is busy processing other imports (Code: UPL001). Please wait a moment and try again"
	if got := FormatUserError(ErrTooManyRuns); got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("unmatched errors are not user facing")
	}
	if !IsUserFacing(ErrJobNotFound) {
		t.Error("ErrJobNotFound should be user facing")
	}
}
