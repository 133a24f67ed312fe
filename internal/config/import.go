package config

import (
	"fmt"
	"reflect"
	"slices"
)

// ImportDefaults returns the import settings declared by the struct tags,
// ignoring the environment.
func ImportDefaults() ImportConfig {
	var ic ImportConfig
	if err := loadStruct(reflect.ValueOf(&ic).Elem(), func(string) string { return "" }); err != nil {
		// tag defaults are compile-time constants
		panic(fmt.Sprintf("config: bad import default: %v", err))
	}
	return ic
}

// MergeImport layers overrides onto base. Set fields win, nil fields keep
// the base value. Neither argument is modified.
func MergeImport(base ImportConfig, o ImportOverrides) ImportConfig {
	out := base
	out.Models = slices.Clone(base.Models)
	out.Except = slices.Clone(base.Except)

	if o.Sync != nil {
		out.Sync = *o.Sync
	}
	if o.RowsReport != nil {
		out.RowsReport = *o.RowsReport
	}
	if o.StorageRoot != nil {
		out.StorageRoot = *o.StorageRoot
	}
	if o.UploadTo != nil {
		out.UploadTo = *o.UploadTo
	}
	if o.MaxFileSize != nil {
		out.MaxFileSize = *o.MaxFileSize
	}
	if o.MaxConcurrent != nil {
		out.MaxConcurrent = *o.MaxConcurrent
	}
	if o.MaxWaitTime != nil {
		out.MaxWaitTime = *o.MaxWaitTime
	}
	if o.RunTimeout != nil {
		out.RunTimeout = *o.RunTimeout
	}
	if o.LookupCache != nil {
		out.LookupCache = *o.LookupCache
	}
	if o.Models != nil {
		out.Models = slices.Clone(o.Models)
	}
	if o.Except != nil {
		out.Except = slices.Clone(o.Except)
	}
	if o.WatchDir != nil {
		out.WatchDir = *o.WatchDir
	}
	return out
}

func (ic ImportConfig) validate() []string {
	var errs []string
	if ic.RowsReport <= 0 {
		errs = append(errs, "IMPORT_ROWS_REPORT must be positive")
	}
	if ic.UploadTo == "" {
		errs = append(errs, "IMPORT_UPLOAD_TO must not be empty")
	}
	if ic.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if ic.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if ic.MaxWaitTime <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT_TIME must be positive")
	}
	if ic.RunTimeout < 0 {
		errs = append(errs, "IMPORT_RUN_TIMEOUT must be non-negative")
	}
	for _, key := range ic.Except {
		if slices.Contains(ic.Models, key) {
			errs = append(errs, fmt.Sprintf("model %s is listed in both IMPORT_MODELS and IMPORT_EXCEPT", key))
		}
	}
	return errs
}
