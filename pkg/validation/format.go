// Package validation provides common validation utilities.
package validation

import (
	"strings"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
	"github.com/iwvelando/loan-calculator/pkg/constants"
)

// OutputFormats lists the supported output formats.
var OutputFormats = []string{
	constants.OutputFormatPretty,
	constants.OutputFormatCSV,
	constants.OutputFormatJSON,
}

// ValidateOutputFormat checks that format is one of OutputFormats. The
// match is exact, so "JSON" is rejected.
func ValidateOutputFormat(format string) error {
	for _, f := range OutputFormats {
		if format == f {
			return nil
		}
	}
	return apperr.New(apperr.KindInvalidInput, "output format must be one of %s, got %q",
		strings.Join(OutputFormats, ", "), format)
}
