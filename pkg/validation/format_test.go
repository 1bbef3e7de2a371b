package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/iwvelando/loan-calculator/pkg/apperr"
)

func TestValidateOutputFormat(t *testing.T) {
	tests := map[string]bool{
		"pretty":   true,
		"csv":      true,
		"json":     true,
		"":         false,
		"PRETTY":   false,
		"JSON":     false,
		" pretty ": false,
		"xml":      false,
	}

	for format, valid := range tests {
		err := ValidateOutputFormat(format)
		switch {
		case valid && err != nil:
			t.Errorf("ValidateOutputFormat(%q) unexpected error = %v", format, err)
		case !valid && err == nil:
			t.Errorf("ValidateOutputFormat(%q) expected error but got none", format)
		case !valid && !errors.Is(err, apperr.ErrInvalidInput):
			t.Errorf("ValidateOutputFormat(%q) error kind = %v", format, apperr.KindOf(err))
		}
	}
}

func TestValidateOutputFormatErrorMessage(t *testing.T) {
	err := ValidateOutputFormat("yaml")
	if err == nil {
		t.Fatal("expected an error for yaml")
	}
	for _, want := range []string{`"yaml"`, "pretty, csv, json"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}
