package semver

import (
	"testing"
)

func TestParseInterfaceRef(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantType  string
		wantRange string
		wantErr   bool
	}{
		{name: "no version", input: "CMPI", wantType: "CMPI"},
		{name: "major only", input: "CMPI@2", wantType: "CMPI", wantRange: "2"},
		{name: "exact version", input: "C++Default@2.1.0", wantType: "C++Default", wantRange: "2.1.0"},
		{name: "comparison range", input: " CMPI@>=2.0.0 <3.0.0 ", wantType: "CMPI", wantRange: ">=2.0.0 <3.0.0"},
		{name: "empty range", input: "CMPI@", wantErr: true},
		{name: "empty type", input: "@2", wantErr: true},
		{name: "bad type", input: "2CMPI", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseInterfaceRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("semver:parser_test - expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("semver:parser_test - unexpected error: %v", err)
			}
			if ref.Type != tt.wantType {
				t.Errorf("semver:parser_test - expected type %q, got %q", tt.wantType, ref.Type)
			}
			if ref.Range != tt.wantRange {
				t.Errorf("semver:parser_test - expected range %q, got %q", tt.wantRange, ref.Range)
			}
		})
	}
}

func TestInterfaceRef_String(t *testing.T) {
	if got := (InterfaceRef{Type: "CMPI"}).String(); got != "CMPI" {
		t.Errorf("semver:parser_test - expected CMPI, got %s", got)
	}
	if got := (InterfaceRef{Type: "CMPI", Range: "^2.0.0"}).String(); got != "CMPI@^2.0.0" {
		t.Errorf("semver:parser_test - expected CMPI@^2.0.0, got %s", got)
	}
}

func TestRangeClassifiers(t *testing.T) {
	if !IsMajorOnly("2") || IsMajorOnly("2.0") {
		t.Error("semver:parser_test - IsMajorOnly misclassified")
	}
	if !IsExactVersion("2.0") || !IsExactVersion("2.1.3") || IsExactVersion("2") || IsExactVersion("^2.0.0") {
		t.Error("semver:parser_test - IsExactVersion misclassified")
	}
	if got := ExtractMajorFromRange("3"); got != 3 {
		t.Errorf("semver:parser_test - expected 3, got %d", got)
	}
	if got := ExtractMajorFromRange("^3.0.0"); got != -1 {
		t.Errorf("semver:parser_test - expected -1, got %d", got)
	}
}
