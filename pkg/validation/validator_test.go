package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

func TestValidateBlobRef(t *testing.T) {
	tests := []struct {
		name        string
		ref         BlobRef
		expectError bool
		errorField  string
	}{
		{
			name:        "Valid reference",
			ref:         BlobRef{Partition: "nvs", Namespace: "wifi", Key: "ssid"},
			expectError: false,
		},
		{
			name:        "Maximum length names",
			ref:         BlobRef{Partition: strings.Repeat("p", 16), Namespace: strings.Repeat("n", 15), Key: strings.Repeat("k", 15)},
			expectError: false,
		},
		{
			name:        "Missing partition",
			ref:         BlobRef{Namespace: "wifi", Key: "ssid"},
			expectError: true,
			errorField:  "Partition",
		},
		{
			name:        "Missing key",
			ref:         BlobRef{Partition: "nvs", Namespace: "wifi"},
			expectError: true,
			errorField:  "Key",
		},
		{
			name:        "Namespace too long",
			ref:         BlobRef{Partition: "nvs", Namespace: strings.Repeat("n", 16), Key: "ssid"},
			expectError: true,
			errorField:  "Namespace",
		},
		{
			name:        "Key with slash",
			ref:         BlobRef{Partition: "nvs", Namespace: "wifi", Key: "a/b"},
			expectError: true,
			errorField:  "Key",
		},
		{
			name:        "Partition with space",
			ref:         BlobRef{Partition: "my nvs", Namespace: "wifi", Key: "ssid"},
			expectError: true,
			errorField:  "Partition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBlobRef(&tt.ref)
			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !errors.Is(err, status.ErrInvalidArgument) {
					t.Errorf("Expected ErrInvalidArgument, got %v", err)
				}
				if tt.errorField != "" && !strings.Contains(err.Error(), tt.errorField) {
					t.Errorf("Expected error to mention %q, got %v", tt.errorField, err)
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestValidateBlobRef_Nil(t *testing.T) {
	if err := ValidateBlobRef(nil); !errors.Is(err, status.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil ref, got %v", err)
	}
	if err := ValidateNamespaceRef(nil); !errors.Is(err, status.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil ref, got %v", err)
	}
}

func TestValidateNamespaceRef(t *testing.T) {
	if err := ValidateNamespaceRef(&NamespaceRef{Partition: "nvs", Namespace: "boot"}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if err := ValidateNamespaceRef(&NamespaceRef{Partition: "nvs"}); err == nil {
		t.Error("Expected error for missing namespace")
	}
}

func TestValidatePartitionName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"simple", "nvs", true},
		{"dashes and dots", "nvs-key.v2", true},
		{"empty", "", false},
		{"too long", strings.Repeat("x", 17), false},
		{"slash", "a/b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePartitionName(tt.input)
			if tt.valid && err != nil {
				t.Errorf("Expected %q to be valid, got %v", tt.input, err)
			}
			if !tt.valid && !errors.Is(err, status.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument for %q, got %v", tt.input, err)
			}
		})
	}
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name        string
		size, limit int
		expectError bool
	}{
		{"Zero", 0, 100, false},
		{"At limit", 100, 100, false},
		{"Over limit", 101, 100, true},
		{"Negative", -1, 100, true},
		{"Unbounded", 1 << 20, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.size, tt.limit)
			if tt.expectError && !errors.Is(err, status.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestStruct_FormatsTags(t *testing.T) {
	type sample struct {
		Level string `validate:"oneof=debug info"`
		Units int    `validate:"gt=1"`
	}

	err := Struct(&sample{Level: "debug", Units: 1})
	if err == nil || !strings.Contains(err.Error(), "greater than 1") {
		t.Errorf("Expected gt message, got %v", err)
	}

	err = Struct(&sample{Level: "trace", Units: 4})
	if err == nil || !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("Expected oneof message, got %v", err)
	}

	if err := Struct(&sample{Level: "info", Units: 4}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
