package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorTypeString(t *testing.T) {
	tests := []struct {
		t    ErrorType
		want string
	}{
		{NotFound, "not_found"},
		{Validation, "validation"},
		{ModuleLoad, "module_load"},
		{ModuleContract, "module_contract"},
		{Storage, "storage"},
		{Unknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestEngineError_Message(t *testing.T) {
	err := NewNotFound("project", "42")
	msg := err.Error()
	if !strings.Contains(msg, "project 42") || !strings.Contains(msg, "not_found") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestEngineError_WrappingAndChecks(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewStorage("write findings", cause)

	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}

	wrapped := fmt.Errorf("saving: %w", NewNotFound("run", "abc"))
	if !IsNotFound(wrapped) {
		t.Error("IsNotFound() should see through wrapping")
	}
	if IsNotFound(cause) {
		t.Error("IsNotFound() matched a plain error")
	}
	if !IsValidation(NewValidation("name required")) {
		t.Error("IsValidation() = false")
	}
	if !IsModuleContract(NewModuleContract("m", "bad result shape")) {
		t.Error("IsModuleContract() = false")
	}
}

func TestGetErrorType(t *testing.T) {
	if got := GetErrorType(NewModuleLoad("x.tengo", "compile failed", nil)); got != ModuleLoad {
		t.Errorf("GetErrorType() = %v", got)
	}
	if got := GetErrorType(stderrors.New("plain")); got != Unknown {
		t.Errorf("GetErrorType() = %v", got)
	}
}
