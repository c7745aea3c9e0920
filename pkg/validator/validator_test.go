package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type registerPayload struct {
	Username  string `json:"username" validate:"required,username,max=150"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Password2 string `json:"password2" validate:"required"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := registerPayload{
		Username:  "alice.smith+1",
		Email:     "alice@example.com",
		Password:  "Sup3rSecret!",
		Password2: "Sup3rSecret!",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := registerPayload{
		Username: "bad name",
		Email:    "invalid",
		Password: "short",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(vErrs) != 4 {
		t.Fatalf("expected 4 validation errors, got %d", len(vErrs))
	}

	details := vErrs.Details()
	if details["email"] != "enter a valid email address" {
		t.Fatalf("unexpected email message %q", details["email"])
	}
	if details["password"] != "must be at least 8 characters" {
		t.Fatalf("unexpected password message %q", details["password"])
	}
	if details["password2"] != "this field is required" {
		t.Fatalf("unexpected password2 message %q", details["password2"])
	}
	if _, ok := details["username"]; !ok {
		t.Fatal("expected username failure")
	}
}

func TestEmptyValidationErrorsHaveNoDetails(t *testing.T) {
	if ValidationErrors(nil).Details() != nil {
		t.Fatal("expected nil details")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "USER"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"role"`
	}

	if err := ValidateStruct(custom{Value: "USER"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
