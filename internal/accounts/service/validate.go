package service

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

const (
	requiredReason = "required"
	minPasswordLen = 8
)

var (
	reUsername = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	rePhone    = regexp.MustCompile(`^\+?[0-9][0-9 -]{5,19}$`)
)

// Validate checks field-level constraints on a registration
// request. Returns a map of field names to error messages, or nil if all
// fields are valid. Nothing is mutated on validation failure.
func (in RegistrationInput) Validate() map[string]string {
	errs := make(map[string]string)

	in.validateUsername(errs)
	in.validateEmail(errs)
	in.validatePassword(errs)
	in.validateProfile(errs)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (in RegistrationInput) validateUsername(errs map[string]string) {
	username := strings.TrimSpace(in.Username)
	switch {
	case username == "":
		errs["username"] = requiredReason
	case len(username) < 3 || len(username) > 32:
		errs["username"] = "must be 3-32 characters"
	case !reUsername.MatchString(username):
		errs["username"] = "must only contain a-z, A-Z, 0-9, _ or -"
	}
}

func (in RegistrationInput) validateEmail(errs map[string]string) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		errs["email"] = requiredReason
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		errs["email"] = "must be a valid email address"
	}
}

func (in RegistrationInput) validatePassword(errs map[string]string) {
	if reason := passwordComplexityReason(in.Password); reason != "" {
		errs["password"] = reason
		return
	}
	if in.Password != in.PasswordConfirm {
		errs["password_confirm"] = "does not match password"
	}
}

func (in RegistrationInput) validateProfile(errs map[string]string) {
	if strings.TrimSpace(in.FullName) == "" {
		errs["full_name"] = requiredReason
	}
	if phone := strings.TrimSpace(in.Phone); phone != "" && !rePhone.MatchString(phone) {
		errs["phone"] = "must be a valid phone number"
	}
}

// passwordComplexityReason returns a human-readable reason the password is
// too weak, or "" if it passes. Shared by registration and password reset so
// recovered passwords meet the same bar.
func passwordComplexityReason(pw string) string {
	if pw == "" {
		return requiredReason
	}
	if len(pw) < minPasswordLen {
		return "must be at least 8 characters"
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return "must contain upper case, lower case and digit characters"
	}
	return ""
}
