package authsession

import (
	"context"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// MinPasswordLength is the shortest password SignupWithPassword accepts.
const MinPasswordLength = 8

// LoginWithPassword trims the email and logs in through repo. Empty input is
// rejected as invalid credentials without a request.
func LoginWithPassword(ctx context.Context, repo AuthRepository, email, password string, opts RequestOptions) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, AuthError{Kind: AuthInvalidCredentials, Message: "email and password are required"}
	}
	return repo.Login(ctx, Credentials{Email: email, Password: password}, opts)
}

// SignupWithPassword validates the email shape and password length before
// registering through repo.
func SignupWithPassword(ctx context.Context, repo AuthRepository, email, password string, opts RequestOptions) (User, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return User{}, err
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return User{}, ValidationError{Field: "password", Reason: "must be at least 8 characters"}
	}
	return repo.Signup(ctx, Credentials{Email: email, Password: password}, opts)
}

func validateEmail(email string) error {
	if email == "" {
		return ValidationError{Field: "email", Reason: "required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return ValidationError{Field: "email", Reason: "must be a valid address"}
	}
	return nil
}
