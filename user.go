package authsession

import (
	"fmt"
	"strings"

	"github.com/modelrelay/authsession/auth"
)

// User is the authenticated account as reported by the auth API.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// maxUserNesting bounds how deep a "user" wrapper is followed.
const maxUserNesting = 4

// ParseUser decodes a user payload, following "user" wrappers. The id may be
// sent as id, userId or user_id; name falls back to first + last name.
func ParseUser(body []byte) (User, error) {
	p, err := auth.DecodePayload(body)
	if err != nil {
		return User{}, err
	}
	return userFromPayload(p)
}

func userFromPayload(p auth.Payload) (User, error) {
	for i := 0; i < maxUserNesting; i++ {
		nested, ok := p.Object("user")
		if !ok {
			break
		}
		p = nested
	}
	id, ok, err := p.String("id", "userId", "user_id")
	if err != nil {
		return User{}, err
	}
	if !ok || strings.TrimSpace(id) == "" {
		return User{}, fmt.Errorf("%w: user id missing", ErrMalformedResponse)
	}
	email, ok, err := p.String("email")
	if err != nil {
		return User{}, err
	}
	if !ok || strings.TrimSpace(email) == "" {
		return User{}, fmt.Errorf("%w: user email missing", ErrMalformedResponse)
	}
	name, err := resolveName(p)
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Email: email, Name: name}, nil
}

func resolveName(p auth.Payload) (string, error) {
	if name, ok, err := p.String("name"); err != nil || (ok && name != "") {
		return name, err
	}
	first, _, err := p.String("firstName", "first_name")
	if err != nil {
		return "", err
	}
	last, _, err := p.String("lastName", "last_name")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Join(nonEmpty(first, last), " ")), nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
