package invites

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/platinummonkey/passportd/pkg/apperr"
)

// ErrWeakPassword is wrapped by every policy rejection
var ErrWeakPassword = errors.New("weak password")

// PasswordPolicy decides whether a password may be set on an account
type PasswordPolicy interface {
	Check(password string) error
}

// PolicyFunc adapts a function to PasswordPolicy
type PolicyFunc func(password string) error

func (f PolicyFunc) Check(password string) error { return f(password) }

// StrengthPolicy requires a minimum length and at least one upper case letter,
// lower case letter, digit and symbol
type StrengthPolicy struct {
	MinLength int
}

// DefaultPolicy is the policy used when none is configured
var DefaultPolicy = StrengthPolicy{MinLength: 8}

// Check returns a Validation error wrapping ErrWeakPassword listing every
// unmet requirement
func (p StrengthPolicy) Check(password string) error {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var missing []string
	if len([]rune(password)) < p.MinLength {
		missing = append(missing, "be at least "+strconv.Itoa(p.MinLength)+" characters long")
	}
	if !upper {
		missing = append(missing, "contain an upper case letter")
	}
	if !lower {
		missing = append(missing, "contain a lower case letter")
	}
	if !digit {
		missing = append(missing, "contain a digit")
	}
	if !symbol {
		missing = append(missing, "contain a symbol")
	}
	if len(missing) == 0 {
		return nil
	}
	return apperr.Wrap(apperr.KindValidation, ErrWeakPassword, "password must %s", strings.Join(missing, ", "))
}
