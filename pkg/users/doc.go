// Package users stores passportd accounts and their bcrypt password hashes.
package users
