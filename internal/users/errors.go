package users

import "errors"

var (
	ErrInvalidCredentials = errors.New("users: invalid username or password")
	ErrAccountInactive    = errors.New("users: account is deactivated")
)
