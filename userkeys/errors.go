package userkeys

import "errors"

// UserKeyAlreadyExistsError indicates that a key record exists for the user
type UserKeyAlreadyExistsError struct {
	UserID string
}

func (e *UserKeyAlreadyExistsError) Error() string {
	return "key record already exists for user: " + e.UserID
}

func NewUserKeyAlreadyExistsError(userID string) error {
	return &UserKeyAlreadyExistsError{UserID: userID}
}

func IsUserKeyAlreadyExistsError(err error) bool {
	var target *UserKeyAlreadyExistsError
	return errors.As(err, &target)
}
