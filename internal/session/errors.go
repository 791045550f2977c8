package session

import "errors"

var ErrTooManySessions = errors.New("too many sessions")
