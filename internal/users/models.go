package users

import "errors"

// ErrNotFound is returned when a user id has no row.
var ErrNotFound = errors.New("users: not found")

type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
	StatusDeleted Status = "deleted"
)

// DefaultDownloadLimit applies when a row carries no explicit limit.
const DefaultDownloadLimit = 3

type User struct {
	ID            int64
	Name          string
	Status        Status
	SentLinks     int
	DownloadLimit int
}
