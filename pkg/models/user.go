package models

// User is the identity acting on a task.
type User struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// NewUser returns an authenticated user.
func NewUser(id string) *User {
	return &User{ID: id}
}

// RecordedID returns the id stored as the completing user. Nil, anonymous and empty users are recorded as no user.
func (u *User) RecordedID() *string {
	if u == nil || u.Anonymous || u.ID == "" {
		return nil
	}

	id := u.ID

	return &id
}
