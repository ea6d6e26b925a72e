package lldap

import (
	"context"
)

// User is a directory user as exposed by the GraphQL API.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Groups      []Group
	// Managed reports whether the user carries the operator's marker
	// attribute, i.e. whether this operator created it.
	Managed bool
}

// Group is a directory group. Ids are assigned by the server.
type Group struct {
	ID          int
	DisplayName string
}

// GroupNames returns the display names of the user's groups.
func (u *User) GroupNames() []string {
	names := make([]string, 0, len(u.Groups))
	for _, group := range u.Groups {
		names = append(names, group.DisplayName)
	}
	return names
}

// Client is the directory operation surface shared by all reconcilers.
type Client interface {
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, id string) (*User, error)
	DeleteUser(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, password string) error

	GetGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, displayName string) (*Group, error)
	DeleteGroup(ctx context.Context, id int) error

	AddUserToGroup(ctx context.Context, userID string, groupID int) error
	RemoveUserFromGroup(ctx context.Context, userID string, groupID int) error
}
