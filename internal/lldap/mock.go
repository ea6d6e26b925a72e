package lldap

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	graphql "github.com/hasura/go-graphql-client"

	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

// MockClient is an in-memory Client for tests. It keeps real directory
// semantics where they matter: entities live in maps, lookups of missing
// entities fail the same way the GraphQL API does, and every call is
// recorded so tests can assert on the operations a reconcile performed.
type MockClient struct {
	mu sync.Mutex

	users       map[string]*User
	groups      map[string]Group
	passwords   map[string]string
	nextGroupID int

	errs  map[string]error
	calls []string
}

var _ Client = &MockClient{}

func NewMockClient() *MockClient {
	m := &MockClient{
		users:       map[string]*User{},
		groups:      map[string]Group{},
		passwords:   map[string]string{},
		nextGroupID: 1,
		errs:        map[string]error{},
	}
	// Groups every fresh directory ships with.
	for _, name := range []string{consts.GroupAdmin, consts.GroupPasswordManager, consts.GroupStrictReadonly} {
		m.addGroupLocked(name)
	}
	return m
}

// SetError makes the named operation fail with err until cleared with nil.
func (m *MockClient) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, operation)
		return
	}
	m.errs[operation] = err
}

// Calls returns every recorded call in order, formatted "operation/argument".
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

var mutationOps = map[string]bool{
	"create_user": true, "delete_user": true, "set_password": true,
	"create_group": true, "delete_group": true,
	"add_user_to_group": true, "remove_user_from_group": true,
}

// MutationCalls returns only the recorded calls that change directory state.
func (m *MockClient) MutationCalls() []string {
	var out []string
	for _, call := range m.Calls() {
		operation, _, _ := strings.Cut(call, "/")
		if mutationOps[operation] {
			out = append(out, call)
		}
	}
	return out
}

func (m *MockClient) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// HasUser reports whether the user exists in the directory.
func (m *MockClient) HasUser(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok
}

// UserGroups returns the sorted group names of a user, or nil if absent.
func (m *MockClient) UserGroups(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil
	}
	names := user.GroupNames()
	sort.Strings(names)
	return names
}

// Password returns the last password registered for the user.
func (m *MockClient) Password(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.passwords[id]
}

// AddGroup pre-creates a group, as an administrator would out of band.
func (m *MockClient) AddGroup(displayName string) Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addGroupLocked(displayName)
}

func (m *MockClient) addGroupLocked(displayName string) Group {
	if group, ok := m.groups[displayName]; ok {
		return group
	}
	group := Group{ID: m.nextGroupID, DisplayName: displayName}
	m.nextGroupID++
	m.groups[displayName] = group
	return group
}

func (m *MockClient) beginLocked(operation, argument string) error {
	m.calls = append(m.calls, operation+"/"+argument)
	return m.errs[operation]
}

func (m *MockClient) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("get_user", id); err != nil {
		return nil, err
	}

	user, ok := m.users[id]
	if !ok {
		return nil, entityNotFound("user", id)
	}
	copied := *user
	copied.Groups = append([]Group(nil), user.Groups...)
	return &copied, nil
}

func (m *MockClient) CreateUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("create_user", id); err != nil {
		return nil, err
	}

	if _, ok := m.users[id]; ok {
		return nil, graphql.Errors{{Message: fmt.Sprintf("Error creating user: user %q already exists", id)}}
	}
	user := &User{ID: id, Email: id, Managed: true}
	m.users[id] = user
	copied := *user
	return &copied, nil
}

func (m *MockClient) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("delete_user", id); err != nil {
		return err
	}

	if _, ok := m.users[id]; !ok {
		return entityNotFound("user", id)
	}
	delete(m.users, id)
	delete(m.passwords, id)
	return nil
}

func (m *MockClient) SetPassword(ctx context.Context, id, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("set_password", id); err != nil {
		return err
	}

	if _, ok := m.users[id]; !ok {
		return entityNotFound("user", id)
	}
	m.passwords[id] = password
	return nil
}

func (m *MockClient) GetGroups(ctx context.Context) ([]Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("get_groups", ""); err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(m.groups))
	for _, group := range m.groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (m *MockClient) CreateGroup(ctx context.Context, displayName string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("create_group", displayName); err != nil {
		return nil, err
	}

	if _, ok := m.groups[displayName]; ok {
		return nil, graphql.Errors{{Message: fmt.Sprintf("Error creating group: group %q already exists", displayName)}}
	}
	group := m.addGroupLocked(displayName)
	return &group, nil
}

func (m *MockClient) DeleteGroup(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("delete_group", fmt.Sprintf("%d", id)); err != nil {
		return err
	}

	for name, group := range m.groups {
		if group.ID == id {
			delete(m.groups, name)
			for _, user := range m.users {
				user.Groups = withoutGroup(user.Groups, id)
			}
			return nil
		}
	}
	return entityNotFound("group", fmt.Sprintf("%d", id))
}

func (m *MockClient) AddUserToGroup(ctx context.Context, userID string, groupID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("add_user_to_group", fmt.Sprintf("%s:%d", userID, groupID)); err != nil {
		return err
	}

	user, ok := m.users[userID]
	if !ok {
		return entityNotFound("user", userID)
	}
	group, ok := m.groupByIDLocked(groupID)
	if !ok {
		return entityNotFound("group", fmt.Sprintf("%d", groupID))
	}

	for _, existing := range user.Groups {
		if existing.ID == groupID {
			return nil
		}
	}
	user.Groups = append(user.Groups, group)
	return nil
}

func (m *MockClient) RemoveUserFromGroup(ctx context.Context, userID string, groupID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked("remove_user_from_group", fmt.Sprintf("%s:%d", userID, groupID)); err != nil {
		return err
	}

	user, ok := m.users[userID]
	if !ok {
		return entityNotFound("user", userID)
	}
	user.Groups = withoutGroup(user.Groups, groupID)
	return nil
}

func (m *MockClient) groupByIDLocked(id int) (Group, bool) {
	for _, group := range m.groups {
		if group.ID == id {
			return group, true
		}
	}
	return Group{}, false
}

func withoutGroup(groups []Group, id int) []Group {
	out := groups[:0]
	for _, group := range groups {
		if group.ID != id {
			out = append(out, group)
		}
	}
	return out
}

// entityNotFound mirrors how the GraphQL API reports missing entities, so
// tests exercise the same classification path as production.
func entityNotFound(kind, name string) error {
	return graphql.Errors{{Message: fmt.Sprintf("%s: %s %q", notFoundPrefix, kind, name)}}
}
