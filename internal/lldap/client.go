package lldap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	graphql "github.com/hasura/go-graphql-client"
	"golang.org/x/time/rate"

	"github.com/snapp-incubator/lldap-operator/internal/config"
	"github.com/snapp-incubator/lldap-operator/internal/metrics"
	"github.com/snapp-incubator/lldap-operator/pkg/consts"
)

const (
	loginPath    = "/auth/simple/login"
	registerPath = "/auth/simple/register"
	graphqlPath  = "/api/graphql"

	requestTimeout = 10 * time.Second
)

// managedAttributeValue is what the marker attribute is set to on users this
// operator creates.
const managedAttributeValue = "1"

// CreateUserInput is the GraphQL input object for createUser.
type CreateUserInput struct {
	ID         string                `json:"id"`
	Email      string                `json:"email"`
	Attributes []AttributeValueInput `json:"attributes"`
}

func (CreateUserInput) GetGraphQLType() string { return "CreateUserInput" }

// AttributeValueInput assigns one custom attribute.
type AttributeValueInput struct {
	Name  string   `json:"name"`
	Value []string `json:"value"`
}

func (AttributeValueInput) GetGraphQLType() string { return "AttributeValueInput" }

type gqlGroup struct {
	ID          int
	DisplayName string
}

type gqlAttribute struct {
	Name  string
	Value []string
}

type lldapClient struct {
	gql        *graphql.Client
	httpClient *http.Client
	baseURL    string
}

var _ Client = &lldapClient{}

// NewClient builds the shared directory client. It validates the endpoint
// but does not contact the directory; sessions are established lazily so an
// unreachable directory surfaces per-reconcile instead of at startup.
func NewClient(cfg *config.Lldap) (Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse lldap url %q: %w", cfg.URL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("lldap url %q must include scheme and host", cfg.URL)
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	burst := int(cfg.RequestsPerSecond)
	if limit <= 0 {
		limit = rate.Inf
		burst = 0
	} else if burst < 1 {
		burst = 1
	}

	httpClient := &http.Client{
		Timeout: requestTimeout,
		Transport: &authTransport{
			base: &rateLimitedTransport{
				base:    http.DefaultTransport,
				limiter: rate.NewLimiter(limit, burst),
			},
			loginURL: base.String() + loginPath,
			username: cfg.Username,
			password: cfg.Password,
		},
	}

	return &lldapClient{
		gql:        graphql.NewClient(base.String()+graphqlPath, httpClient),
		httpClient: httpClient,
		baseURL:    base.String(),
	}, nil
}

func (c *lldapClient) GetUser(ctx context.Context, id string) (*User, error) {
	var query struct {
		User struct {
			ID          string
			Email       string
			DisplayName string
			Groups      []gqlGroup
			Attributes  []gqlAttribute
		} `graphql:"user(userId: $userId)"`
	}

	err := c.observe(ctx, "get_user", func(ctx context.Context) error {
		return c.gql.Query(ctx, &query, map[string]interface{}{"userId": id})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user %q: %w", id, err)
	}

	user := &User{
		ID:          query.User.ID,
		Email:       query.User.Email,
		DisplayName: query.User.DisplayName,
		Groups:      toGroups(query.User.Groups),
	}
	for _, attribute := range query.User.Attributes {
		if attribute.Name == consts.AttributeManaged {
			user.Managed = len(attribute.Value) > 0 && attribute.Value[0] == managedAttributeValue
		}
	}
	return user, nil
}

func (c *lldapClient) CreateUser(ctx context.Context, id string) (*User, error) {
	var mutation struct {
		CreateUser struct {
			ID    string
			Email string
		} `graphql:"createUser(user: $user)"`
	}

	// The directory insists on an email; the id doubles as one.
	input := CreateUserInput{
		ID:    id,
		Email: id,
		Attributes: []AttributeValueInput{
			{Name: consts.AttributeManaged, Value: []string{managedAttributeValue}},
		},
	}

	err := c.observe(ctx, "create_user", func(ctx context.Context) error {
		return c.gql.Mutate(ctx, &mutation, map[string]interface{}{"user": input})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create user %q: %w", id, err)
	}

	return &User{ID: mutation.CreateUser.ID, Email: mutation.CreateUser.Email, Managed: true}, nil
}

func (c *lldapClient) DeleteUser(ctx context.Context, id string) error {
	var mutation struct {
		DeleteUser struct {
			OK bool
		} `graphql:"deleteUser(userId: $userId)"`
	}

	err := c.observe(ctx, "delete_user", func(ctx context.Context) error {
		return c.gql.Mutate(ctx, &mutation, map[string]interface{}{"userId": id})
	})
	if err != nil {
		return fmt.Errorf("failed to delete user %q: %w", id, err)
	}
	return nil
}

// SetPassword registers a new password for the user through the simple
// registration endpoint, authenticated with the operator session.
func (c *lldapClient) SetPassword(ctx context.Context, id, password string) error {
	err := c.observe(ctx, "set_password", func(ctx context.Context) error {
		payload, err := json.Marshal(loginRequest{Username: id, Password: password})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Endpoint: registerPath, StatusCode: resp.StatusCode}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set password for user %q: %w", id, err)
	}
	return nil
}

func (c *lldapClient) GetGroups(ctx context.Context) ([]Group, error) {
	var query struct {
		Groups []gqlGroup
	}

	err := c.observe(ctx, "get_groups", func(ctx context.Context) error {
		return c.gql.Query(ctx, &query, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return toGroups(query.Groups), nil
}

func (c *lldapClient) CreateGroup(ctx context.Context, displayName string) (*Group, error) {
	var mutation struct {
		CreateGroup gqlGroup `graphql:"createGroup(name: $name)"`
	}

	err := c.observe(ctx, "create_group", func(ctx context.Context) error {
		return c.gql.Mutate(ctx, &mutation, map[string]interface{}{"name": displayName})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group %q: %w", displayName, err)
	}
	return &Group{ID: mutation.CreateGroup.ID, DisplayName: mutation.CreateGroup.DisplayName}, nil
}

func (c *lldapClient) DeleteGroup(ctx context.Context, id int) error {
	var mutation struct {
		DeleteGroup struct {
			OK bool
		} `graphql:"deleteGroup(groupId: $groupId)"`
	}

	err := c.observe(ctx, "delete_group", func(ctx context.Context) error {
		return c.gql.Mutate(ctx, &mutation, map[string]interface{}{"groupId": id})
	})
	if err != nil {
		return fmt.Errorf("failed to delete group %d: %w", id, err)
	}
	return nil
}

func (c *lldapClient) AddUserToGroup(ctx context.Context, userID string, groupID int) error {
	var mutation struct {
		AddUserToGroup struct {
			OK bool
		} `graphql:"addUserToGroup(userId: $userId, groupId: $groupId)"`
	}

	err := c.observe(ctx, "add_user_to_group", func(ctx context.Context) error {
		return c.gql.Mutate(ctx, &mutation, map[string]interface{}{"userId": userID, "groupId": groupID})
	})
	if err != nil {
		return fmt.Errorf("failed to add user %q to group %d: %w", userID, groupID, err)
	}
	return nil
}

func (c *lldapClient) RemoveUserFromGroup(ctx context.Context, userID string, groupID int) error {
	var mutation struct {
		RemoveUserFromGroup struct {
			OK bool
		} `graphql:"removeUserFromGroup(userId: $userId, groupId: $groupId)"`
	}

	err := c.observe(ctx, "remove_user_from_group", func(ctx context.Context) error {
		return c.gql.Mutate(ctx, &mutation, map[string]interface{}{"userId": userID, "groupId": groupID})
	})
	if err != nil {
		return fmt.Errorf("failed to remove user %q from group %d: %w", userID, groupID, err)
	}
	return nil
}

func (c *lldapClient) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)

	result := "success"
	switch {
	case IsNotFound(err):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	metrics.ObserveDirectoryRequest(operation, result, time.Since(start).Seconds())

	return err
}

func toGroups(in []gqlGroup) []Group {
	groups := make([]Group, 0, len(in))
	for _, group := range in {
		groups = append(groups, Group{ID: group.ID, DisplayName: group.DisplayName})
	}
	return groups
}
