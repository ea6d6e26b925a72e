package lldap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	graphql "github.com/hasura/go-graphql-client"
)

// ErrUnauthorized marks authentication failures against the directory.
// Retrying is pointless until the operator credentials change.
var ErrUnauthorized = errors.New("directory rejected the operator credentials")

// The GraphQL API reports missing entities through error messages rather
// than a dedicated code.
const notFoundPrefix = "Entity not found"

// StatusError is a non-OK response from one of the directory's plain HTTP
// endpoints (login, password registration).
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
}

// IsNotFound returns true if the error indicates the requested entity does
// not exist in the directory.
func IsNotFound(err error) bool {
	var gqlErrs graphql.Errors
	if errors.As(err, &gqlErrs) {
		for _, gqlErr := range gqlErrs {
			if strings.HasPrefix(gqlErr.Message, notFoundPrefix) {
				return true
			}
		}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusNotFound
	}

	return false
}

// IsConflict returns true if the failure reports the entity already exists.
func IsConflict(err error) bool {
	var gqlErrs graphql.Errors
	if errors.As(err, &gqlErrs) {
		for _, gqlErr := range gqlErrs {
			if strings.Contains(strings.ToLower(gqlErr.Message), "already exists") {
				return true
			}
		}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusConflict
	}

	return false
}

// IsUnauthorized returns true if the directory rejected the operator's own
// credentials or session.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
	}

	// The HTTP client and the GraphQL library both re-wrap transport errors,
	// not always with the chain intact.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rejected the operator credentials") ||
		strings.Contains(msg, "invalid credentials")
}

// IsTransient returns true for temporary failures worth retrying with
// backoff: network trouble, timeouts, throttling and server-side errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsNotFound(err) || IsConflict(err) || IsUnauthorized(err) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError {
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() || netErr.Temporary() {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	retryableFragments := []string{
		"connection refused",
		"no such host",
		"i/o timeout",
		"context deadline exceeded",
		"dial tcp",
		"connection reset by peer",
		"tls handshake timeout",
		"temporary failure in name resolution",
		"eof",
	}
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}

	return false
}
