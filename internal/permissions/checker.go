// Package permissions decides whether a token's permission set covers
// the operation a request invokes.
package permissions

import (
	"strings"

	"github.com/authrelay/authrelay/internal/logging"
)

// Checker evaluates permission sets. Permissions are strings of the
// form "resource:action"; a trailing "*" in the action position grants
// every action on the resource, and a bare "*" grants everything.
type Checker struct {
	logger *logging.Logger
}

// NewChecker creates a permission checker.
func NewChecker(logger *logging.Logger) *Checker {
	return &Checker{logger: logger.WithComponent("permissions")}
}

// Result explains a permission decision.
type Result struct {
	Allowed  bool
	Required string
	Matched  string
}

// Check reports whether granted covers required. An empty required
// permission means the operation is open to any authenticated caller.
func (c *Checker) Check(granted []string, required string) Result {
	if required == "" {
		return Result{Allowed: true, Required: required}
	}
	for _, perm := range granted {
		if Matches(perm, required) {
			return Result{Allowed: true, Required: required, Matched: perm}
		}
	}
	c.logger.Debug("permission denied: required %s, granted %d permissions", required, len(granted))
	return Result{Allowed: false, Required: required}
}

// Matches reports whether a single granted permission covers required.
func Matches(granted, required string) bool {
	if granted == "*" || granted == required {
		return true
	}
	if resource, ok := strings.CutSuffix(granted, ":*"); ok {
		return strings.HasPrefix(required, resource+":")
	}
	return false
}
