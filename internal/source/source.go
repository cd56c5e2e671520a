// Package source implements the transport clients a domain collector can
// draw from (GraphQL, legacy HTTP scrape, sidecar JSON) and the fallback
// chain that tries them in order.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/unraid-agent/internal/session"
)

// Attempt is one transport-specific fetch within a fallback chain. Fn
// returns ErrNotApplicable when the transport is not configured or is
// degraded for this server; the chain moves on without counting a failure.
type Attempt struct {
	Transport string
	Fn        func(ctx context.Context) error
}

// ErrNotApplicable marks a transport skipped rather than failed.
var ErrNotApplicable = errors.New("transport not applicable")

// RunChain tries each attempt in order and returns the transport that
// succeeded. The fetch fails only if every applicable transport fails.
// Credential-class GraphQL failures degrade the session before moving on.
func RunChain(ctx context.Context, sess *session.Session, log *zap.Logger, domain string, attempts []Attempt) (string, error) {
	var errs []error
	for _, a := range attempts {
		err := a.Fn(ctx)
		if err == nil {
			sess.RecordSuccess()
			return a.Transport, nil
		}
		if errors.Is(err, ErrNotApplicable) {
			continue
		}

		var authErr *session.AuthError
		if errors.As(err, &authErr) && a.Transport == TransportGraphQL {
			sess.MarkGraphQLDegraded(err)
		}

		log.Debug("transport attempt failed",
			zap.String("server", sess.Name()),
			zap.String("domain", domain),
			zap.String("transport", a.Transport),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", a.Transport, err))
	}
	if len(errs) == 0 {
		// Every transport declined the domain. That is a skip for this
		// server, not a failure streak.
		return "", fmt.Errorf("domain %s: %w", domain, ErrNotApplicable)
	}
	sess.RecordFailure()
	return "", fmt.Errorf("domain %s: all transports failed: %w", domain, errors.Join(errs...))
}

// Transport names used in logs and chain results.
const (
	TransportGraphQL = "graphql"
	TransportLegacy  = "legacy"
	TransportSidecar = "sidecar"
)

// FlexFloat decodes a JSON number that upstream may serialize as either a
// number or a string. Empty/null decodes to 0 with ok=false semantics left
// to the caller via pointer usage.
type FlexFloat float64

// UnmarshalJSON accepts 123, "123" and null.
func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("flex float %q: %w", s, err)
	}
	*f = FlexFloat(v)
	return nil
}

// FlexInt is FlexFloat for integral values.
type FlexInt int64

// UnmarshalJSON accepts 123, "123", 123.0 and null.
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	var ff FlexFloat
	if err := json.Unmarshal(b, &ff); err != nil {
		return err
	}
	*f = FlexInt(ff)
	return nil
}
