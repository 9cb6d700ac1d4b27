// Package credential talks to the external credential store. The store
// issues and refreshes bearer tokens; this package only answers one
// question: does this token identify a live subject.
package credential

import (
	"context"

	"pupitre/access/internal/model"
)

// Validator resolves a bearer token to its subject. Implementations must
// fail closed: any ambiguity is model.ErrUnauthenticated, any transport
// trouble is model.ErrUpstreamUnavailable.
type Validator interface {
	Validate(ctx context.Context, token string) (model.Subject, error)
}
