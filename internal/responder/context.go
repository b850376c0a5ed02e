package responder

import (
	"context"

	"mailpilot/internal/model"
)

type emailKey struct{}

// WithEmail attaches the email being answered so tools can quote it.
func WithEmail(ctx context.Context, email model.Email) context.Context {
	return context.WithValue(ctx, emailKey{}, email)
}

// EmailFromContext returns the email attached by WithEmail.
func EmailFromContext(ctx context.Context) (model.Email, bool) {
	email, ok := ctx.Value(emailKey{}).(model.Email)
	return email, ok
}
