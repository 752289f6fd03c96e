package auth

import "context"

type contextKey string

const reviewerKey contextKey = "reviewer"

// WithReviewer attaches the authenticated reviewer to ctx.
func WithReviewer(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, reviewerKey, subject)
}

// ReviewerFrom returns the reviewer attached by the middleware.
func ReviewerFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(reviewerKey).(string)
	return s, ok && s != ""
}
