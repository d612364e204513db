package service

import "context"

type roundIDKey struct{}

// WithRoundID attaches the round identifier used in logs and events.
func WithRoundID(ctx context.Context, roundID string) context.Context {
	return context.WithValue(ctx, roundIDKey{}, roundID)
}

func RoundIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(roundIDKey{}).(string)
	return id
}
