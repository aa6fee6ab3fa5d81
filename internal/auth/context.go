package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxUsername
	ctxClientIP
)

var ErrNoIdentity = errors.New("user_id not in context")

func WithIdentity(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxUsername, username)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoIdentity
}

// Username is optional; an empty string means the token did not carry one.
func Username(ctx context.Context) string {
	s, _ := ctx.Value(ctxUsername).(string)
	return s
}

// WithClientIP records the resolved client address for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxClientIP, ip)
}

func ClientIP(ctx context.Context) string {
	s, _ := ctx.Value(ctxClientIP).(string)
	return s
}
