package auth

import "context"

type Identity struct {
	Subject string
	Name    string
	Email   string
	Roles   []string
}

// Role returns the primary role, or empty when none was claimed.
func (i Identity) Role() string {
	if len(i.Roles) == 0 {
		return ""
	}
	return i.Roles[0]
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
