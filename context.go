package spendauth

import (
	"context"

	"github.com/MrEthical07/spendauth/session"
)

type clientContextKey struct{}

// WithClient attaches the caller's IP, User-Agent and optional location to
// ctx. The device descriptor is parsed from the User-Agent here so later
// steps see a consistent value.
func WithClient(ctx context.Context, ip, userAgent string, loc *session.Location) context.Context {
	return context.WithValue(ctx, clientContextKey{}, ClientInfo{
		IP:        ip,
		UserAgent: userAgent,
		Device:    session.ParseDevice(userAgent),
		Location:  loc,
	})
}

// ClientFromContext returns the attached client, or an unknown-device client.
func ClientFromContext(ctx context.Context) ClientInfo {
	if ctx != nil {
		if c, ok := ctx.Value(clientContextKey{}).(ClientInfo); ok {
			return c
		}
	}
	return ClientInfo{Device: session.ParseDevice("")}
}
