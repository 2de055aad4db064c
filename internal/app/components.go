package app

import (
	"strings"

	"github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/realtime"
)

// JWTOptions maps the auth section onto token verifier settings.
func (c AuthConfig) JWTOptions() auth.JWTConfig {
	opts := auth.JWTConfig{Secret: c.JWT.Secret, Issuer: c.JWT.Issuer, AccessTokenTTL: c.JWT.TTL}
	if opts.AccessTokenTTL <= 0 {
		opts.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	return opts
}

// ServerOptions converts RealtimeConfig into WebSocket transport options. Zero values
// are left for the realtime package to default.
func (c RealtimeConfig) ServerOptions() realtime.ServerOptions {
	origins := make([]string, 0, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return realtime.ServerOptions{
		SendBuffer:     c.SendBuffer,
		MaxMessageSize: c.MaxMessageSize,
		WriteWait:      c.WriteWait,
		PongWait:       c.PongWait,
		AllowedOrigins: origins,
	}
}
