package realtime

import "context"

type originKey struct{}

// WithOrigin marks ctx as carrying a mutation originated by conn, so
// the broadcaster mirrors the resulting public event to every
// connection except that one; the originator gets only its direct
// response. Contexts without an origin (HTTP requests, background
// jobs) broadcast to everyone.
func WithOrigin(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, originKey{}, conn)
}

func originFrom(ctx context.Context) *Connection {
	conn, _ := ctx.Value(originKey{}).(*Connection)
	return conn
}
