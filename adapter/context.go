package adapter

import (
	"context"

	"github.com/sagernet/sing-relay/relaylist"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sagernet/sing/service"
)

// QueryContext carries per-request resolve and selection metadata for
// logging.
type QueryContext struct {
	Source        M.Socksaddr
	Constraint    relaylist.LocationConstraint
	Strategy      string
	Key           string
	Attempt       int
	SelectedRelay string
}

func WithContext(ctx context.Context, queryContext *QueryContext) context.Context {
	return service.ContextWith(ctx, queryContext)
}

func ContextFrom(ctx context.Context) *QueryContext {
	return service.FromContext[*QueryContext](ctx)
}
