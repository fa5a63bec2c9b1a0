package sqlstore

import (
	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/ratelimit"
)

var (
	_ core.RunArchive      = (*RunArchive)(nil)
	_ ratelimit.StateStore = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
)
