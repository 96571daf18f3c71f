package sqlstore

import "github.com/goliatone/go-transfer/core"

var (
	_ core.JobStore               = (*JobStore)(nil)
	_ core.JobStackStore          = (*JobStackStore)(nil)
	_ core.IdempotentResultStore  = (*IdempotentResultStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
