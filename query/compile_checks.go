package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-transfer/core"
)

var (
	_ gocmd.Querier[GetJobMessage, core.Job]                     = (*GetJobQuery)(nil)
	_ gocmd.Querier[ImportFailuresMessage, []core.ImportFailure] = (*ImportFailuresQuery)(nil)
	_ JobReader                                                  = (*core.Service)(nil)
	_ ImportFailureReader                                        = (*core.Service)(nil)
)
