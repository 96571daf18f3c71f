package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-transfer/core"
)

var (
	_ gocmd.Commander[CreateJobMessage]            = (*CreateJobCommand)(nil)
	_ gocmd.Commander[CancelJobMessage]            = (*CancelJobCommand)(nil)
	_ gocmd.Commander[StoreInitialAuthDataMessage] = (*StoreInitialAuthDataCommand)(nil)
	_ gocmd.Commander[MarkCredsAvailableMessage]   = (*MarkCredsAvailableCommand)(nil)
	_ gocmd.Commander[HandOffMessage]              = (*HandOffCommand)(nil)
	_ MutatingService                              = (*core.Service)(nil)
)
