package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	"github.com/goliatone/go-transfer/command"
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/query"
)

// TransferService is the surface the transfer command and query handlers call.
type TransferService interface {
	command.MutatingService
	query.JobReader
	query.ImportFailureReader
}

// Subscriptions holds the dispatcher subscriptions created for a service.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, subscription := range s {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// RegisterTransferHandlers registers every transfer command and query with the
// registry and subscribes them on the dispatcher. On failure the subscriptions
// made so far are removed.
func RegisterTransferHandlers(
	adapter *RegistryAdapter,
	service TransferService,
	runnerOpts ...runner.Option,
) (Subscriptions, error) {
	if service == nil {
		return nil, fmt.Errorf("gocommand: transfer service is required")
	}
	var subs Subscriptions
	register := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			subs.Unsubscribe()
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	if err := register(registerCommand[command.CreateJobMessage](adapter, command.NewCreateJobCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(registerCommand[command.CancelJobMessage](adapter, command.NewCancelJobCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(registerCommand[command.StoreInitialAuthDataMessage](adapter, command.NewStoreInitialAuthDataCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(registerCommand[command.MarkCredsAvailableMessage](adapter, command.NewMarkCredsAvailableCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(registerCommand[command.HandOffMessage](adapter, command.NewHandOffCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(registerQuery[query.GetJobMessage, core.Job](adapter, query.NewGetJobQuery(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := register(registerQuery[query.ImportFailuresMessage, []core.ImportFailure](adapter, query.NewImportFailuresQuery(service), runnerOpts...)); err != nil {
		return nil, err
	}
	return subs, nil
}

var _ TransferService = (*core.Service)(nil)
