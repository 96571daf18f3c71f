package transfer

import (
	"fmt"

	transfercommand "github.com/goliatone/go-transfer/command"
	transferquery "github.com/goliatone/go-transfer/query"
)

// CommandQueryService is what the facade's handlers call. *Service satisfies it.
type CommandQueryService interface {
	transfercommand.MutatingService
	transferquery.JobReader
	transferquery.ImportFailureReader
}

type Commands struct {
	CreateJob            *transfercommand.CreateJobCommand
	CancelJob            *transfercommand.CancelJobCommand
	StoreInitialAuthData *transfercommand.StoreInitialAuthDataCommand
	MarkCredsAvailable   *transfercommand.MarkCredsAvailableCommand
	HandOff              *transfercommand.HandOffCommand
}

type Queries struct {
	GetJob         *transferquery.GetJobQuery
	ImportFailures *transferquery.ImportFailuresQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("transfer: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateJob:            transfercommand.NewCreateJobCommand(service),
		CancelJob:            transfercommand.NewCancelJobCommand(service),
		StoreInitialAuthData: transfercommand.NewStoreInitialAuthDataCommand(service),
		MarkCredsAvailable:   transfercommand.NewMarkCredsAvailableCommand(service),
		HandOff:              transfercommand.NewHandOffCommand(service),
	}
	facade.queries = Queries{
		GetJob:         transferquery.NewGetJobQuery(service),
		ImportFailures: transferquery.NewImportFailuresQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
