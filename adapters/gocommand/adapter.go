// Package gocommand exposes transfer commands and queries on the go-command
// dispatcher. Commands can be mirrored into a go-job queue registry so hand-off
// steps run on queue workers instead of the caller.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

const (
	CommandTypePrefix = "transfer.command."
	QueryTypePrefix   = "transfer.query."

	// QueueResolverKey names the resolver installed by MirrorToQueue.
	QueueResolverKey = "transfer.queue"
)

// ValidateMessageContract checks that msg carries a transfer message type and
// passes its own validation.
func ValidateMessageContract(msg any) error {
	if err := validateMessageType(msg); err != nil {
		return err
	}
	return command.ValidateMessage(msg)
}

func validateMessageType(msg any) error {
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	msgType := strings.TrimSpace(m.Type())
	if msgType == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	if !strings.HasPrefix(msgType, CommandTypePrefix) && !strings.HasPrefix(msgType, QueryTypePrefix) {
		return fmt.Errorf("gocommand: message type %q is not a transfer command or query", msgType)
	}
	return nil
}

// RegistryAdapter owns the go-command registry transfer handlers are added to.
type RegistryAdapter struct {
	registry *command.Registry
	queued   bool
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// MirrorToQueue copies every registered transfer command into queueRegistry
// when the registry is initialized. It may be installed once.
func (a *RegistryAdapter) MirrorToQueue(queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	if a.queued {
		return fmt.Errorf("gocommand: queue mirror already installed")
	}
	if err := a.registry.AddResolver(QueueResolverKey, jobqueuecommand.QueueResolver(queueRegistry)); err != nil {
		return err
	}
	a.queued = true
	return nil
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func registerCommand[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	var zero T
	if err := validateMessageType(zero); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func registerQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	var zero T
	if err := validateMessageType(zero); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.registry.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
