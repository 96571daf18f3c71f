// Package gologger resolves the loggers used by transfer components and bridges
// them to go-job so queue workers log through the same provider.
package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	ServiceLoggerName = "transfer"
	WorkerLoggerName  = "transfer.worker"
	QueueLoggerName   = "transfer.queue"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// WorkerLoggers returns the logger for the transfer worker and the go-job logger
// for the queue consuming claim messages. Both come from provider when it is set.
func WorkerLoggers(provider glog.LoggerProvider, logger glog.Logger) (glog.Logger, job.Logger) {
	resolvedProvider, workerLogger := Resolve(WorkerLoggerName, provider, logger)
	workerLogger = glog.Ensure(workerLogger)
	queueLogger := workerLogger
	if resolvedProvider != nil {
		if named := resolvedProvider.GetLogger(QueueLoggerName); named != nil {
			queueLogger = named
		}
	}
	return workerLogger, ToJobLogger(queueLogger)
}
