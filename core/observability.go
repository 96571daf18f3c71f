package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// jobOperation tracks one Service call against a job. from is the authorization
// state the call moves the job out of, empty for calls that do not advance it.
type jobOperation struct {
	name      string
	startedAt time.Time
	from      AuthState
	fields    map[string]any
}

func (s *Service) beginOperation(name string, from AuthState, fields map[string]any) *jobOperation {
	return &jobOperation{
		name:      name,
		startedAt: time.Now().UTC(),
		from:      from,
		fields:    cloneFields(fields),
	}
}

// finish logs the outcome and records counters tagged with the job's transfer
// route and authorization state. A successful call that moved the job to a new
// state also counts the transition.
func (s *Service) finish(ctx context.Context, op *jobOperation, job Job, err error) {
	if s == nil || op == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(op.startedAt).Milliseconds()

	fields := op.fields
	if job.ID != uuid.Nil {
		fields["job_id"] = job.ID.String()
		fields["export_service"] = job.ExportService
		fields["import_service"] = job.ImportService
		fields["data_vertical"] = string(job.Vertical)
		fields["auth_state"] = string(job.Authorization.State)
		if job.Authorization.InstanceID != "" {
			fields["instance_id"] = job.Authorization.InstanceID
		}
	}

	tags := map[string]string{"operation": op.name, "status": status}
	for _, key := range []string{"export_service", "import_service", "data_vertical", "auth_state"} {
		if value, ok := fields[key].(string); ok && strings.TrimSpace(value) != "" {
			tags[key] = value
		}
	}
	transitioned := err == nil && op.from != "" && job.Authorization.State != "" && job.Authorization.State != op.from
	if transitioned {
		tags["auth_from"] = string(op.from)
		fields["auth_transition"] = string(op.from) + "->" + string(job.Authorization.State)
	}

	s.recordCounter(ctx, "transfer."+op.name+".total", 1, tags)
	s.recordHistogram(ctx, "transfer."+op.name+".duration_ms", float64(elapsed), tags)
	if transitioned {
		s.recordCounter(ctx, "transfer.auth_state.transition", 1, map[string]string{
			"from": string(op.from),
			"to":   string(job.Authorization.State),
		})
	}

	logFields := RedactSensitiveMap(cloneFields(fields))
	logFields["event_type"] = op.name
	logFields["status"] = status
	logFields["duration_ms"] = elapsed
	if err != nil {
		logFields["error"] = err.Error()
		s.log(ctx, true, op.name+" failed", logFields)
		return
	}
	s.log(ctx, false, op.name+" succeeded", logFields)
}

func (s *Service) log(ctx context.Context, failed bool, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	if failed {
		logger.Error(message, flattenFields(fields)...)
		return
	}
	logger.Info(message, flattenFields(fields)...)
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

var _ MetricsRecorder = NopMetricsRecorder{}
