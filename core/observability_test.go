package core

import (
	"context"
	"sync"
	"testing"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func hasCounter(counters []capturedCounter, name string, status string) bool {
	for _, counter := range counters {
		if counter.name == name && counter.tags["status"] == status {
			return true
		}
	}
	return false
}

func TestServiceObservability_CreateJobSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc, err := NewService(DefaultConfig(),
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	job, err := svc.CreateJob(context.Background(), newTestJobInput())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if !hasCounter(metrics.counters, "transfer.create_job.total", "success") {
		t.Fatalf("expected transfer.create_job.total success counter")
	}
	if len(metrics.histograms) == 0 || metrics.histograms[0].name != "transfer.create_job.duration_ms" {
		t.Fatalf("expected duration histogram")
	}
	records := logger.snapshot()
	if len(records) == 0 {
		t.Fatalf("expected create_job log record")
	}
	last := records[len(records)-1]
	if last.level != "info" || last.fields["job_id"] != job.ID.String() {
		t.Fatalf("expected info log with job id, got %+v", last)
	}
	if last.fields["status"] != "success" {
		t.Fatalf("expected success status field")
	}
}

func TestServiceObservability_CreateJobFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc, err := NewService(DefaultConfig(),
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.CreateJob(context.Background(), CreateJobInput{}); err == nil {
		t.Fatalf("expected create job failure")
	}
	if !hasCounter(metrics.counters, "transfer.create_job.total", "failure") {
		t.Fatalf("expected failure counter")
	}
	records := logger.snapshot()
	if len(records) == 0 || records[len(records)-1].level != "error" {
		t.Fatalf("expected error log record")
	}
}

func TestServiceObservability_CountsAuthStateTransitions(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	store := NewMemoryJobStore()
	svc, err := NewService(DefaultConfig(),
		WithJobStore(store),
		WithHandoffProtocol(&recordingHandoff{store: store}),
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	job, err := svc.CreateJob(ctx, newTestJobInput())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	job.Authorization.State = AuthStateCredsAvailable
	if _, err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("update job: %v", err)
	}

	if _, err := svc.MarkCredsAvailable(ctx, job.ID); err != nil {
		t.Fatalf("mark creds available: %v", err)
	}
	// The worker has not claimed the job yet, so the state is unchanged.
	if _, err := svc.AwaitWorkerAssignment(ctx, job.ID); err != nil {
		t.Fatalf("await worker assignment: %v", err)
	}

	transitions := 0
	for _, counter := range metrics.counters {
		if counter.name != "transfer.auth_state.transition" {
			continue
		}
		transitions++
		if counter.tags["from"] != string(AuthStateInitial) || counter.tags["to"] != string(AuthStateCredsAvailable) {
			t.Fatalf("unexpected transition tags %+v", counter.tags)
		}
	}
	if transitions != 1 {
		t.Fatalf("expected one transition counter, got %d", transitions)
	}
	if !hasCounter(metrics.counters, "transfer.mark_creds_available.total", "success") {
		t.Fatalf("expected mark_creds_available success counter")
	}

	var marked *capturedLog
	records := logger.snapshot()
	for idx := range records {
		if records[idx].fields["event_type"] == "mark_creds_available" {
			marked = &records[idx]
		}
	}
	if marked == nil {
		t.Fatalf("expected mark_creds_available log record")
	}
	want := string(AuthStateInitial) + "->" + string(AuthStateCredsAvailable)
	if marked.fields["auth_transition"] != want || marked.fields["auth_state"] != string(AuthStateCredsAvailable) {
		t.Fatalf("expected transition fields on log, got %+v", marked.fields)
	}
}
