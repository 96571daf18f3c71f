package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

// xorKey is a reversible stand-in for a real cipher so service tests stay
// independent of the security package.
type xorKey struct {
	secret    string
	destroyed bool
}

func (k *xorKey) Encrypt(plaintext []byte) (string, error) {
	if k.destroyed {
		return "", fmt.Errorf("key destroyed")
	}
	return base64.RawURLEncoding.EncodeToString(xorBytes(plaintext, k.secret)), nil
}

func (k *xorKey) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, err
	}
	return xorBytes(raw, k.secret), nil
}

func (k *xorKey) Encoded() string { return k.secret }

func (k *xorKey) Destroy() { k.destroyed = true }

func xorBytes(in []byte, secret string) []byte {
	out := make([]byte, len(in))
	for idx := range in {
		out[idx] = in[idx] ^ secret[idx%len(secret)]
	}
	return out
}

type xorKeyGenerator struct {
	mu        sync.Mutex
	generated []*xorKey
}

func (g *xorKeyGenerator) Generate() (SymmetricKey, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := &xorKey{secret: strings.ReplaceAll(uuid.NewString(), "-", "")}
	g.generated = append(g.generated, key)
	return key, nil
}

func (g *xorKeyGenerator) Parse(encoded string) (SymmetricKey, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, fmt.Errorf("key is required")
	}
	return &xorKey{secret: encoded}, nil
}

type recordingHandoff struct {
	calls []string
	err   error
	store JobStore
}

func (h *recordingHandoff) StoreInitialAuthData(ctx context.Context, jobID uuid.UUID, _ AuthData, _ AuthData) (Job, error) {
	return h.record(ctx, "store_initial", jobID)
}

func (h *recordingHandoff) DecryptInitialAuthData(context.Context, uuid.UUID) (AuthData, AuthData, error) {
	h.calls = append(h.calls, "decrypt_initial")
	return AuthData{AccessToken: "export"}, AuthData{AccessToken: "import"}, h.err
}

func (h *recordingHandoff) MarkCredsAvailable(ctx context.Context, jobID uuid.UUID) (Job, error) {
	return h.record(ctx, "mark", jobID)
}

func (h *recordingHandoff) AwaitWorkerAssignment(ctx context.Context, jobID uuid.UUID) (Job, error) {
	return h.record(ctx, "await", jobID)
}

func (h *recordingHandoff) EncryptAndStoreCredentials(ctx context.Context, jobID uuid.UUID, _ AuthData, _ AuthData) (Job, error) {
	return h.record(ctx, "encrypt", jobID)
}

func (h *recordingHandoff) record(ctx context.Context, call string, jobID uuid.UUID) (Job, error) {
	h.calls = append(h.calls, call)
	if h.err != nil {
		return Job{}, h.err
	}
	if h.store == nil {
		return Job{ID: jobID}, nil
	}
	return h.store.FindJob(ctx, jobID)
}

type memoryIdempotentStore struct {
	mu      sync.Mutex
	results map[string]IdempotentResult
}

func newMemoryIdempotentStore() *memoryIdempotentStore {
	return &memoryIdempotentStore{results: map[string]IdempotentResult{}}
}

func (s *memoryIdempotentStore) GetResult(_ context.Context, jobID uuid.UUID, key string) (IdempotentResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[jobID.String()+"/"+key]
	return result, ok, nil
}

func (s *memoryIdempotentStore) SaveResult(_ context.Context, result IdempotentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.JobID.String()+"/"+result.Key] = result
	return nil
}

func (s *memoryIdempotentStore) ListFailures(_ context.Context, jobID uuid.UUID) ([]IdempotentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []IdempotentResult{}
	for _, result := range s.results {
		if result.JobID == jobID && result.Failed {
			out = append(out, result)
		}
	}
	return out, nil
}

func (s *memoryIdempotentStore) DeleteJobResults(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, result := range s.results {
		if result.JobID == jobID {
			delete(s.results, key)
		}
	}
	return nil
}

func newTestJobInput() CreateJobInput {
	return CreateJobInput{
		ExportService: "devkit-export",
		ImportService: "devkit-import",
		Vertical:      VerticalPhotos,
	}
}
