package devkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-transfer/core"
	"github.com/google/uuid"
)

const (
	OperationExport      = "export"
	OperationCreateAlbum = "create_album"
	OperationUploadPhoto = "upload_photo"

	DefaultPageSize = 2
)

// FaultScript fails the next Times calls of Operation with Err. Errors that are
// not already classified are wrapped as transport errors.
type FaultScript struct {
	Operation string
	Err       error
	Times     int
}

// Call records one connector call for assertions.
type Call struct {
	Operation string
	JobID     uuid.UUID
	Target    string
}

// Faults scripts failures for the devkit connector and captures the calls it
// sees.
type Faults struct {
	mu      sync.Mutex
	scripts []FaultScript
	calls   []Call
}

func NewFaults(scripts ...FaultScript) *Faults {
	faults := &Faults{}
	for _, script := range scripts {
		faults.Add(script)
	}
	return faults
}

func (f *Faults) Add(script FaultScript) {
	if f == nil {
		return
	}
	if script.Times <= 0 {
		script.Times = 1
	}
	f.mu.Lock()
	f.scripts = append(f.scripts, script)
	f.mu.Unlock()
}

func (f *Faults) Calls() []Call {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount counts recorded calls of operation.
func (f *Faults) CallCount(operation string) int {
	count := 0
	for _, call := range f.Calls() {
		if call.Operation == operation {
			count++
		}
	}
	return count
}

func (f *Faults) check(operation string, jobID uuid.UUID, target string) error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Operation: operation, JobID: jobID, Target: target})
	for idx, script := range f.scripts {
		if script.Operation != operation || script.Times <= 0 {
			continue
		}
		f.scripts[idx].Times--
		err := script.Err
		if err == nil {
			return core.NewTransportError(nil, fmt.Sprintf("devkit: %s %s failed", operation, target))
		}
		if core.IsProtocolError(err) || core.IsTransportError(err) {
			return err
		}
		return core.NewTransportError(err, fmt.Sprintf("devkit: %s %s failed", operation, target))
	}
	return nil
}

type ConnectorOption func(*connectorConfig)

type connectorConfig struct {
	pageSize int
	faults   *Faults
}

func WithPageSize(size int) ConnectorOption {
	return func(cfg *connectorConfig) {
		cfg.pageSize = size
	}
}

func WithFaults(faults *Faults) ConnectorOption {
	return func(cfg *connectorConfig) {
		cfg.faults = faults
	}
}

func newConnectorConfig(opts []ConnectorOption) connectorConfig {
	cfg := connectorConfig{pageSize: DefaultPageSize}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.pageSize <= 0 {
		cfg.pageSize = DefaultPageSize
	}
	return cfg
}

// Exporter walks a PhotoLibrary: the root lists albums page by page and every
// album container lists its photos page by page.
type Exporter struct {
	library *PhotoLibrary
	cfg     connectorConfig
}

func NewExporter(library *PhotoLibrary, opts ...ConnectorOption) *Exporter {
	return &Exporter{library: library, cfg: newConnectorConfig(opts)}
}

func (e *Exporter) Export(_ context.Context, jobID uuid.UUID, auth core.AuthData, info *core.ExportInformation) (core.ExportResult, error) {
	if e.library == nil {
		return core.ExportResult{}, fmt.Errorf("devkit: photo library is required")
	}
	if err := e.library.authorize(auth); err != nil {
		return core.ExportResult{}, err
	}
	token := ""
	if info != nil && info.PaginationData != nil {
		token = info.PaginationData.Token
	}
	target := "root"
	if info != nil {
		target = info.String()
	}
	if err := e.cfg.faults.check(OperationExport, jobID, target); err != nil {
		return core.ExportResult{}, err
	}

	if info == nil || info.ContainerResource == nil {
		return e.exportAlbums(token)
	}
	container := info.ContainerResource
	if container.Type != ContainerTypeAlbum {
		return core.ExportResult{}, core.NewProtocolError(
			fmt.Sprintf("devkit: unsupported container type %q", container.Type),
		)
	}
	return e.exportPhotos(container.ID, token)
}

func (e *Exporter) exportAlbums(token string) (core.ExportResult, error) {
	albums, next, err := page(e.library.Albums(), token, e.cfg.pageSize)
	if err != nil {
		return core.ExportResult{}, err
	}
	continuation := &core.ContinuationData{}
	for _, album := range albums {
		continuation.ContainerResources = append(continuation.ContainerResources, core.ContainerResource{
			Type: ContainerTypeAlbum,
			ID:   album.ID,
			Name: album.Name,
		})
	}
	if next != "" {
		continuation.PaginationData = &core.PaginationData{Token: next}
	}
	return result(PhotosContainer{Albums: albums}, continuation), nil
}

func (e *Exporter) exportPhotos(albumID string, token string) (core.ExportResult, error) {
	photos, next, err := page(e.library.Photos(albumID), token, e.cfg.pageSize)
	if err != nil {
		return core.ExportResult{}, err
	}
	continuation := &core.ContinuationData{}
	if next != "" {
		continuation.PaginationData = &core.PaginationData{Token: next}
	}
	return result(PhotosContainer{Photos: photos}, continuation), nil
}

func result(data PhotosContainer, continuation *core.ContinuationData) core.ExportResult {
	if continuation.IsEmpty() {
		return core.ExportResult{Type: core.ResultTypeEnd, Data: data}
	}
	return core.ExportResult{Type: core.ResultTypeContinue, Data: data, Continuation: continuation}
}

// Importer recreates albums and uploads photos into a PhotoLibrary. Album
// creation must succeed; photo uploads that fail with transport errors are
// recorded and skipped.
type Importer struct {
	library *PhotoLibrary
	cfg     connectorConfig
}

func NewImporter(library *PhotoLibrary, opts ...ConnectorOption) *Importer {
	return &Importer{library: library, cfg: newConnectorConfig(opts)}
}

func AlbumKey(albumID string) string {
	return "album:" + strings.TrimSpace(albumID)
}

func PhotoKey(photoID string) string {
	return "photo:" + strings.TrimSpace(photoID)
}

func (i *Importer) Import(
	ctx context.Context,
	jobID uuid.UUID,
	executor core.IdempotentExecutor,
	auth core.AuthData,
	data core.DataModel,
) (core.ImportResult, error) {
	if i.library == nil {
		return core.ImportResult{}, fmt.Errorf("devkit: photo library is required")
	}
	if executor == nil {
		return core.ImportResult{}, fmt.Errorf("devkit: idempotent executor is required")
	}
	if err := i.library.authorize(auth); err != nil {
		return core.ImportResult{}, err
	}
	container, ok := data.(PhotosContainer)
	if !ok {
		if ptr, isPtr := data.(*PhotosContainer); isPtr && ptr != nil {
			container = *ptr
		} else {
			return core.ImportResult{}, core.NewProtocolError(fmt.Sprintf("devkit: unsupported data model %T", data))
		}
	}

	for _, album := range container.Albums {
		album := album
		_, err := executor.ExecuteOrFail(ctx, AlbumKey(album.ID), album.Name, func(context.Context) (string, error) {
			if err := i.cfg.faults.check(OperationCreateAlbum, jobID, album.ID); err != nil {
				return "", err
			}
			return i.library.createAlbum(album.Name, album.Description).ID, nil
		})
		if err != nil {
			return core.ImportResult{}, err
		}
	}

	uploaded := 0
	for _, photo := range container.Photos {
		photo := photo
		destAlbumID, found, err := executor.CachedValue(ctx, AlbumKey(photo.AlbumID))
		if err != nil {
			return core.ImportResult{}, err
		}
		if !found {
			return core.ImportResult{}, fmt.Errorf("devkit: album %q was not imported before photo %q", photo.AlbumID, photo.ID)
		}
		id, err := executor.ExecuteAndSwallowIOErrors(ctx, PhotoKey(photo.ID), photo.Title, func(context.Context) (string, error) {
			if err := i.cfg.faults.check(OperationUploadPhoto, jobID, photo.ID); err != nil {
				return "", err
			}
			created, err := i.library.uploadPhoto(destAlbumID, photo)
			if err != nil {
				return "", err
			}
			return created.ID, nil
		})
		if err != nil {
			return core.ImportResult{}, err
		}
		if id != "" {
			uploaded++
		}
	}
	return core.ImportResult{
		Type: core.ImportResultOK,
		Counts: map[string]int{
			"albums": len(container.Albums),
			"photos": uploaded,
		},
	}, nil
}

// Register installs the devkit exporter and importer for serviceID under the
// photos vertical.
func Register(registry *core.ExtensionRegistry, serviceID string, library *PhotoLibrary, opts ...ConnectorOption) error {
	if registry == nil {
		return fmt.Errorf("devkit: extension registry is required")
	}
	if err := registry.RegisterExporter(serviceID, core.VerticalPhotos, NewExporter(library, opts...)); err != nil {
		return err
	}
	return registry.RegisterImporter(serviceID, core.VerticalPhotos, NewImporter(library, opts...))
}

var (
	_ core.Exporter  = (*Exporter)(nil)
	_ core.Importer  = (*Importer)(nil)
	_ core.DataModel = PhotosContainer{}
)
