package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ExtensionKey identifies the connector for one service and one data vertical.
type ExtensionKey struct {
	ServiceID string
	Vertical  DataVertical
}

func (k ExtensionKey) String() string {
	return k.ServiceID + "/" + string(k.Vertical)
}

func newExtensionKey(serviceID string, vertical DataVertical) (ExtensionKey, error) {
	id := strings.ToLower(strings.TrimSpace(serviceID))
	if id == "" {
		return ExtensionKey{}, fmt.Errorf("core: extension service id is required")
	}
	normalized := NormalizeVertical(string(vertical))
	if normalized == "" {
		return ExtensionKey{}, fmt.Errorf("core: extension data vertical is required")
	}
	return ExtensionKey{ServiceID: id, Vertical: normalized}, nil
}

// ExtensionRegistry resolves exporters and importers by (service id, vertical).
type ExtensionRegistry struct {
	mu        sync.RWMutex
	exporters map[ExtensionKey]Exporter
	importers map[ExtensionKey]Importer
}

func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{
		exporters: make(map[ExtensionKey]Exporter),
		importers: make(map[ExtensionKey]Importer),
	}
}

func (r *ExtensionRegistry) RegisterExporter(serviceID string, vertical DataVertical, exporter Exporter) error {
	if exporter == nil {
		return fmt.Errorf("core: exporter is nil")
	}
	key, err := newExtensionKey(serviceID, vertical)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.exporters[key]; exists {
		return fmt.Errorf("core: exporter already registered: %s", key)
	}
	r.exporters[key] = exporter
	return nil
}

func (r *ExtensionRegistry) RegisterImporter(serviceID string, vertical DataVertical, importer Importer) error {
	if importer == nil {
		return fmt.Errorf("core: importer is nil")
	}
	key, err := newExtensionKey(serviceID, vertical)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.importers[key]; exists {
		return fmt.Errorf("core: importer already registered: %s", key)
	}
	r.importers[key] = importer
	return nil
}

func (r *ExtensionRegistry) Exporter(serviceID string, vertical DataVertical) (Exporter, error) {
	key, err := newExtensionKey(serviceID, vertical)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	exporter, ok := r.exporters[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("core: exporter extension not registered: %s", key)
	}
	return exporter, nil
}

func (r *ExtensionRegistry) Importer(serviceID string, vertical DataVertical) (Importer, error) {
	key, err := newExtensionKey(serviceID, vertical)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	importer, ok := r.importers[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("core: importer extension not registered: %s", key)
	}
	return importer, nil
}

// Supports reports whether both sides of a transfer are registered.
func (r *ExtensionRegistry) Supports(exportService string, importService string, vertical DataVertical) bool {
	if _, err := r.Exporter(exportService, vertical); err != nil {
		return false
	}
	if _, err := r.Importer(importService, vertical); err != nil {
		return false
	}
	return true
}

func (r *ExtensionRegistry) ExporterKeys() []ExtensionKey {
	r.mu.RLock()
	keys := make([]ExtensionKey, 0, len(r.exporters))
	for key := range r.exporters {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sortExtensionKeys(keys)
	return keys
}

func (r *ExtensionRegistry) ImporterKeys() []ExtensionKey {
	r.mu.RLock()
	keys := make([]ExtensionKey, 0, len(r.importers))
	for key := range r.importers {
		keys = append(keys, key)
	}
	r.mu.RUnlock()
	sortExtensionKeys(keys)
	return keys
}

func sortExtensionKeys(keys []ExtensionKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}
