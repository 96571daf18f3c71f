package transfer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-transfer/core"
)

// ConnectorPack groups the exporters and importers one service offers, keyed by
// data vertical. Either side may be absent.
type ConnectorPack struct {
	Name      string
	ServiceID string
	Exporters map[core.DataVertical]core.Exporter
	Importers map[core.DataVertical]core.Importer
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks collects connector packs and command/query bundles contributed
// by downstream modules before the service is built.
type ExtensionHooks struct {
	mu sync.RWMutex

	connectorPacks map[string]ConnectorPack
	bundles        map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		connectorPacks: map[string]ConnectorPack{},
		bundles:        map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterConnectorPack(pack ConnectorPack) error {
	if h == nil {
		return fmt.Errorf("transfer: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	serviceID := strings.TrimSpace(strings.ToLower(pack.ServiceID))
	if name == "" {
		return fmt.Errorf("transfer: connector pack name is required")
	}
	if serviceID == "" {
		return fmt.Errorf("transfer: connector pack %q service id is required", name)
	}
	if len(pack.Exporters) == 0 && len(pack.Importers) == 0 {
		return fmt.Errorf("transfer: connector pack %q has no connectors", name)
	}

	normalized := ConnectorPack{
		Name:      name,
		ServiceID: serviceID,
		Exporters: make(map[core.DataVertical]core.Exporter, len(pack.Exporters)),
		Importers: make(map[core.DataVertical]core.Importer, len(pack.Importers)),
	}
	for vertical, exporter := range pack.Exporters {
		if exporter == nil {
			return fmt.Errorf("transfer: connector pack %q has a nil exporter for %s", name, vertical)
		}
		normalized.Exporters[vertical] = exporter
	}
	for vertical, importer := range pack.Importers {
		if importer == nil {
			return fmt.Errorf("transfer: connector pack %q has a nil importer for %s", name, vertical)
		}
		normalized.Importers[vertical] = importer
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.connectorPacks[name]; exists {
		return fmt.Errorf("transfer: connector pack %q already registered", name)
	}
	h.connectorPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("transfer: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("transfer: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("transfer: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("transfer: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyConnectorPacks registers every pack, in name order, with registry.
func (h *ExtensionHooks) ApplyConnectorPacks(registry *core.ExtensionRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("transfer: extension registry is required")
	}

	for _, pack := range h.ConnectorPacks() {
		for _, vertical := range sortedVerticals(pack.Exporters) {
			if err := registry.RegisterExporter(pack.ServiceID, vertical, pack.Exporters[vertical]); err != nil {
				return fmt.Errorf("transfer: connector pack %q: %w", pack.Name, err)
			}
		}
		for _, vertical := range sortedVerticals(pack.Importers) {
			if err := registry.RegisterImporter(pack.ServiceID, vertical, pack.Importers[vertical]); err != nil {
				return fmt.Errorf("transfer: connector pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("transfer: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ConnectorPacks() []ConnectorPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.connectorPacks))
	for name := range h.connectorPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ConnectorPack, 0, len(names))
	for _, name := range names {
		out = append(out, h.connectorPacks[name])
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedVerticals[T any](in map[core.DataVertical]T) []core.DataVertical {
	out := make([]core.DataVertical, 0, len(in))
	for vertical := range in {
		out = append(out, vertical)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
