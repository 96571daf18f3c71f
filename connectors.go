package transfer

import (
	"github.com/goliatone/go-transfer/core"
	"github.com/goliatone/go-transfer/providers/devkit"
)

// DevKitPack exposes an in-memory photo library as a connector pack under
// serviceID. It is useful for local runs and for testing downstream wiring.
func DevKitPack(serviceID string, library *devkit.PhotoLibrary, opts ...devkit.ConnectorOption) ConnectorPack {
	return ConnectorPack{
		Name:      "devkit:" + serviceID,
		ServiceID: serviceID,
		Exporters: map[core.DataVertical]core.Exporter{
			core.VerticalPhotos: devkit.NewExporter(library, opts...),
		},
		Importers: map[core.DataVertical]core.Importer{
			core.VerticalPhotos: devkit.NewImporter(library, opts...),
		},
	}
}
