package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the top-level structure of a lookup catalog YAML file.
//
// Example:
//
//	catalogs:
//	  - source: "product_name"
//	    values: ["Wireless Mouse", "USB-C Hub"]
//	  - source: "store_name"
//	    values: ["Downtown", "Airport"]
type CatalogFile struct {
	Catalogs []CatalogEntry `yaml:"catalogs"`
}

// CatalogEntry declares one lookup source and its canonical values.
type CatalogEntry struct {
	// Source is the lookup source name referenced by db_lookup fields.
	Source string `yaml:"source"`

	// Values are the canonical values of the source.
	Values []string `yaml:"values"`
}

// LoadCatalogFile reads and parses a lookup catalog YAML file from disk.
func LoadCatalogFile(path string) (*CatalogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open catalog file %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadCatalogFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse catalog file %q: %w", path, err)
	}
	return cf, nil
}

// LoadCatalogFromReader parses catalog YAML from an [io.Reader]. The reader
// is consumed entirely; the caller is responsible for closing it.
func LoadCatalogFromReader(r io.Reader) (*CatalogFile, error) {
	var cf CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("catalog: decode catalog yaml: %w", err)
	}
	return &cf, nil
}

// ImportCatalog registers every source from a parsed [CatalogFile] into
// store. Returns the number of sources imported. Sources without a name abort
// the import.
func ImportCatalog(ctx context.Context, store Store, cf *CatalogFile) (int, error) {
	if cf == nil {
		return 0, fmt.Errorf("catalog: catalog file must not be nil")
	}
	count := 0
	for i, entry := range cf.Catalogs {
		if entry.Source == "" {
			return count, fmt.Errorf("catalog: entry %d has no source name", i)
		}
		if err := store.AddValues(ctx, entry.Source, entry.Values...); err != nil {
			return count, fmt.Errorf("catalog: import source %q: %w", entry.Source, err)
		}
		count++
	}
	return count, nil
}
