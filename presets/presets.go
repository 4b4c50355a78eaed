// Package presets holds named volume geometries so sfsctl format can take a
// human-friendly name (tiny, default, large) instead of raw block/inode
// counts.
package presets

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// Geometry describes one named volume preset.
type Geometry struct {
	Slug        string `csv:"slug"`
	Name        string `csv:"name"`
	TotalBlocks uint   `csv:"total_blocks"`
	TotalInodes uint   `csv:"total_inodes"`
	Notes       string `csv:"notes"`
}

//go:embed volume-geometries.csv
var rawCSV string

var geometries map[string]Geometry

func init() {
	geometries = make(map[string]Geometry)
	reader := strings.NewReader(rawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Geometry) error {
		if _, exists := geometries[row.Slug]; exists {
			return fmt.Errorf("duplicate preset slug %q", row.Slug)
		}
		geometries[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

// Get looks up a named preset. It returns an error if no preset with that
// slug exists.
func Get(slug string) (Geometry, error) {
	g, ok := geometries[slug]
	if !ok {
		return Geometry{}, fmt.Errorf("presets: no preset named %q", slug)
	}
	return g, nil
}

// Names returns every known preset's slug.
func Names() []string {
	names := make([]string, 0, len(geometries))
	for slug := range geometries {
		names = append(names, slug)
	}
	return names
}
