package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxassets/cli/output"
	"github.com/fluxbase-eu/fluxassets/internal/manifest"
)

type mappingRow struct {
	Source   string `json:"source" yaml:"source"`
	URL      string `json:"url" yaml:"url"`
	Modifier string `json:"modifier,omitempty" yaml:"modifier,omitempty"`
	MapAs    string `json:"map_as,omitempty" yaml:"map_as,omitempty"`
}

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "List the entries of the mapping file",
	Example: `  fluxassets mapping
  fluxassets mapping -o json`,
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := manifest.NewStore(cfg.Assets.MappingFile, manifest.StoreOptions{})
		m, err := store.Load()
		if err != nil {
			return err
		}
		formatter.Writer = cmd.OutOrStdout()
		rows := mappingRows(m)
		if len(rows) == 0 && formatter.Format == output.FormatTable {
			formatter.PrintWarning("%s has no entries", store.Path())
			return nil
		}
		return formatter.PrintTable(mappingTable(rows), rows)
	},
}

// mappingRows flattens a mapping into one row per output, sorted by source
func mappingRows(m manifest.Mapping) []mappingRow {
	rows := []mappingRow{}
	for _, src := range m.Keys() {
		for _, o := range m[src] {
			rows = append(rows, mappingRow{
				Source:   src,
				URL:      o.URL,
				Modifier: string(o.Meta.Modifier),
				MapAs:    o.Meta.MapAs,
			})
		}
	}
	return rows
}

func mappingTable(rows []mappingRow) output.TableData {
	data := output.TableData{Headers: []string{"SOURCE", "URL", "MODIFIER", "MAP AS"}}
	for _, r := range rows {
		data.Rows = append(data.Rows, []string{r.Source, r.URL, r.Modifier, r.MapAs})
	}
	return data
}
