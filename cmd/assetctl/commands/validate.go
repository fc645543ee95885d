package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/assetpipe/assetpipe/pkg/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate <manifest-url>",
	Short: "Load and validate a manifest",
	Long: `Load a manifest through the configured sources and check it for
missing ids, urls, types and duplicate ids.

Examples:
  # Validate a local manifest
  assetctl validate assets/manifest.json

  # Validate a manifest stored in S3
  ASSETPIPE_S3_ENABLED=true assetctl validate s3://game-assets/manifest.json`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

// manifestReport summarizes a valid manifest.
type manifestReport struct {
	URL        string         `json:"url" yaml:"url"`
	Version    string         `json:"version,omitempty" yaml:"version,omitempty"`
	Assets     int            `json:"assets" yaml:"assets"`
	Types      map[string]int `json:"types" yaml:"types"`
	Priorities map[string]int `json:"priorities" yaml:"priorities"`
	Groups     []groupReport  `json:"groups" yaml:"groups"`
}

type groupReport struct {
	Name   string   `json:"name" yaml:"name"`
	Assets []string `json:"assets" yaml:"assets"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(outputFlag)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	url := args[0]
	if err := s.Manager.LoadManifest(cmd.Context(), url); err != nil {
		return fmt.Errorf("manifest %s is invalid: %w", url, err)
	}

	mf := s.Manager.Manifest()
	report := manifestReport{
		URL:        url,
		Version:    mf.Version,
		Assets:     len(mf.Assets),
		Types:      make(map[string]int),
		Priorities: make(map[string]int),
	}
	for _, a := range mf.Assets {
		report.Types[strings.ToLower(a.Type)]++
		report.Priorities[string(types.NormalizePriority(a.Priority))]++
	}
	for name, ids := range mf.Groups() {
		report.Groups = append(report.Groups, groupReport{Name: name, Assets: ids})
	}
	sort.Slice(report.Groups, func(i, j int) bool { return report.Groups[i].Name < report.Groups[j].Name })

	out := cmd.OutOrStdout()
	if format != formatTable {
		return printStructured(out, format, report)
	}

	fmt.Fprintf(out, "Manifest %s is valid: %d assets in %d groups\n\n", url, report.Assets, len(report.Groups))

	groups := newTableData("GROUP", "ASSETS", "IDS")
	for _, g := range report.Groups {
		groups.addRow(g.Name, strconv.Itoa(len(g.Assets)), strings.Join(g.Assets, ", "))
	}
	printTable(out, groups)

	fmt.Fprintln(out)
	pairs := make([][2]string, 0, len(types.Priorities))
	for _, tier := range types.Priorities {
		pairs = append(pairs, [2]string{string(tier), strconv.Itoa(report.Priorities[string(tier)])})
	}
	printKeyValues(out, pairs)
	return nil
}
