package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlws/pkg/cli/internal/output"
	"github.com/getmockd/gqlws/pkg/config"
	"github.com/getmockd/gqlws/pkg/graphql"
)

// ValidateOutput is the JSON form of a validate result.
type ValidateOutput struct {
	Valid         bool              `json:"valid"`
	Path          string            `json:"path"`
	Queries       []string          `json:"queries"`
	Mutations     []string          `json:"mutations"`
	Subscriptions []string          `json:"subscriptions"`
	Sources       map[string]string `json:"sources,omitempty"`
}

var showSources bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and schema",
	Long: `Validate the configuration, load the schema and check that every resolver
and subscription names a field that exists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runValidate(cmd.OutOrStdout(), cfg, jsonOutput, showSources)
	},
}

func runValidate(w io.Writer, cfg *config.Config, asJSON, sources bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	schema, err := graphql.LoadSchema(&cfg.GraphQL)
	if err != nil {
		return err
	}
	if err := schema.Validate(); err != nil {
		return err
	}
	if err := schema.CheckConfig(&cfg.GraphQL); err != nil {
		return err
	}

	out := ValidateOutput{
		Valid:         true,
		Path:          cfg.GraphQL.Path,
		Queries:       schema.ListQueries(),
		Mutations:     schema.ListMutations(),
		Subscriptions: schema.ListSubscriptions(),
	}
	if sources {
		out.Sources = cfg.Sources
	}

	if asJSON {
		return output.JSON(w, out)
	}

	fmt.Fprintf(w, "Configuration is valid (%s)\n", out.Path)
	fmt.Fprintf(w, "  queries:       %d\n", len(out.Queries))
	fmt.Fprintf(w, "  mutations:     %d\n", len(out.Mutations))
	fmt.Fprintf(w, "  subscriptions: %d\n", len(out.Subscriptions))
	for _, name := range out.Subscriptions {
		status := "no stream"
		if _, ok := cfg.GraphQL.Subscriptions[name]; ok {
			status = "configured"
		}
		fmt.Fprintf(w, "    %-24s %s\n", name, status)
	}

	if sources && len(cfg.Sources) > 0 {
		fmt.Fprintln(w)
		tw := output.Table(w)
		fmt.Fprintln(tw, "KEY\tSOURCE")
		keys := make([]string, 0, len(cfg.Sources))
		for k := range cfg.Sources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%s\n", k, cfg.Sources[k])
		}
		return tw.Flush()
	}
	return nil
}

func init() {
	validateCmd.Flags().BoolVar(&showSources, "show-sources", false, "Show where each configured value came from")
	rootCmd.AddCommand(validateCmd)
}
