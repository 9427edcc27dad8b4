package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	pkgconfig "github.com/chainindexor/core/pkg/config"
)

const version = "0.1.0"

var output string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "schema-gen",
	Short:   "Emit a JSON Schema describing the indexer's YAML config file",
	Long:    `schema-gen reflects pkg/config.Config into a JSON Schema document, so editors and CI can validate a chains.yaml before the indexer ever starts.`,
	Version: version,
	RunE:    runGenerate,
}

func init() {
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		RequiredFromJSONSchemaTags: false,
	}
	schema := reflector.Reflect(&pkgconfig.Config{})
	schema.Title = "ChainIndexor config"
	schema.Description = "Configuration for the multi-chain event indexing core"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if output == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(output, append(data, '\n'), 0o644)
}
