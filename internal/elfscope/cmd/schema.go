package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

// ElfscopeConfig represents configuration for the elfscope tool
type ElfscopeConfig struct {
	Debug       bool   `json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
	Section     string `json:"section" jsonschema:"title=Section,description=Section name to disassemble"`
	ISA         string `json:"isa" jsonschema:"title=ISA,description=Register naming profile (amd64 or i386)"`
	ProfilePath string `json:"profilePath" jsonschema:"title=Profile Path,description=Path for CPU profile output"`
}

var schemaCmd = &cobra.Command{
	Use:    "schema",
	Short:  "Generate JSON schema for configuration",
	Long:   "Generate JSON schema for the elfscope configuration",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := new(jsonschema.Reflector)
		bts, err := json.MarshalIndent(reflector.Reflect(&ElfscopeConfig{}), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal schema: %w", err)
		}
		fmt.Println(string(bts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
