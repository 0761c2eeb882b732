package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-engine/internal/engine"
)

var attributeAll bool

var attributeCmd = &cobra.Command{
	Use:   "attribute [contact-id]",
	Short: "Build attribution chains from touchpoints to deals",
	Long:  "Builds one attribution chain per deal from the contact's cross-platform event history. With --all, runs over every contact.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !attributeAll && len(args) == 0 {
			return eris.New("provide a contact id or --all")
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		var out any
		if attributeAll {
			summary, err := env.Engine.AttributeAll(cmd.Context())
			if err != nil {
				return err
			}
			out = summary
		} else {
			chains, err := env.Engine.AttributeContact(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out = engine.ContactChains{ContactID: args[0], Chains: chains}
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal chains")
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	attributeCmd.Flags().BoolVar(&attributeAll, "all", false, "attribute every contact")
	rootCmd.AddCommand(attributeCmd)
}
