package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-engine/internal/model"
)

var resolveRecord model.RawRecord

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a record against existing contacts without persisting",
	Long:  "Dry-run resolution: reports the matched contact, confidence tier, and reason. Nothing is written.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		match, err := env.Engine.Resolve(cmd.Context(), resolveRecord)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(match, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal match")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveRecord.Name, "name", "", "contact name")
	resolveCmd.Flags().StringVar(&resolveRecord.Email, "email", "", "contact email")
	resolveCmd.Flags().StringVar(&resolveRecord.Phone, "phone", "", "contact phone")
	resolveCmd.Flags().StringVar(&resolveRecord.Company, "company", "", "contact company")
	resolveCmd.Flags().StringVar(&resolveRecord.SourcePlatform, "platform", "", "source platform")
	rootCmd.AddCommand(resolveCmd)
}
