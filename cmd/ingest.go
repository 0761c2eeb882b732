package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-engine/internal/model"
)

var ingestRecord model.RawRecord

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a single contact record",
	Long:  "Normalizes the record, resolves it against existing contacts, and merges into a match or creates a new contact.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestRecord.SourcePlatform == "" {
			return eris.New("--platform is required")
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		ingestRecord.ObservedAt = time.Now().UTC()
		res, err := env.Engine.Ingest(cmd.Context(), ingestRecord)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal result")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestRecord.Name, "name", "", "contact name")
	ingestCmd.Flags().StringVar(&ingestRecord.Email, "email", "", "contact email")
	ingestCmd.Flags().StringVar(&ingestRecord.Phone, "phone", "", "contact phone")
	ingestCmd.Flags().StringVar(&ingestRecord.Company, "company", "", "contact company")
	ingestCmd.Flags().StringVar(&ingestRecord.Title, "title", "", "contact title")
	ingestCmd.Flags().StringVar(&ingestRecord.SourcePlatform, "platform", "", "source platform (close, calendly, typeform)")
	ingestCmd.Flags().StringVar(&ingestRecord.SourceContactID, "source-contact-id", "", "contact id on the source platform")
	ingestCmd.Flags().StringVar(&ingestRecord.Note, "note", "", "note to append")
	ingestCmd.Flags().StringVar(&ingestRecord.OwnerID, "owner", "", "assigned owner id")
	rootCmd.AddCommand(ingestCmd)
}
