package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/contact-engine/internal/model"
)

var (
	eventContactID     string
	eventType          string
	eventTimestamp     string
	eventPlatform      string
	eventSourceID      string
	eventSourceContact string
	eventSubject       string
	eventDealValue     float64
	eventDealCash      float64
	eventDealStatus    string
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Record a touchpoint or deal event",
	Long:  "Upserts an event keyed on (platform, source-id), so replaying a platform export is idempotent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ts := time.Now().UTC()
		if eventTimestamp != "" {
			parsed, err := time.Parse(time.RFC3339, eventTimestamp)
			if err != nil {
				return eris.Wrapf(err, "parse --timestamp %q", eventTimestamp)
			}
			ts = parsed
		}

		ev := model.Event{
			ContactID:       eventContactID,
			Type:            model.EventType(eventType),
			Timestamp:       ts,
			SourcePlatform:  eventPlatform,
			SourceID:        eventSourceID,
			SourceContactID: eventSourceContact,
			Subject:         eventSubject,
		}
		if ev.Type == model.EventDeal {
			ev.Deal = &model.DealInfo{
				Value:         eventDealValue,
				CashCollected: eventDealCash,
				Status:        model.DealStatus(eventDealStatus),
			}
		}

		env, err := initEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Engine.RecordEvent(cmd.Context(), ev); err != nil {
			return err
		}
		fmt.Printf("recorded %s event %s/%s\n", ev.Type, ev.SourcePlatform, ev.SourceID)
		return nil
	},
}

func init() {
	eventCmd.Flags().StringVar(&eventContactID, "contact-id", "", "engine contact id the event belongs to")
	eventCmd.Flags().StringVar(&eventType, "type", "activity", "event type (activity, meeting, form_submission, deal)")
	eventCmd.Flags().StringVar(&eventTimestamp, "timestamp", "", "event time, RFC 3339 (default now)")
	eventCmd.Flags().StringVar(&eventPlatform, "platform", "", "source platform")
	eventCmd.Flags().StringVar(&eventSourceID, "source-id", "", "event id on the source platform")
	eventCmd.Flags().StringVar(&eventSourceContact, "source-contact-id", "", "contact id on the source platform")
	eventCmd.Flags().StringVar(&eventSubject, "subject", "", "event subject")
	eventCmd.Flags().Float64Var(&eventDealValue, "deal-value", 0, "deal value")
	eventCmd.Flags().Float64Var(&eventDealCash, "deal-cash-collected", 0, "cash collected on the deal")
	eventCmd.Flags().StringVar(&eventDealStatus, "deal-status", "open", "deal status (open, won, lost, pending)")
	rootCmd.AddCommand(eventCmd)
}
