package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/walletscore/jobgate/internal/config"
	"github.com/walletscore/jobgate/internal/payment"
)

var (
	payloadPaymentID string
	payloadJobID     string
	payloadNetwork   string
	payloadTiming    = payment.DefaultTiming()
)

var purchasePayloadCmd = &cobra.Command{
	Use:   "purchase-payload",
	Short: "Print a purchase payload for a payment id",
	Long: `Build the body of a purchase request without contacting the payment
service. Deadlines are derived from the current time and the timing flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		network := payloadNetwork
		if network == "" {
			network = cfg.App.Network
		}
		if network != "mainnet" && network != "preprod" {
			return fmt.Errorf("invalid network %q (use mainnet or preprod)", network)
		}

		var jobID interface{}
		if payloadJobID != "" {
			jobID = payloadJobID
		}
		p := payment.BuildPurchasePayload(payment.PurchaseRequest{
			PaymentID:  payloadPaymentID,
			SellerVKey: cfg.Payments.SellerVKey,
			Network:    network,
			InputHash: payment.ComputeInputHash(map[string]interface{}{
				"payment_id": payloadPaymentID,
				"job_id":     jobID,
				"input":      nil,
			}),
			Timing: payloadTiming,
		}, time.Now())

		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	f := purchasePayloadCmd.Flags()
	f.StringVar(&payloadPaymentID, "payment-id", "", "identifier from purchaser")
	f.StringVar(&payloadJobID, "job-id", "", "job the payment belongs to")
	f.StringVar(&payloadNetwork, "network", "", "mainnet or preprod (defaults to the configured network)")
	f.IntVar(&payloadTiming.PayByMinutes, "pay-by-minutes", payloadTiming.PayByMinutes, "minutes until payByTime")
	f.IntVar(&payloadTiming.SubmitAfterPayByMinutes, "submit-after-pay-by-minutes", payloadTiming.SubmitAfterPayByMinutes, "minutes from payByTime to submitResultTime")
	f.IntVar(&payloadTiming.UnlockAfterSubmitMinutes, "unlock-after-submit-minutes", payloadTiming.UnlockAfterSubmitMinutes, "minutes from submitResultTime to unlockTime")
	f.IntVar(&payloadTiming.ExternalUnlockAfterUnlockMinutes, "external-unlock-after-unlock-minutes", payloadTiming.ExternalUnlockAfterUnlockMinutes, "minutes from unlockTime to externalDisputeUnlockTime")
	purchasePayloadCmd.MarkFlagRequired("payment-id")
}
