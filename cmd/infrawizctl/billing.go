package main

import (
	"github.com/spf13/cobra"

	"github.com/lzjever/infrawiz/internal/apiclient"
)

var verifyReq apiclient.VerifyPaymentRequest

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Subscription and usage commands",
}

var billingSubscribeCmd = &cobra.Command{
	Use:   "subscribe <plan-id>",
	Short: "Start a subscription and print the checkout URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		sub, err := client.CreateSubscription(cmd.Context(), apiclient.SubscriptionRequest{PlanID: args[0]})
		if err != nil {
			return err
		}
		return printResult(sub)
	},
}

var billingVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a completed payment",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		sub, err := client.VerifyPayment(cmd.Context(), verifyReq)
		if err != nil {
			return err
		}
		return printResult(sub)
	},
}

var billingCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		sub, err := client.CancelSubscription(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(sub)
	},
}

var billingStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		st, err := client.BillingStatus(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(st)
	},
}

var billingUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage for the current period",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := newClient()
		if err != nil {
			return err
		}
		defer done()
		usage, err := client.Usage(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(usage)
	},
}

func init() {
	f := billingVerifyCmd.Flags()
	f.StringVar(&verifyReq.PaymentID, "payment-id", "", "payment id from checkout")
	f.StringVar(&verifyReq.SubscriptionID, "subscription-id", "", "subscription id")
	f.StringVar(&verifyReq.Signature, "signature", "", "payment signature")
	billingVerifyCmd.MarkFlagRequired("payment-id")
	billingVerifyCmd.MarkFlagRequired("subscription-id")
	billingVerifyCmd.MarkFlagRequired("signature")

	billingCmd.AddCommand(billingSubscribeCmd, billingVerifyCmd, billingCancelCmd, billingStatusCmd, billingUsageCmd)
	rootCmd.AddCommand(billingCmd)
}
