package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/orgbilling/internal/config"
	"github.com/mihaimyh/orgbilling/pkg/billing"
	billingstripe "github.com/mihaimyh/orgbilling/pkg/billing/stripe"
)

var (
	customerCmd     = newCustomerCmd()
	checkoutCmd     = newCheckoutCmd()
	portalCmd       = newPortalCmd()
	subscriptionCmd = newSubscriptionCmd()
	migrateCmd      = newMigrateCmd()
)

func newCustomerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage Stripe customers",
	}

	var email, name, orgID string
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Find the customer with an email or create it",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := cliClient(cmd)
			if err != nil {
				return err
			}
			var metadata map[string]string
			if orgID != "" {
				metadata = map[string]string{"organization_id": orgID}
			}
			id, err := client.GetOrCreateCustomer(cmd.Context(), email, name, metadata)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"customer_id": id})
		},
	}
	ensure.Flags().StringVar(&email, "email", "", "customer email")
	ensure.Flags().StringVar(&name, "name", "", "customer name")
	ensure.Flags().StringVar(&orgID, "org", "", "organization id stored in customer metadata")
	_ = ensure.MarkFlagRequired("email")

	cmd.AddCommand(ensure)
	return cmd
}

func newCheckoutCmd() *cobra.Command {
	var (
		customerID, orgID, plan, interval, price string
		successURL, cancelURL                    string
		trialDays                                int64
	)

	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Create a subscription Checkout Session for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := cliClient(cmd)
			if err != nil {
				return err
			}
			priceID, err := resolvePrice(cfg, price, plan, interval)
			if err != nil {
				return err
			}
			session, err := client.CreateCheckoutSession(cmd.Context(), billingstripe.CheckoutParams{
				CustomerID:     customerID,
				PriceID:        priceID,
				OrganizationID: orgID,
				SuccessURL:     defaultURL(successURL, cfg.AppURL, "?checkout=success"),
				CancelURL:      defaultURL(cancelURL, cfg.AppURL, "?checkout=cancelled"),
				TrialDays:      trialDays,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": session.ID, "url": session.URL})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Stripe customer id")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&plan, "plan", "", "plan tier (basic, pro, enterprise)")
	cmd.Flags().StringVar(&interval, "interval", string(billing.IntervalMonthly), "billing interval (monthly, yearly)")
	cmd.Flags().StringVar(&price, "price", "", "explicit price id, overrides --plan and --interval")
	cmd.Flags().StringVar(&successURL, "success-url", "", "redirect after a successful checkout (default APP_URL)")
	cmd.Flags().StringVar(&cancelURL, "cancel-url", "", "redirect after an abandoned checkout (default APP_URL)")
	cmd.Flags().Int64Var(&trialDays, "trial-days", 0, "trial length in days")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func newPortalCmd() *cobra.Command {
	var customerID, returnURL string

	cmd := &cobra.Command{
		Use:   "portal",
		Short: "Create a billing portal session for a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := cliClient(cmd)
			if err != nil {
				return err
			}
			session, err := client.CreateBillingPortalSession(cmd.Context(), customerID, defaultURL(returnURL, cfg.AppURL, ""))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": session.ID, "url": session.URL})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Stripe customer id")
	cmd.Flags().StringVar(&returnURL, "return-url", "", "where the portal returns to (default APP_URL)")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func newSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Inspect and manage Stripe subscriptions",
	}

	get := &cobra.Command{
		Use:   "get <subscription-id>",
		Short: "Show a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := cliClient(cmd)
			if err != nil {
				return err
			}
			sub := client.GetSubscription(cmd.Context(), args[0])
			if sub == nil {
				return fmt.Errorf("subscription %s not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), summarize(sub))
		},
	}

	var immediate bool
	cancel := &cobra.Command{
		Use:   "cancel <subscription-id>",
		Short: "Cancel a subscription at period end, or now with --immediate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := cliClient(cmd)
			if err != nil {
				return err
			}
			sub, err := client.CancelSubscription(cmd.Context(), args[0], immediate)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summarize(sub))
		},
	}
	cancel.Flags().BoolVar(&immediate, "immediate", false, "end the subscription now")

	resume := &cobra.Command{
		Use:   "resume <subscription-id>",
		Short: "Undo a scheduled cancellation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := cliClient(cmd)
			if err != nil {
				return err
			}
			sub, err := client.ResumeSubscription(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summarize(sub))
		},
	}

	var price, plan, interval string
	changePlan := &cobra.Command{
		Use:   "change-plan <subscription-id>",
		Short: "Move a subscription to another price with prorations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := cliClient(cmd)
			if err != nil {
				return err
			}
			priceID, err := resolvePrice(cfg, price, plan, interval)
			if err != nil {
				return err
			}
			sub, err := client.UpdateSubscriptionPlan(cmd.Context(), args[0], priceID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summarize(sub))
		},
	}
	changePlan.Flags().StringVar(&price, "price", "", "new price id")
	changePlan.Flags().StringVar(&plan, "plan", "", "new plan tier, resolved through the catalog")
	changePlan.Flags().StringVar(&interval, "interval", string(billing.IntervalMonthly), "billing interval for --plan")

	cmd.AddCommand(get, cancel, resume, changePlan)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the billing tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

// resolvePrice returns the explicit price or looks the plan up in the catalog
// for the mode of the configured secret key.
func resolvePrice(cfg *config.Config, price, planName, intervalName string) (string, error) {
	if price = strings.TrimSpace(price); price != "" {
		return price, nil
	}
	if planName == "" {
		return "", fmt.Errorf("either --price or --plan is required")
	}
	plan, ok := billing.ParsePlan(planName)
	if !ok || plan == billing.PlanFree {
		return "", fmt.Errorf("invalid plan %q", planName)
	}
	interval := billing.Interval(strings.ToLower(strings.TrimSpace(intervalName)))
	if interval != billing.IntervalMonthly && interval != billing.IntervalYearly {
		return "", fmt.Errorf("invalid interval %q", intervalName)
	}
	return cfg.Catalog().PriceFor(plan, interval, cfg.Mode())
}

func defaultURL(explicit, appURL, suffix string) string {
	if explicit != "" {
		return explicit
	}
	if appURL == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/") + suffix
}

type subscriptionView struct {
	ID                string     `json:"id"`
	Customer          string     `json:"customer,omitempty"`
	Status            string     `json:"status"`
	PriceID           string     `json:"price_id,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

func summarize(sub *stripe.Subscription) subscriptionView {
	view := subscriptionView{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		view.Customer = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			view.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			view.CurrentPeriodEnd = &end
		}
	}
	return view
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
