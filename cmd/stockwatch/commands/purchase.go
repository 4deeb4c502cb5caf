package commands

import (
	"fmt"
	"time"

	"stockwatch-backend/lib/config"
	"stockwatch-backend/lib/notify"
	"stockwatch-backend/lib/restyutil"
	"stockwatch-backend/lib/scrapers/woocommerce/purchaser"
	"stockwatch-backend/lib/statestore"

	"github.com/spf13/cobra"
)

var (
	purchaseConfigPath string
	purchaseDryRun     bool
	purchaseClearState bool
)

func init() {
	purchaseCmd.Flags().StringVar(&purchaseConfigPath, "config", "conf/purchase.yaml",
		"path to the purchase configuration")
	purchaseCmd.Flags().BoolVar(&purchaseDryRun, "dry-run", false,
		"stop after add-to-cart, do not check out")
	purchaseCmd.Flags().BoolVar(&purchaseClearState, "clear-state", false,
		"forget the recorded order for this product and exit")
	rootCmd.AddCommand(purchaseCmd)
}

var purchaseCmd = &cobra.Command{
	Use:   "purchase",
	Short: "Buys the configured product once, skipping if already bought.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.LoadPurchase(purchaseConfigPath)
		if err != nil {
			return err
		}

		state, err := statestore.New(cfg.StatePath)
		if err != nil {
			return err
		}

		if purchaseClearState {
			if err := state.ClearPurchase(cfg.Product.ProductID, cfg.Product.VariationID); err != nil {
				return err
			}
			fmt.Printf("cleared purchase state for %d:%d\n",
				cfg.Product.ProductID, cfg.Product.VariationID)
			return nil
		}

		productName := config.NameFromURL(cfg.Product.URL)

		// idempotency guard: one order per (product, variation)
		if record, ok := state.GetPurchaseInfo(cfg.Product.ProductID, cfg.Product.VariationID); ok {
			fmt.Printf("already purchased: order %s placed at %s\n",
				record.OrderID, record.Timestamp)
			return nil
		}

		slack := notify.NewSlack(cfg.Slack.WebhookURL, cfg.Slack.Username, cfg.Slack.IconEmoji)

		p, err := purchaser.New(purchaser.Options{
			BaseURL:      cfg.Store.BaseURL,
			Timeout:      cfg.Store.Timeout(),
			UserAgent:    cfg.Store.UserAgent,
			LocalePhrase: cfg.Store.OutOfStockMessage,
		})
		if err != nil {
			return err
		}
		if verbose {
			p.EnableExchangeDump(restyutil.NewFilesystemOutput(".dev/resty/purchase"))
		}

		added, err := p.AddToCart(ctx, purchaser.Product{
			URL:         cfg.Product.URL,
			ProductID:   cfg.Product.ProductID,
			VariationID: cfg.Product.VariationID,
			Quantity:    cfg.Product.Quantity,
			Attributes:  cfg.Product.Attributes,
		})
		if err != nil {
			slack.SendError(ctx, err, productName)
			return err
		}
		if !added {
			err := fmt.Errorf("store refused to add %s to cart, likely out of stock", productName)
			slack.SendError(ctx, err, productName)
			return err
		}

		if purchaseDryRun {
			fmt.Println("dry run: added to cart, stopping before checkout")
			return nil
		}

		orderID, err := p.Checkout(ctx,
			purchaser.BillingInfo(cfg.Billing),
			purchaser.ShippingInfo(cfg.Shipping),
			purchaser.PaymentInfo(cfg.Payment),
		)
		if err != nil {
			slack.SendError(ctx, err, productName)
			return err
		}

		if err := state.MarkPurchased(cfg.Product.ProductID, cfg.Product.VariationID, orderID, time.Time{}); err != nil {
			// the order exists even if the ledger write failed, so report both
			fmt.Printf("order %s placed, but recording it failed: %v\n", orderID, err)
			slack.SendSuccess(ctx, orderID, productName)
			return err
		}

		slack.SendSuccess(ctx, orderID, productName)
		fmt.Printf("order %s placed for %s\n", orderID, productName)
		return nil
	},
}
