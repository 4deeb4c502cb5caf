package commands

import (
	"fmt"

	"stockwatch-backend/lib/config"
	"stockwatch-backend/lib/monitor"
	"stockwatch-backend/lib/notify"
	"stockwatch-backend/lib/scrapers/woocommerce/checker"
	"stockwatch-backend/lib/statestore"

	"github.com/spf13/cobra"
)

var (
	checkConfigPath string
	checkClearState string
)

func init() {
	checkCmd.Flags().StringVar(&checkConfigPath, "config", "conf/config.yaml",
		"path to the monitor configuration")
	checkCmd.Flags().StringVar(&checkClearState, "clear-state", "",
		"clear the notification streak for the given product URL and exit")
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Checks every configured product once and notifies on restock.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(checkConfigPath)
		if err != nil {
			return err
		}

		state, err := statestore.New(cfg.StatePath)
		if err != nil {
			return err
		}

		if checkClearState != "" {
			if err := state.ClearNotification(checkClearState); err != nil {
				return err
			}
			fmt.Println("cleared notification state for", checkClearState)
			return nil
		}

		products := make([]monitor.Product, 0, len(cfg.Products))
		for _, p := range cfg.Products {
			products = append(products, monitor.Product{Name: p.Name, URL: p.URL})
		}

		service := monitor.New(
			checker.New(checker.Options{
				Timeout:         cfg.Checker.Timeout(),
				UserAgent:       cfg.Checker.UserAgent,
				MaxRetries:      cfg.Checker.MaxRetries,
				RetryDelay:      cfg.Checker.RetryDelay(),
				AssumeAvailable: cfg.Checker.AssumeAvailable,
				ErrorPhrases:    cfg.Checker.ErrorPhrases,
			}),
			notify.NewSlack(cfg.Slack.WebhookURL, cfg.Slack.Username, cfg.Slack.IconEmoji),
			state,
		)

		summary := service.CheckAndNotify(cmd.Context(), products)
		fmt.Printf("checked %d, available %d, notified %d, already notified %d, errors %d\n",
			summary.Checked, summary.Available, summary.Notified,
			summary.AlreadyNotified, summary.Errors)

		if err := cmd.Context().Err(); err != nil {
			return err
		}
		return nil
	},
}
