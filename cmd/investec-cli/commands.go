package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/investec-adapter/internal/investec"
	"github.com/Checker-Finance/investec-adapter/internal/secrets"
	"github.com/Checker-Finance/investec-adapter/pkg/config"
	"github.com/Checker-Finance/investec-adapter/pkg/logger"
)

// cliClient names the single tenant served from INVESTEC_* settings.
const cliClient = "default"

type dispatcher interface {
	AccessBanking(ctx context.Context, clientID, destination string, p investec.Params) investec.Result
}

type serviceFactory func(cfg *config.Config) (dispatcher, error)

// newService builds a single-tenant service from process configuration.
func newService(cfg *config.Config) (dispatcher, error) {
	resolver, err := secrets.NewStaticResolver(cliClient, cfg)
	if err != nil {
		return nil, err
	}
	exec := investec.NewExecutor(logger.L(), nil, cfg.HTTPTimeout, cfg.RetryMax)

	var opts []investec.Option
	if cfg.ReuseSession {
		opts = append(opts, investec.WithSessionReuse(nil))
	}
	return investec.NewService(logger.L(), exec, resolver, opts...), nil
}

func newRootCmd(out io.Writer, build serviceFactory) *cobra.Command {
	var (
		baseURL  string
		logLevel string
		svc      dispatcher
	)

	root := &cobra.Command{
		Use:           "investec-cli",
		Short:         "Query the Investec private banking API",
		Long:          "Fetches accounts, transactions and balances with the credentials in INVESTEC_TOKEN (or INVESTEC_CLIENT_ID/INVESTEC_CLIENT_SECRET).",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			logger.Init("investec-cli", cfg.Env, logLevel)

			var err error
			svc, err = build(cfg)
			return err
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "override INVESTEC_BASE_URL")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	run := func(cmd *cobra.Command, destination string, p investec.Params) error {
		res := svc.AccessBanking(cmd.Context(), cliClient, destination, p)
		if res.Err != nil {
			return res.Err
		}
		return printJSON(out, res.Body)
	}

	accounts := &cobra.Command{
		Use:   "accounts",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, investec.DestinationAccounts.String(), investec.Params{})
		},
	}

	var p investec.Params
	transactions := &cobra.Command{
		Use:   "transactions <accountId>",
		Short: "List transactions of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.AccountID = args[0]
			return run(cmd, investec.DestinationAccountTransactions.String(), p)
		},
	}
	transactions.Flags().StringVar(&p.FromDate, "from", "", "first posting date (YYYY-MM-DD)")
	transactions.Flags().StringVar(&p.ToDate, "to", "", "last posting date (YYYY-MM-DD)")
	transactions.Flags().StringVar(&p.TransactionType, "type", "", "transaction type filter, e.g. CardPurchases")

	balance := &cobra.Command{
		Use:   "balance <accountId>",
		Short: "Show the balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, investec.DestinationAccountBalance.String(), investec.Params{AccountID: args[0]})
		},
	}

	root.AddCommand(accounts, transactions, balance)
	return root
}

func printJSON(out io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		// not JSON; print as received
		_, err = fmt.Fprintln(out, string(body))
		return err
	}
	_, err := fmt.Fprintln(out, buf.String())
	return err
}
