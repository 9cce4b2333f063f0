package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/org/checkoutgate/internal/crypto"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "checkoutgate CLI",
	Long:  "A CLI for operating a running checkoutgate server: limits, approvals, orders and logs.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(limitsCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(purchasesCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keygenCmd())
}

// run executes a request and prints its result. Request errors are printed
// and the command still exits cleanly, as the rest of the CLI does.
func run(fn func(c *Client) (map[string]any, error)) error {
	result, err := fn(newClient())
	if err != nil {
		printError(err.Error())
		return nil
	}
	printResult(result)
	return nil
}

// --- health ---

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health and record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) { return c.get("/healthz") })
		},
	}
}

// --- limits ---

func limitsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "limits", Short: "Read or set the spending cap and quantity ceiling"}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show the current limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) { return c.get("/limits") })
		},
	}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Replace the current limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			capUSD, _ := cmd.Flags().GetFloat64("cap")
			qty, _ := cmd.Flags().GetInt("qty")
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/limits", map[string]any{"cap": capUSD, "qty": qty})
			})
		},
	}
	setCmd.Flags().Float64("cap", 0, "Spending cap in USD")
	setCmd.Flags().Int("qty", 0, "Maximum quantity per order")

	cmd.AddCommand(getCmd, setCmd)
	return cmd
}

// --- decision ---

func decisionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "decision", Short: "Poll or submit approval decisions"}

	getCmd := &cobra.Command{
		Use:   "get <token>",
		Short: "Show the decision recorded for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(c *Client) (map[string]any, error) {
				return c.get("/decision/" + url.PathEscape(args[0]))
			})
		},
	}

	submitCmd := &cobra.Command{
		Use:   "submit <token> <approve|deny>",
		Short: "Submit a decision as an inbound approval email",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			digit, err := decisionDigit(args[1])
			if err != nil {
				printError(err.Error())
				return nil
			}
			from, _ := cmd.Flags().GetString("from")
			return run(func(c *Client) (map[string]any, error) {
				return c.postInbound(url.Values{
					"from":    {from},
					"subject": {"Purchase approval"},
					"text":    {fmt.Sprintf("TOKEN: %s\n%s\n", args[0], digit)},
				})
			})
		},
	}
	submitCmd.Flags().String("from", "gatectl", "Sender recorded with the decision")

	cmd.AddCommand(getCmd, submitCmd)
	return cmd
}

func decisionDigit(s string) (string, error) {
	switch strings.ToLower(s) {
	case "approve", "yes", "1":
		return "1", nil
	case "deny", "no", "2":
		return "2", nil
	}
	return "", fmt.Errorf("decision must be approve or deny, got %q", s)
}

// --- order ---

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "order", Short: "Add to cart and check out"}

	addCmd := &cobra.Command{
		Use:   "add <site> <product-id>",
		Short: "Add a product to the merchant cart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, _ := cmd.Flags().GetInt("qty")
			price, _ := cmd.Flags().GetFloat64("price")
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/order/add", map[string]any{
					"site":       args[0],
					"product_id": args[1],
					"qty":        qty,
					"price_usd":  price,
				})
			})
		},
	}
	addCmd.Flags().Int("qty", 1, "Quantity")
	addCmd.Flags().Float64("price", 0, "Unit price in USD")

	checkoutCmd := &cobra.Command{
		Use:   "checkout <site>",
		Short: "Check out the merchant cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			capUSD, _ := cmd.Flags().GetFloat64("cap")
			rawItems, _ := cmd.Flags().GetStringSlice("item")
			items, err := parseItems(rawItems)
			if err != nil {
				printError(err.Error())
				return nil
			}
			return run(func(c *Client) (map[string]any, error) {
				return c.post("/order/checkout", map[string]any{
					"site":           args[0],
					"decision_token": token,
					"cap_usd":        capUSD,
					"items":          items,
				})
			})
		},
	}
	checkoutCmd.Flags().String("token", "", "Approved decision token")
	checkoutCmd.Flags().Float64("cap", 0, "Maximum order total in USD")
	checkoutCmd.Flags().StringSlice("item", nil, "Item as id[:qty], repeatable")

	cmd.AddCommand(addCmd, checkoutCmd)
	return cmd
}

// parseItems reads id[:qty] pairs; qty defaults to 1.
func parseItems(raw []string) ([]map[string]any, error) {
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		id, qtyStr, found := strings.Cut(r, ":")
		if id == "" {
			return nil, fmt.Errorf("invalid item %q: missing id", r)
		}
		qty := 1
		if found {
			n, err := strconv.Atoi(qtyStr)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid item %q: qty must be a positive integer", r)
			}
			qty = n
		}
		items = append(items, map[string]any{"id": id, "qty": qty})
	}
	return items, nil
}

// --- purchases ---

func purchasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purchases",
		Short: "List recent purchases (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/purchases.json")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if outputFormat != "table" {
				printResult(result)
				return nil
			}
			printPurchases(result)
			return nil
		},
	}
}

// --- logs ---

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the tail of the audit log (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("n")
			client := newClient()
			body, err := client.getText(fmt.Sprintf("/admin/logs?n=%d&format=txt", n))
			if err != nil {
				printError(err.Error())
				return nil
			}
			fmt.Print(body)
			return nil
		},
	}
	cmd.Flags().Int("n", 200, "Number of lines (1-5000)")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage the CLI configuration"}

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Save connection settings to ~/.checkoutgate/config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("address"); v != "" {
				cfg.Address = v
			}
			if v, _ := cmd.Flags().GetString("admin-user"); v != "" {
				cfg.AdminUser = v
			}
			if v, _ := cmd.Flags().GetString("admin-pass"); v != "" {
				cfg.AdminPass = v
			}
			if v, _ := cmd.Flags().GetString("inbound-secret"); v != "" {
				cfg.InboundSecret = v
			}
			if v, _ := cmd.Flags().GetString("ca-cert"); v != "" {
				cfg.TLSCACert = v
			}
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Saved " + configPath())
			return nil
		},
	}
	setCmd.Flags().String("address", "", "Server address")
	setCmd.Flags().String("admin-user", "", "Admin Basic-Auth user")
	setCmd.Flags().String("admin-pass", "", "Admin Basic-Auth password")
	setCmd.Flags().String("inbound-secret", "", "Shared secret for /inbound")
	setCmd.Flags().String("ca-cert", "", "CA certificate for TLS")

	cmd.AddCommand(setCmd)
	return cmd
}

// --- keygen ---

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new cookie_enc_key for the server config",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
