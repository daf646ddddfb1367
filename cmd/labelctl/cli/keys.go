package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"labelgate/backend/internal/domain"
	"labelgate/backend/internal/service"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keys",
		Aliases: []string{"key"},
		Short:   "Manage access keys",
	}

	cmd.AddCommand(newKeysCreateCmd())
	cmd.AddCommand(newKeysListCmd())
	cmd.AddCommand(newKeysToggleCmd())

	return cmd
}

// ---------- keys create ----------

func newKeysCreateCmd() *cobra.Command {
	var (
		prefix      string
		description string
		maxUses     int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new access key",
		Example: `  labelctl keys create --prefix SHOP --description "Spring batch" --max-uses 50
  labelctl keys create --prefix DEMO --description "Trial" --max-uses 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openServices(cmd.Context())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer closeFn()

			key, err := svc.Keys.Create(cmd.Context(), service.CreateKeyInput{
				Prefix:      prefix,
				Description: description,
				MaxUses:     maxUses,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Access key created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Code:     %s\n", key.Code)
			fmt.Fprintf(out, "  Max uses: %d\n", key.MaxUses)
			fmt.Fprintf(out, "  ID:       %s\n", key.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "code prefix: letters, digits, dash or underscore (required)")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description (required)")
	cmd.Flags().IntVar(&maxUses, "max-uses", 1, "number of labels the key may generate")
	_ = cmd.MarkFlagRequired("prefix")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}

// ---------- keys list ----------

func newKeysListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all access keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openServices(cmd.Context())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer closeFn()

			keys, err := svc.Keys.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list access keys: %w", err)
			}
			return printKeys(cmd, keys, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func printKeys(cmd *cobra.Command, keys []domain.AccessKey, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(out, "No access keys. Use 'labelctl keys create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-28s %-10s %-8s %s\n", "CODE", "USES", "ACTIVE", "DESCRIPTION")
	fmt.Fprintf(out, "%-28s %-10s %-8s %s\n", "----", "----", "------", "-----------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		uses := fmt.Sprintf("%d/%d", k.CurrentUses, k.MaxUses)
		fmt.Fprintf(out, "%-28s %-10s %-8s %s\n", k.Code, uses, active, k.Description)
	}
	return nil
}

// ---------- keys toggle ----------

func newKeysToggleCmd() *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "toggle <code>",
		Short: "Activate or deactivate an access key",
		Example: `  labelctl keys toggle DEMO-2024-001 --active=false
  labelctl keys toggle DEMO-2024-001 --active`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := openServices(cmd.Context())
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer closeFn()

			key, err := svc.Keys.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			key, err = svc.Keys.SetActive(cmd.Context(), key.ID, active)
			if err != nil {
				return err
			}

			state := "activated"
			if !key.IsActive {
				state = "deactivated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Access key %s %s\n", key.Code, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&active, "active", true, "target state")

	return cmd
}
