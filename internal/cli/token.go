package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the admin API token of the running server",
	Long: `Show the admin API token of the running server.

Use this when you've scrolled past the startup message or need to
call the admin API from a script.

Example:
  popgoat token
  curl -H "Authorization: Bearer $(popgoat token --raw)" localhost:8080/v1/campaigns`,
	RunE: runToken,
}

var tokenRaw bool

func init() {
	tokenCmd.Flags().BoolVar(&tokenRaw, "raw", false, "print only the token")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(getTokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: popgoat")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token, port := parseTokenFile(data)
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: popgoat")
	}

	out := cmd.OutOrStdout()
	if tokenRaw {
		fmt.Fprintln(out, token)
		return nil
	}

	if port > 0 {
		fmt.Fprintf(out, "Admin API: %s/v1/campaigns\n", serverURL(port))
	}
	fmt.Fprintf(out, "Token:     %s\n", token)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Tip: send it as 'Authorization: Bearer <token>' or ?token=<token>.")
	return nil
}
