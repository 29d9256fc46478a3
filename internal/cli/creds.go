package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/softlock-games/tandem/internal/config"
	"github.com/softlock-games/tandem/internal/relay"
	"github.com/softlock-games/tandem/internal/ui"
)

var (
	flagCredsDomain string
	flagCredsID     string
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Fetch TURN credentials from the relay",
	Long: `Fetch a time-boxed TURN credential pair from the relay's credential
endpoint. Useful for checking a relay deployment or for wiring the TURN
URLs into other tooling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetchCreds()
	},
}

func fetchCreds() error {
	cfg, err := LoadConfig(config.Options{Domain: flagCredsDomain})
	if err != nil {
		return err
	}

	id := flagCredsID
	if id == "" {
		id = uuid.NewString()
	}

	stopSpinner := ui.RunConnectSpinner("Requesting credentials...")
	defer stopSpinner()

	endpoint := cfg.CredentialsURL() + "?id=" + url.QueryEscape(id)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("request credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("relay at %s does not issue TURN credentials", cfg.Domain)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned %s", resp.Status)
	}

	var creds relay.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return fmt.Errorf("decode credentials: %w", err)
	}
	stopSpinner()

	fmt.Println()
	ui.RenderCredentials(ui.CredentialInfo{
		Username:   creds.Username,
		Credential: creds.Credential,
		TTL:        time.Duration(creds.TTL) * time.Second,
		URLs:       creds.URLs,
	})
	return nil
}

func init() {
	rootCmd.AddCommand(credsCmd)

	credsCmd.Flags().StringVarP(&flagCredsDomain, "domain", "d", "", "Custom relay domain")
	credsCmd.Flags().StringVar(&flagCredsID, "id", "", "Peer id to mint for (random when empty)")
}
