package setup

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/viper"
)

const probeTimeout = 5 * time.Second

// validateBackendURL accepts absolute http(s) urls
func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

// probeBackend checks that something answers at the backend url. Any HTTP
// response counts; only transport failures are reported.
func (m WizardModel) probeBackend() tea.Cmd {
	target := m.backendInput.Value()
	client := m.httpClient

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backendCheckedMsg{err: err}
		}
		resp, err := client.Do(req)
		if err != nil {
			return backendCheckedMsg{err: err}
		}
		resp.Body.Close()
		return backendCheckedMsg{}
	}
}

// WriteConfig saves the wizard's choices to path as YAML
func WriteConfig(path string, r *SetupResult) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	// Keep keys set by hand in an existing file
	_ = v.ReadInConfig()

	v.Set("backend.url", r.BackendURL)
	if r.WalletAddress != "" {
		v.Set("wallet.address", r.WalletAddress)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
