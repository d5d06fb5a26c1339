package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/chinmay1088/rethx/config"
	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Endpoint kinds
const (
	EndpointHTTP = "http"
	EndpointWS   = "ws"
)

func newEndpointCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoint [http|ws] [url]",
		Short: "Show or change node endpoints",
		Long: `Show the configured node endpoints or store a new one in the config file.

The http endpoint serves request/response calls (http, https, ws or wss).
The ws endpoint serves subscriptions and must be ws or wss.

Examples:
  rethx endpoint                              # Show both endpoints
  rethx endpoint ws                           # Show the websocket endpoint
  rethx endpoint http http://10.0.0.5:8545    # Change the http endpoint
  rethx endpoint ws wss://node.example/ws     # Change the websocket endpoint`,
		Args: cobra.MaximumNArgs(2),
		RunE: a.runEndpoint,
	}
}

func (a *app) runEndpoint(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// If no arguments provided, show both endpoints
	if len(args) == 0 {
		fmt.Fprintln(out, "🌐 Node endpoints")
		fmt.Fprintf(out, "   - http: %s\n", showURL(a.cfg.HTTPURL))
		fmt.Fprintf(out, "   - ws:   %s\n", showURL(a.cfg.WSURL))
		return nil
	}

	kind := strings.ToLower(args[0])
	key, schemes, err := endpointKey(kind)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		fmt.Fprintln(out, showURL(a.v.GetString(key)))
		return nil
	}

	raw := strings.TrimSpace(args[1])
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid %s endpoint: %s", kind, raw)
	}
	if !lo.ContainsBy(schemes, func(s string) bool { return strings.EqualFold(s, u.Scheme) }) {
		return fmt.Errorf("invalid %s endpoint: %s. Use one of %s", kind, raw, strings.Join(schemes, ", "))
	}

	if err := config.SaveEndpoint(a.v, a.cfgFile, key, raw); err != nil {
		return err
	}
	fmt.Fprintf(out, "🌐 Switched %s endpoint to %s\n", kind, color.GreenString(raw))
	return nil
}

func endpointKey(kind string) (string, []string, error) {
	switch kind {
	case EndpointHTTP:
		return config.KeyHTTPURL, []string{"http", "https", "ws", "wss"}, nil
	case EndpointWS:
		return config.KeyWSURL, []string{"ws", "wss"}, nil
	}
	return "", nil, fmt.Errorf("invalid endpoint kind: %s. Use 'http' or 'ws'", kind)
}

func showURL(u string) string {
	if u == "" {
		return color.YellowString("not set")
	}
	return u
}
