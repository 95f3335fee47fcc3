// cmd/flags.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tabquery/internal/browser"
	"github.com/xkilldash9x/tabquery/internal/browser/session"
	"github.com/xkilldash9x/tabquery/internal/config"
)

// connFlags are the flags that pick a browser tab or a static document.
type connFlags struct {
	source   string
	chrome   bool
	edge     bool
	port     int
	tabIndex int
}

func (f *connFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.String("backend", "", "where the query runs: static, cdp, inpage or playwright")
	fl.StringVar(&f.source, "source", "", "HTML file or URL for the static backend (implies --backend static)")
	fl.BoolVar(&f.chrome, "chrome", false, "attach to Chrome")
	fl.BoolVar(&f.edge, "edge", false, "attach to Edge")
	fl.IntVar(&f.port, "port", 0, "remote debugging port (default from browser.chrome_port or browser.edge_port)")
	fl.String("tab", "", "glob matched against tab titles and URLs")
	fl.IntVar(&f.tabIndex, "tab-index", -1, "pick the n-th matching tab instead of the first")
	cmd.MarkFlagsMutuallyExclusive("chrome", "edge")
}

// request builds a backend request from the flags and cfg.
func (f *connFlags) request(cmd *cobra.Command, cfg config.Interface) browser.Request {
	backend := cfg.Browser().Backend
	if f.source != "" && !cmd.Flags().Changed("backend") {
		backend = config.BackendStatic
	}

	var name string
	switch {
	case f.chrome:
		name = config.BrowserChrome
	case f.edge:
		name = config.BrowserEdge
	}

	return browser.Request{
		Backend: backend,
		Source:  f.source,
		Browser: name,
		Port:    f.port,
		Tab:     session.TabSelector{Pattern: cfg.Browser().Tab, Index: f.tabIndex},
	}
}

func registerQueryFlags(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.Bool("yield-hosts", false, "also yield shadow hosts and frames matched by the last selector")
	fl.Bool("descend-light-dom", false, "continue into the light DOM of hosts without a shadow root")
	fl.Duration("action-timeout", 0, "bound on each action script (default from query.action_timeout)")
	fl.StringP("format", "o", "", "output format: text or json")
}
