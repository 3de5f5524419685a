// File: cmd/fetch.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/fetchproxy/internal/observability"
)

// newFetchCmd creates the one-shot `fetch` command. Failures are reported in
// the printed envelope; the exit status only reflects CLI errors.
func newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch [command]",
		Short: "Run a single fetch command and print the response envelope",
		Long: `Run a single fetch command against the remote browser and print the
JSON envelope. The command is read from the argument, or from stdin when no
argument is given. It must contain a "referrer": "<url>" field naming the page
to navigate to first.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{stderrLogsAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			command, err := readCommand(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			env := newProxy(ctx, cfg, nil, logger).Execute(ctx, command)

			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(env); err != nil {
				return fmt.Errorf("failed to write envelope: %w", err)
			}
			return nil
		},
	}

	fetchCmd.Flags().String("cdp-host", "", "remote debugging host (overrides CDP_HOST)")
	fetchCmd.Flags().Int("cdp-port", 9222, "remote debugging port")
	fetchCmd.Flags().Duration("settle-delay", 0, "pause after DOMContentLoaded before evaluating (default from config, 2s)")

	bindFlag(fetchCmd, "cdp-host", "browser.host")
	bindFlag(fetchCmd, "cdp-port", "browser.port")
	bindFlag(fetchCmd, "settle-delay", "browser.settle_delay")
	return fetchCmd
}

func readCommand(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read command from stdin: %w", err)
	}
	command := strings.TrimSpace(string(b))
	if command == "" {
		return "", errors.New("no command given: pass it as an argument or on stdin")
	}
	return command, nil
}
