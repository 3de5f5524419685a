// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fetchproxy/internal/config"
	"github.com/xkilldash9x/fetchproxy/internal/fetch"
	"github.com/xkilldash9x/fetchproxy/internal/observability"
)

// resetForTest provides the single source of truth for resetting test state.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	originalDialer := newDialer
	observability.ResetForTest()

	// Never resolve the docker alias or wait on the settle delay in tests.
	t.Setenv("CDP_HOST", "127.0.0.1")
	t.Setenv("FETCHPROXY_BROWSER_SETTLE_DELAY", "0s")
	t.Setenv("FETCHPROXY_LOGGER_LEVEL", "fatal")
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Cleanup(func() {
		cfgFile = ""
		newDialer = originalDialer
		observability.ResetForTest()
	})
}

// useDialer replaces the browser dialer for the duration of the test.
func useDialer(d fetch.Dialer) {
	newDialer = func(*zap.Logger) fetch.Dialer { return d }
}

// newPristineRootCmd returns a fresh command tree wired to in-memory streams.
func newPristineRootCmd(stdin io.Reader) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	return cmd, &out, &errOut
}

func executeCommand(t *testing.T, ctx context.Context, stdin io.Reader, args ...string) (string, string, error) {
	t.Helper()
	cmd, out, errOut := newPristineRootCmd(stdin)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// viperWithDefaults mirrors the first step of the root pre-run.
func viperWithDefaults() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	return v
}
