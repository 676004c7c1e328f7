// Package cli builds the fantasm command line.
//
// The stock binary in cmd/fantasm has no actions of its own and binds every
// action name to a no-op, which is enough to validate and draw machines.
// Programs that run real machines embed the command with their registry:
//
//	func main() {
//		reg := action.NewRegistry()
//		reg.RegisterFunc("charge", charge)
//		cli.Execute(reg)
//	}
package cli

import (
	"fmt"
	"os"

	"github.com/aretw0/fantasm/pkg/action"
	"github.com/spf13/cobra"
)

// Options are the flags shared by every command.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// EncryptionKey seals stored work packages when set (64 hex characters).
	EncryptionKey string
	FallbackKeys  []string
}

// NewRootCommand builds the command tree. A nil registry binds every
// action to a no-op.
func NewRootCommand(reg *action.Registry) *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:           "fantasm",
		Short:         "Fantasm runs durable, queue-driven state machines",
		Long:          `Fantasm executes state machines declared in YAML, one queued task per transition.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "fantasm.yaml", "Machine definition file (YAML or JSON)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error, critical)")
	root.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "Log format (text, json)")
	root.PersistentFlags().StringVar(&opts.EncryptionKey, "encryption-key", os.Getenv("FANTASM_ENCRYPTION_KEY"), "Hex AES-256 key sealing stored work packages")
	root.PersistentFlags().StringSliceVar(&opts.FallbackKeys, "fallback-key", nil, "Retired hex keys still accepted for decryption")

	root.AddCommand(
		newValidateCmd(opts, reg),
		newGraphCmd(opts, reg),
		newServeCmd(opts, reg),
		newStartCmd(opts, reg),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute(reg *action.Registry) {
	if err := NewRootCommand(reg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
