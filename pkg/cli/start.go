package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/spf13/cobra"
)

func newStartCmd(opts *Options, reg *action.Registry) *cobra.Command {
	var redisURL, data, instance string
	cmd := &cobra.Command{
		Use:   "start <machine>",
		Short: "Enqueue a new machine instance",
		Long:  `Enqueues the first hop of a new instance on the Redis queue, seeded with --data.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if redisURL == "" {
				return errors.New("--redis is required: an in-memory queue would vanish with this process")
			}
			values := map[string]any{}
			if data != "" {
				if err := json.Unmarshal([]byte(data), &values); err != nil {
					return fmt.Errorf("invalid --data: %w", err)
				}
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			g, err := loadGraph(opts, reg)
			if err != nil {
				return err
			}
			eng, err := createEngine(cmd.Context(), opts, g, redisURL, logger)
			if err != nil {
				return err
			}

			name := instance
			if name == "" {
				name, err = eng.Start(cmd.Context(), args[0], values)
			} else {
				err = eng.StartInstance(cmd.Context(), args[0], name, memoryFrom(values))
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", "", "Redis URL (redis://host:port/db)")
	cmd.Flags().StringVar(&data, "data", "", "Initial working memory as a JSON object")
	cmd.Flags().StringVar(&instance, "instance", "", "Instance name (default: generated)")
	return cmd
}

// memoryFrom copies values in key order so payloads are reproducible.
func memoryFrom(values map[string]any) *domain.Memory {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	mem := domain.NewMemory()
	for _, k := range keys {
		mem.Set(k, values[k])
	}
	return mem
}
