package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/switchboard/internal/config"
	"github.com/cory-johannsen/switchboard/internal/scripting"
)

func pluginsCmd() *cobra.Command {
	var (
		configPath string
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List built-in and Lua plugins without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if dir == "" {
				dir = cfg.Plugins.ScriptDir
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tVERSION\tENABLED\tDESCRIPTION")
			enabled := make(map[string]bool, len(cfg.Plugins.Builtin))
			for _, id := range cfg.Plugins.Builtin {
				enabled[id] = true
			}
			for _, id := range builtinIDs() {
				fmt.Fprintf(w, "%s\tbuiltin\t%s\t%t\t\n", id, version, enabled[id])
			}

			if dir != "" {
				scripts, err := scripting.NewManager(zap.NewNop(), 0).LoadDir(dir)
				if err != nil {
					return err
				}
				for _, s := range scripts {
					m := s.Manifest()
					fmt.Fprintf(w, "%s\tlua\t%s\t%t\t%s\n", m.ID, m.Version, true, m.Description)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVar(&dir, "dir", "", "Lua plugin directory (defaults to plugins.script_dir)")
	return cmd
}
