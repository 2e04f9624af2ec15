package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/ThaysonScript/software-aging-v2/cmd/agingmon/ui"
	"github.com/ThaysonScript/software-aging-v2/config"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the agent configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configDirnameCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the config file")
	return cmd
}

func configDirnameCmd() *cobra.Command {
	var (
		software    string
		system      string
		oldSoftware bool
		oldSystem   bool
	)

	cmd := &cobra.Command{
		Use:   "dirname",
		Short: "Print the log directory name for a software/system pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.LogDirName(software, oldSoftware, system, oldSystem))
			return err
		},
	}

	cmd.Flags().StringVar(&software, "software", "docker", "Container runtime name")
	cmd.Flags().StringVar(&system, "system", "ubuntu", "System name")
	cmd.Flags().BoolVar(&oldSoftware, "old-software", false, "Tag the software as old")
	cmd.Flags().BoolVar(&oldSystem, "old-system", false, "Tag the system as old")
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	tracer := ui.Muted("disabled")
	if cfg.Tracer.On() {
		tracer = cfg.Tracer.Binary + " " + cfg.Tracer.Script
	}
	clock := ui.Muted("disabled")
	if cfg.Clock.NTPServer != "" {
		clock = fmt.Sprintf("%s every %s (threshold %s)", cfg.Clock.NTPServer, cfg.Clock.Interval, cfg.Clock.Threshold)
	}

	fmt.Fprint(w, ui.KeyValues("",
		ui.KV("log dir", ui.Accent(cfg.LogDir())),
		ui.KV("software", cfg.Software),
		ui.KV("system", cfg.System),
		ui.KV("resources", fmt.Sprintf("%s every %s", cfg.Resources.Source, cfg.Resources.Interval)),
		ui.KV("lifecycle", fmt.Sprintf("%s driver, %s between passes", cfg.Lifecycle.Driver, cfg.Lifecycle.Interval)),
		ui.KV("readiness", cfg.Lifecycle.ReadinessMarker),
		ui.KV("tracer", tracer),
		ui.KV("clock check", clock),
	))

	rows := make([][]string, 0, len(cfg.Containers))
	for _, c := range cfg.Containers {
		rows = append(rows, []string{c.Name, strconv.Itoa(c.HostPort), strconv.Itoa(c.Port), cfg.ArchivePath(c.Name)})
	}
	fmt.Fprintln(w, ui.Table([]string{"CONTAINER", "HOST PORT", "PORT", "ARCHIVE"}, rows))
}
