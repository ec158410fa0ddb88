package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags, apiFlags)
	wardenCommand := command{api: apiFlags}

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(wardenCommand),
		createServicesCommand(wardenCommand),
		createServiceCommand(wardenCommand),
		createEnableCommand(wardenCommand),
		createDisableCommand(wardenCommand),
		createPortCommand(wardenCommand),
	)
	return root
}

func createRootCommand(flags *GlobalFlags, api *APIFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Local supervisor for a fleet of network agents",
		Long: `Warden starts, health-checks and restarts the agents listed in its service
registry, arbitrates their TCP ports and exposes an admin API.

Examples:
  warden serve                         # Start the supervisor with defaults
  warden serve /etc/warden/warden.yaml # Start with a config file
  warden status                        # Fleet summary from a running supervisor
  warden enable hive_agent-camera      # Enable and start an agent`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (toml, yaml or json)")
	root.PersistentFlags().StringVar(&api.URL, "api-url", "", "admin API base URL (default "+defaultAPIURL+")")
	root.PersistentFlags().DurationVar(&api.Timeout, "api-timeout", defaultAPITimeout, "request timeout")
	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config]",
		Short: "Start the supervisor",
		Long: `Start the supervisor: load the service registry, launch every enabled agent,
run the health monitor and serve the admin API until SIGINT or SIGTERM.

Without a config file the defaults apply; WARDEN_* environment variables
override any setting (e.g. WARDEN_SERVER_LISTEN=127.0.0.1:6080).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			if len(args) > 0 {
				serveFlags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override server.listen")
	cmd.Flags().StringVar(&serveFlags.Registry, "registry", "", "override the service registry file")
	cmd.Flags().StringVar(&serveFlags.ServicesDir, "services-dir", "", "override the directory holding agent executables")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the fleet summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createServicesCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List every registry record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Services(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func createServiceCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "service NAME",
		Short: "Show one service with its runtime state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Service(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func createEnableCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "enable NAME",
		Short: "Enable a service and start it now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Enable(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func createDisableCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "disable NAME",
		Short: "Disable a service and stop it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Disable(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func createPortCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Port allocation commands",
	}

	allocFlags := &AllocateFlags{}
	allocate := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a port for a service",
		Long: `Allocate the preferred port if it is free, otherwise a port from the
fallback range.

Examples:
  warden port allocate --service=hive_agent-tts --preferred=7003`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.AllocatePort(cmd.Context(), cmd.OutOrStdout(), *allocFlags)
		},
	}
	allocate.Flags().StringVar(&allocFlags.Service, "service", "", "service name (required)")
	allocate.Flags().Uint16Var(&allocFlags.Preferred, "preferred", 0, "preferred port (required)")
	if err := allocate.MarkFlagRequired("service"); err != nil {
		panic(err)
	}
	if err := allocate.MarkFlagRequired("preferred"); err != nil {
		panic(err)
	}

	check := &cobra.Command{
		Use:   "check PORT",
		Short: "Report whether a port is in use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.CheckPort(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	cmd.AddCommand(allocate, check)
	return cmd
}
