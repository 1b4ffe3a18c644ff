package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"axisverify/internal/axissim"
	"axisverify/internal/pv"
)

func newSimCmd() *cobra.Command {
	var (
		device   string
		axes     []string
		httpAddr string
		lineAddr string
		mcpAddr  string
	)
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve simulated axes over the network",
		Long: `Serve a simulated controller so that axisverify run, or any other client,
can be tried without hardware.

The simulated axes are the configured axes plus those listed under
simulator.axes. They are served over:
- HTTP (GET/PUT /pv/{name}) and websocket (/ws) on --http
- the line protocol ("get NAME" / "put NAME VALUE") on --line
- MCP over SSE with the pv_get and pv_put tools on --mcp

Empty addresses are not served.

Example usage:
  axisverify sim
  axisverify run --transport websocket --endpoint ws://127.0.0.1:5064/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("device") {
				cfg.Device = device
			}
			if cmd.Flags().Changed("axis") {
				cfg.Axes = axes
			}
			opts := axissim.ServeOptions{
				HTTPAddr: cfg.Simulator.HTTPAddr,
				LineAddr: cfg.Simulator.LineAddr,
				MCPAddr:  cfg.Simulator.MCPAddr,
			}
			if cmd.Flags().Changed("http") {
				opts.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("line") {
				opts.LineAddr = lineAddr
			}
			if cmd.Flags().Changed("mcp") {
				opts.MCPAddr = mcpAddr
			}

			simAxes := simulatedAxes(cfg)
			if len(simAxes) == 0 {
				return fmt.Errorf("no axes to simulate")
			}
			ctrl := newSimController(cfg, simAxes)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "🤖 Simulating %d axes:\n", len(simAxes))
			for _, prefix := range ctrl.Prefixes() {
				fmt.Fprintf(out, "   • %s (e.g. %s)\n", prefix, cfg.Naming().Name(prefix, pv.RBV))
			}
			if opts.HTTPAddr != "" {
				fmt.Fprintf(out, "🌐 HTTP http://%s/pv/{name}, websocket ws://%s/ws\n", opts.HTTPAddr, opts.HTTPAddr)
			}
			if opts.LineAddr != "" {
				fmt.Fprintf(out, "📟 Line protocol tcp://%s\n", opts.LineAddr)
			}
			if opts.MCPAddr != "" {
				fmt.Fprintf(out, "🔌 MCP http://%s/sse\n", opts.MCPAddr)
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return axissim.Serve(ctx, ctrl, rootCmd.Version, opts)
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Controller prefix of the simulated axes")
	cmd.Flags().StringSliceVar(&axes, "axis", nil, "Axis to simulate (repeatable)")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP and websocket listen address")
	cmd.Flags().StringVar(&lineAddr, "line", "", "Line protocol listen address")
	cmd.Flags().StringVar(&mcpAddr, "mcp", "", "MCP (SSE) listen address")
	return cmd
}
