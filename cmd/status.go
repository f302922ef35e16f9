package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/leighmacdonald/mcrcon/metrics"
	"github.com/leighmacdonald/mcrcon/rcon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [server]",
	Short: "Show tick performance, mob caps and players of a server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := serverName
		if len(args) == 1 {
			name = args[0]
		}
		server, err := resolveServer(name)
		if err != nil {
			return err
		}
		m, err := metrics.Fetch(commandContext(cmd), client(), server)
		if err != nil {
			return err
		}
		status, err := metrics.Ping(server.GameHost())
		if err != nil {
			log.WithError(err).WithField("server", server.Name).Warn("Server list ping failed")
		}
		printStatus(server, m, status)
		return nil
	},
}

func printStatus(server *rcon.Server, m *metrics.ServerMetrics, status *metrics.Status) {
	band := metrics.EmbedColor(m.Performance.MSPT)
	tw := newTable(os.Stdout, "Server", server.Name)
	tw.Append([]string{"MSPT", bandColors[band].Sprintf("%d (%s)", m.Performance.MSPT, band)})
	tw.Append([]string{"TPS", fmt.Sprintf("%d", m.Performance.TPS)})
	tw.Append([]string{"Overworld", m.Mobcap.Overworld})
	tw.Append([]string{"Nether", m.Mobcap.Nether})
	tw.Append([]string{"End", m.Mobcap.End})
	tw.Append([]string{"Players", fmt.Sprintf("%d/%d", m.Players.Count, m.Players.Max)})
	if len(m.Players.Names) > 0 {
		tw.Append([]string{"Online", strings.Join(m.Players.Names, ", ")})
	}
	if status != nil {
		tw.Append([]string{"Version", status.Version})
		tw.Append([]string{"MOTD", status.Description})
		tw.Append([]string{"Latency", fmt.Sprintf("%dms", status.Latency)})
	} else {
		tw.Append([]string{"Version", errorColor.Sprint("unreachable")})
	}
	tw.Render()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
