package cmd

import (
	"fmt"
	"os"

	"github.com/leighmacdonald/mcrcon/rcon"
	"github.com/leighmacdonald/mcrcon/whitelist"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Manage the whitelist of every configured server",
}

var whitelistAddCmd = &cobra.Command{
	Use:   "add <player>",
	Short: "Whitelist a player, granting op on operator servers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateWhitelist(cmd, args[0], true)
	},
}

var whitelistRemoveCmd = &cobra.Command{
	Use:   "remove <player>",
	Short: "Remove a player from the whitelist and revoke op",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateWhitelist(cmd, args[0], false)
	},
}

var whitelistListCmd = &cobra.Command{
	Use:   "list [server]",
	Short: "Print the whitelist of a server",
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
		names, err := whitelist.List(commandContext(cmd), client(), server)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("There are no whitelisted players")
			return nil
		}
		tw := newTable(os.Stdout, "#", "Player")
		for i, n := range names {
			tw.Append([]string{fmt.Sprintf("%d", i+1), n})
		}
		tw.Render()
		return nil
	},
}

// whitelistTargets is every configured server, or the single --host/--server
// target when one was given.
func whitelistTargets() ([]*rcon.Server, error) {
	if host != "" || serverName != "" {
		server, err := resolveServer(serverName)
		if err != nil {
			return nil, err
		}
		return []*rcon.Server{server}, nil
	}
	servers := cfg.ServerList()
	if len(servers) == 0 {
		return nil, errors.New("no servers configured")
	}
	return servers, nil
}

func updateWhitelist(cmd *cobra.Command, ign string, add bool) error {
	servers, err := whitelistTargets()
	if err != nil {
		return err
	}
	report, err := whitelist.Apply(commandContext(cmd), client(), servers, ign, add)
	if err != nil {
		return err
	}
	printReport(report)
	if report.Failed() {
		return errors.Errorf("whitelist update for %s failed on one or more servers", ign)
	}
	return nil
}

func printReport(report *whitelist.Report) {
	tw := newTable(os.Stdout, "Server", "Whitelist", "Op")
	for _, e := range report.Entries {
		op := "-"
		if e.Op != nil {
			op = outcomeText(*e.Op)
		}
		tw.Append([]string{e.Server, outcomeText(e.Whitelist), op})
	}
	tw.Render()
}

func outcomeText(o whitelist.Outcome) string {
	switch o {
	case whitelist.Success:
		return successColor.Sprint(o.String())
	case whitelist.Fail:
		return errorColor.Sprint(o.String())
	default:
		return o.String()
	}
}

func init() {
	whitelistCmd.AddCommand(whitelistAddCmd, whitelistRemoveCmd, whitelistListCmd)
	rootCmd.AddCommand(whitelistCmd)
}
