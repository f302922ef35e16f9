package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/leighmacdonald/mcrcon/rcon"
	"github.com/pkg/errors"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgFile    string
	serverName string
	host       string
	password   string
	timeout    time.Duration
	quirks     bool
	failFast   bool
	logLevel   string
	noColor    bool

	cfg *rcon.Config
)

// rootCmd represents the base command when called without any sub commands
var rootCmd = &cobra.Command{
	Use:   "mcrcon [command]",
	Short: "Minecraft RCON admin tool",
	Long: `Run commands, batches of ; separated commands, or an interactive
console against Minecraft servers over RCON.

Write \; for a literal semicolon inside a command, e.g. in tellraw JSON.`,
	Version:           version.Version,
	Args:              cobra.ArbitraryArgs,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := resolveServer(serverName)
		if err != nil {
			return err
		}
		command := strings.Join(args, " ")
		// Exec single command or batch and exit
		if command != "" {
			return runBatch(commandContext(cmd), server, splitBatch(command))
		}
		return repl(commandContext(cmd), server, os.Stdin)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/mcrcon.yaml)")
	rootCmd.PersistentFlags().StringVarP(&serverName, "server", "s", "", "Configured server name")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "",
		"Remote host, host:port format. Overrides --server")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "RCON password for --host")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", rcon.DefaultTimeout, "Per command timeout")
	rootCmd.PersistentFlags().BoolVar(&quirks, "quirks", true, "Enable Minecraft RCON compatibility")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	rootCmd.Flags().BoolVar(&failFast, "fail-fast", false, "Abort a batch on the first command with no output")
}

// setup reads the config and applies flag overrides. A missing config file is
// only fatal when no --host was given.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := rcon.ReadConfig(cfgFile)
	if err != nil {
		if host == "" && cmd.Name() != versionCmd.Name() && cmd.Name() != "help" {
			return err
		}
		log.WithError(err).Debug("Continuing without config file")
		c = &rcon.Config{Timeout: rcon.DefaultTimeout, Quirks: true, LogLevel: "info"}
	}
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		c.Timeout = timeout
	}
	if flags.Changed("quirks") {
		c.Quirks = quirks
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if c.LogLevel != "" {
		level, errLevel := log.ParseLevel(c.LogLevel)
		if errLevel != nil {
			return errors.Wrapf(errLevel, "invalid log level")
		}
		log.SetLevel(level)
	}
	setupColor(noColor)
	cfg = c
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func client() *rcon.Client {
	return rcon.NewClient(cfg.Options())
}

// resolveServer returns the ad-hoc --host server when set, otherwise the
// named (or default) configured server.
func resolveServer(name string) (*rcon.Server, error) {
	if host != "" {
		if password == "" {
			p, err := promptPassword()
			if err != nil {
				return nil, err
			}
			password = p
		}
		server := &rcon.Server{Name: host, Host: host, Password: password}
		if _, err := rcon.ParseAddress(server.Address()); err != nil {
			return nil, err
		}
		return server, nil
	}
	return cfg.Server(name)
}

// promptPassword reads the RCON password from the terminal without echo.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("password cannot be empty")
	}
	fmt.Print("Password: ")
	p, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", errors.Wrap(err, "Failed to read password")
	}
	if len(p) == 0 {
		return "", errors.New("password cannot be empty")
	}
	return string(p), nil
}

// splitBatch turns "a; b ;c" into its commands, dropping empty entries.
// An escaped \; stays part of the command.
func splitBatch(line string) []string {
	var (
		commands []string
		current  strings.Builder
	)
	flush := func() {
		if c := strings.TrimSpace(current.String()); c != "" {
			commands = append(commands, c)
		}
		current.Reset()
	}
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == ';':
			current.WriteByte(';')
			i++
		case line[i] == ';':
			flush()
		default:
			current.WriteByte(line[i])
		}
	}
	flush()
	return commands
}

func runBatch(ctx context.Context, server *rcon.Server, commands []string) error {
	policy := rcon.BestEffort
	if failFast {
		policy = rcon.FailFast
	}
	results, err := client().RunCommands(ctx, server, commands, policy)
	for _, r := range results {
		printResult(r, len(commands) > 1)
	}
	return err
}

func printResult(r rcon.Result, labelled bool) {
	if labelled {
		fmt.Printf("%s\n", promptColor.Sprintf("> %s", r.Command))
	}
	if r.Empty() {
		fmt.Println(dimColor.Sprint("(no output)"))
		return
	}
	fmt.Printf("%s\n", strings.TrimRight(r.Output, "\n"))
}

// repl keeps one session open and runs each input line as a batch. Errors
// that leave the session unusable end the loop.
func repl(ctx context.Context, server *rcon.Server, in io.Reader) error {
	conn, err := rcon.Dial(ctx, server.Address(), server.Password, cfg.Options())
	if err != nil {
		return errors.Wrapf(err, "Failed to dial server %s", server.Name)
	}
	defer func() {
		if errClose := conn.Close(); errClose != nil {
			log.WithError(errClose).Debug("Failed to close connection")
		}
	}()

	policy := rcon.BestEffort
	if failFast {
		policy = rcon.FailFast
	}
	reader := bufio.NewReader(in)
	for {
		fmt.Print(promptColor.Sprintf("%s> ", server.Name))
		cIn, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				return nil
			}
			return errors.Wrap(err, "Failed to read line")
		}
		line := strings.TrimSpace(cIn)
		if line == "" {
			continue
		}
		if c := strings.ToLower(line); c == "quit" || c == "exit" {
			log.Debugf("Exiting (user initiated)")
			return nil
		}
		commands := splitBatch(line)
		results, err := rcon.Run(ctx, conn, commands, policy)
		for _, r := range results {
			printResult(r, len(commands) > 1)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, rcon.ErrClosed) || errors.Is(err, rcon.ErrTimeout) || rcon.IsProtocolError(err) {
			return err
		}
		fmt.Println(errorColor.Sprint(err.Error()))
	}
}
