// Package whitelist classifies the replies to whitelist and op commands and
// applies whitelist changes across every configured server.
package whitelist

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/leighmacdonald/mcrcon/rcon"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Outcome is the classified result of one administrative command.
type Outcome int

const (
	Fail Outcome = iota
	Success
	// AlreadyInState means the server needed no change.
	AlreadyInState
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case AlreadyInState:
		return "unchanged"
	default:
		return "failed"
	}
}

var (
	ErrUnrecognized = errors.New("unrecognized server response")
	ErrInvalidName  = errors.New("invalid player name")
)

// playerName allows one leading symbol for Bedrock players joining through
// Floodgate, e.g. ".Steve".
var playerName = regexp.MustCompile(`^[^\sA-Za-z0-9_]?[A-Za-z0-9_]{3,16}$`)

// Runner executes a batch of commands against one server.
type Runner interface {
	RunCommands(ctx context.Context, server *rcon.Server, commands []string, policy rcon.Policy) ([]rcon.Result, error)
}

// ClassifyWhitelist maps the reply to `whitelist add|remove`.
func ClassifyWhitelist(line string) (Outcome, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "Player is already whitelisted", line == "Player is not whitelisted":
		return AlreadyInState, nil
	case strings.HasPrefix(line, "Added"), strings.HasPrefix(line, "Removed"):
		return Success, nil
	}
	return Fail, errors.Wrapf(ErrUnrecognized, "whitelist reply %q", line)
}

// ClassifyOp maps the reply to `op` or `deop`.
func ClassifyOp(line string) (Outcome, error) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "Nothing changed."):
		return AlreadyInState, nil
	case strings.HasPrefix(line, "Made"):
		return Success, nil
	}
	return Fail, errors.Wrapf(ErrUnrecognized, "op reply %q", line)
}

// Entry is the outcome on one server.
type Entry struct {
	Server    string
	Whitelist Outcome
	// Op is nil for servers that do not hand out operator status.
	Op  *Outcome
	Err error
}

// Report aggregates one add or remove across servers, in server order.
type Report struct {
	Player  string
	Add     bool
	Entries []Entry
}

// Failed reports whether any server did not reach the desired state.
func (r *Report) Failed() bool {
	for _, e := range r.Entries {
		if e.Whitelist == Fail || (e.Op != nil && *e.Op == Fail) {
			return true
		}
	}
	return false
}

// Summary renders the report for the user. Errors are not included.
func (r *Report) Summary() string {
	verb := "Added %s to the whitelist"
	if !r.Add {
		verb = "Removed %s from the whitelist"
	}
	var b strings.Builder
	fmt.Fprintf(&b, verb, r.Player)
	b.WriteString(":\n")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%s: whitelist %s", e.Server, e.Whitelist)
		if e.Op != nil {
			fmt.Fprintf(&b, ", op %s", *e.Op)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Commands builds the batch sent to one server.
func Commands(ign string, add bool, operator bool) []string {
	action, opCmd := "add", "op"
	if !add {
		action, opCmd = "remove", "deop"
	}
	commands := []string{fmt.Sprintf("whitelist %s %s", action, ign)}
	if operator {
		commands = append(commands, fmt.Sprintf("%s %s", opCmd, ign))
	}
	return commands
}

// Apply adds or removes ign on every server. A server that cannot be
// reached or answers unexpectedly gets a Fail entry; the other servers are
// unaffected. The error is only set for an invalid name.
func Apply(ctx context.Context, runner Runner, servers []*rcon.Server, ign string, add bool) (*Report, error) {
	if !playerName.MatchString(ign) {
		return nil, errors.Wrapf(ErrInvalidName, "%q", ign)
	}
	report := &Report{Player: ign, Add: add, Entries: make([]Entry, len(servers))}

	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func(i int, server *rcon.Server) {
			defer wg.Done()
			report.Entries[i] = apply(ctx, runner, server, ign, add)
		}(i, server)
	}
	wg.Wait()
	return report, nil
}

func apply(ctx context.Context, runner Runner, server *rcon.Server, ign string, add bool) Entry {
	entry := Entry{Server: server.Name, Whitelist: Fail}
	if server.Operator {
		op := Fail
		entry.Op = &op
	}
	logger := log.WithFields(log.Fields{"server": server.Name, "player": ign})

	results, err := runner.RunCommands(ctx, server, Commands(ign, add, server.Operator), rcon.BestEffort)
	if err != nil {
		logger.WithError(err).Error("Failed to update whitelist")
		entry.Err = err
		return entry
	}

	entry.Whitelist, entry.Err = classify(results, 0, ClassifyWhitelist)
	if server.Operator {
		op, err := classify(results, 1, ClassifyOp)
		*entry.Op = op
		if entry.Err == nil {
			entry.Err = err
		}
	}
	if entry.Err != nil {
		logger.WithError(entry.Err).Warn("Unexpected whitelist response")
	}
	return entry
}

func classify(results []rcon.Result, i int, fn func(string) (Outcome, error)) (Outcome, error) {
	if i >= len(results) {
		return Fail, errors.Errorf("missing reply %d", i)
	}
	if results[i].Empty() {
		return Fail, errors.Wrapf(rcon.ErrEmptyResponse, "%q", results[i].Command)
	}
	return fn(results[i].Output)
}

// ParseWhitelist reads the reply to `whitelist list` into a sorted list of
// names.
func ParseWhitelist(response string) ([]string, error) {
	response = strings.TrimSpace(response)
	if response == "There are no whitelisted players" {
		return []string{}, nil
	}
	parts := strings.SplitN(response, ": ", 2)
	if len(parts) != 2 {
		return nil, errors.Wrapf(ErrUnrecognized, "whitelist list reply %q", response)
	}
	names := strings.Split(parts[1], ", ")
	SortPlayers(names)
	return names, nil
}

// SortPlayers orders names starting with a symbol first, then
// case-insensitively.
func SortPlayers(names []string) {
	symbol := func(s string) bool {
		if s == "" {
			return false
		}
		c, _ := utf8.DecodeRuneInString(s)
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, b := symbol(names[i]), symbol(names[j])
		if a != b {
			return a
		}
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
}

// List fetches the sorted whitelist of server.
func List(ctx context.Context, runner Runner, server *rcon.Server) ([]string, error) {
	results, err := runner.RunCommands(ctx, server, []string{"whitelist list"}, rcon.FailFast)
	if err != nil {
		return nil, errors.Wrapf(err, "%s returned an unexpected or empty response", server.Name)
	}
	return ParseWhitelist(results[0].Output)
}
