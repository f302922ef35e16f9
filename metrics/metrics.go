// Package metrics turns the output of a fixed battery of diagnostic
// commands into a ServerMetrics snapshot.
package metrics

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/leighmacdonald/mcrcon/rcon"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Commands is the diagnostic battery. Parse addresses the replies by
// position.
var Commands = []string{
	"execute in minecraft:overworld run script run get_mob_counts('monster')",
	"execute in minecraft:the_nether run script run get_mob_counts('monster')",
	"execute in minecraft:the_end run script run get_mob_counts('monster')",
	"script run reduce(system_info('server_last_tick_times'), _a+_, 0)/100",
	"list",
}

const (
	performanceIndex = 3
	listIndex        = 4

	// NominalTPS is the rate a healthy server ticks at.
	NominalTPS = 20
)

var (
	ErrDiagnosticsIncomplete = errors.New("diagnostics incomplete")
	ErrParse                 = errors.New("failed to parse server output")
)

// Runner executes a batch of commands against one server.
type Runner interface {
	RunCommands(ctx context.Context, server *rcon.Server, commands []string, policy rcon.Policy) ([]rcon.Result, error)
}

type Performance struct {
	MSPT uint32
	TPS  uint32
}

// Mobcap holds the cleaned hostile mob counts of each dimension.
type Mobcap struct {
	Overworld string
	Nether    string
	End       string
}

type Players struct {
	Count uint16
	Max   uint16
	Names []string
}

type ServerMetrics struct {
	Performance Performance
	Mobcap      Mobcap
	Players     Players
}

// Fetch runs the diagnostic battery on server and parses the replies.
func Fetch(ctx context.Context, runner Runner, server *rcon.Server) (*ServerMetrics, error) {
	results, err := runner.RunCommands(ctx, server, Commands, rcon.BestEffort)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to execute the server metrics scripts on %s", server.Name)
	}
	m, err := Parse(results)
	if err != nil {
		log.WithError(err).WithField("server", server.Name).Warn("Failed to parse server metrics")
		return nil, errors.Wrapf(err, "metrics for %s", server.Name)
	}
	return m, nil
}

// Parse builds a snapshot from the replies to Commands. Any missing, empty
// or malformed reply fails the whole snapshot.
func Parse(results []rcon.Result) (*ServerMetrics, error) {
	if len(results) != len(Commands) {
		return nil, errors.Wrapf(ErrDiagnosticsIncomplete, "got %d of %d replies", len(results), len(Commands))
	}
	responses := make([]string, len(results))
	for i, r := range results {
		if r.Empty() {
			return nil, errors.Wrapf(ErrDiagnosticsIncomplete, "diagnostic batch reply %d is empty", i)
		}
		responses[i] = r.Output
	}

	mobcap, err := ParseMobcaps(responses[:3])
	if err != nil {
		return nil, err
	}
	performance, err := ParsePerformance(responses[performanceIndex])
	if err != nil {
		return nil, err
	}
	players, err := ParsePlayers(responses[listIndex])
	if err != nil {
		return nil, err
	}
	return &ServerMetrics{Performance: performance, Mobcap: mobcap, Players: players}, nil
}

// ParsePerformance reads the tick time script output, e.g. " = 45.6 (2ms)".
// The output splits on single spaces into exactly four tokens, the third
// being the average mspt.
func ParsePerformance(response string) (Performance, error) {
	split := strings.Split(response, " ")
	if len(split) != 4 {
		return Performance{}, errors.Wrapf(ErrParse, "performance response %q", response)
	}
	value, err := strconv.ParseFloat(split[2], 32)
	if err != nil {
		return Performance{}, errors.Wrapf(ErrParse, "performance response %q: %v", response, err)
	}
	rounded := math.Round(value)
	if math.IsNaN(value) || !(rounded >= 1 && rounded <= math.MaxUint32) {
		return Performance{}, errors.Wrapf(ErrParse, "mspt out of range in %q", response)
	}
	mspt := uint32(rounded)
	return Performance{MSPT: mspt, TPS: TPS(mspt)}, nil
}

// TPS converts milliseconds per tick to ticks per second, capped at the
// nominal rate.
func TPS(mspt uint32) uint32 {
	if mspt <= 1000/NominalTPS {
		return NominalTPS
	}
	return 1000 / mspt
}

var (
	mobcapNoise     = regexp.MustCompile(`^.{0,3}|\(.*\)|\[\[\]\]`)
	mobcapSeparator = regexp.MustCompile(`, `)
)

// ParseMobcaps cleans the overworld, nether and end script outputs.
func ParseMobcaps(responses []string) (Mobcap, error) {
	replaced := make([]string, 0, len(responses))
	for _, res := range responses {
		cleaned := mobcapSeparator.ReplaceAllString(mobcapNoise.ReplaceAllString(res, ""), " | ")
		replaced = append(replaced, cleaned)
	}
	if len(replaced) != 3 {
		return Mobcap{}, errors.Wrapf(ErrParse, "expected 3 mobcap responses, got %d", len(replaced))
	}
	return Mobcap{Overworld: replaced[0], Nether: replaced[1], End: replaced[2]}, nil
}

// ParsePlayers reads the reply to `list`, either the vanilla
// "There are 2 of a max of 20 players online: Alice, Bob" or the compact
// "There are 2/20 players online: Alice, Bob".
func ParsePlayers(response string) (Players, error) {
	count, maxPlayers, err := playerCounts(strings.Split(response, " "))
	if err != nil {
		return Players{}, errors.Wrapf(ErrParse, "list response %q: %v", response, err)
	}

	players := Players{Count: count, Max: maxPlayers, Names: []string{}}
	if count == 0 {
		return players, nil
	}

	parts := strings.Split(response, ": ")
	if len(parts) != 2 {
		return Players{}, errors.Wrapf(ErrParse, "player list in %q", response)
	}
	players.Names = strings.Split(parts[1], ", ")
	return players, nil
}

func playerCounts(split []string) (uint16, uint16, error) {
	if len(split) < 3 {
		return 0, 0, errors.New("too few tokens")
	}
	countText, maxText := split[2], ""
	if i := strings.IndexByte(countText, '/'); i >= 0 {
		countText, maxText = countText[:i], countText[i+1:]
	} else if len(split) >= 8 {
		maxText = split[7]
	} else {
		return 0, 0, errors.New("too few tokens")
	}
	count, err := strconv.ParseUint(countText, 10, 16)
	if err != nil {
		return 0, 0, errors.Wrap(err, "player count")
	}
	maxPlayers, err := strconv.ParseUint(maxText, 10, 16)
	if err != nil {
		return 0, 0, errors.Wrap(err, "max players")
	}
	return uint16(count), uint16(maxPlayers), nil
}
