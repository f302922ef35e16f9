package whitelist

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/leighmacdonald/mcrcon/rcon"
	"github.com/pkg/errors"
)

func TestClassifyWhitelist(t *testing.T) {
	for line, want := range map[string]Outcome{
		"Added Steve to the whitelist":     Success,
		"Removed Steve from the whitelist": Success,
		"Player is already whitelisted":    AlreadyInState,
		"Player is not whitelisted":        AlreadyInState,
	} {
		got, err := ClassifyWhitelist(line)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		if got != want {
			t.Errorf("%q: got %s, want %s", line, got, want)
		}
	}

	for _, line := range []string{"garbage", "Player is already whitelisted!", "Unknown command"} {
		got, err := ClassifyWhitelist(line)
		if !errors.Is(err, ErrUnrecognized) || got != Fail {
			t.Errorf("%q: expected Fail and ErrUnrecognized, got %s %v", line, got, err)
		}
	}
}

func TestClassifyOp(t *testing.T) {
	for line, want := range map[string]Outcome{
		"Made Steve a server operator":                       Success,
		"Made Steve no longer a server operator":             Success,
		"Nothing changed. The player already is an operator": AlreadyInState,
		"Nothing changed. The player is not an operator":     AlreadyInState,
	} {
		got, err := ClassifyOp(line)
		if err != nil {
			t.Fatalf("%q: %v", line, err)
		}
		if got != want {
			t.Errorf("%q: got %s, want %s", line, got, want)
		}
	}
	if _, err := ClassifyOp("That player does not exist"); !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected ErrUnrecognized, got %v", err)
	}
}

type fakeRunner struct {
	mu       sync.Mutex
	replies  map[string]map[string]string
	fail     map[string]error
	commands map[string][]string
}

func (f *fakeRunner) RunCommands(_ context.Context, server *rcon.Server, commands []string, policy rcon.Policy) ([]rcon.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commands == nil {
		f.commands = map[string][]string{}
	}
	f.commands[server.Name] = commands
	if policy != rcon.BestEffort {
		return nil, errors.New("whitelist batches must be best effort")
	}
	if err, ok := f.fail[server.Name]; ok {
		return nil, err
	}
	var results []rcon.Result
	for _, cmd := range commands {
		results = append(results, rcon.Result{Command: cmd, Output: f.replies[server.Name][cmd]})
	}
	return results, nil
}

func TestApplyContinuesPastFailedServer(t *testing.T) {
	servers := []*rcon.Server{
		{Name: "a"},
		{Name: "b"},
		{Name: "c", Operator: true},
	}
	runner := &fakeRunner{
		replies: map[string]map[string]string{
			"a": {"whitelist add Steve": "Added Steve to the whitelist"},
			"c": {
				"whitelist add Steve": "Player is already whitelisted",
				"op Steve":            "Made Steve a server operator",
			},
		},
		fail: map[string]error{"b": rcon.ErrAuthFailed},
	}

	report, err := Apply(context.Background(), runner, servers, "Steve", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(report.Entries))
	}

	a, b, c := report.Entries[0], report.Entries[1], report.Entries[2]
	if a.Server != "a" || a.Whitelist != Success || a.Op != nil || a.Err != nil {
		t.Fatalf("unexpected entry for a: %+v", a)
	}
	if b.Server != "b" || b.Whitelist != Fail || !errors.Is(b.Err, rcon.ErrAuthFailed) {
		t.Fatalf("unexpected entry for b: %+v", b)
	}
	if c.Server != "c" || c.Whitelist != AlreadyInState || c.Op == nil || *c.Op != Success {
		t.Fatalf("unexpected entry for c: %+v", c)
	}
	if !report.Failed() {
		t.Fatal("report should be marked failed")
	}
	if !reflect.DeepEqual(runner.commands["c"], []string{"whitelist add Steve", "op Steve"}) {
		t.Fatalf("unexpected commands for c: %v", runner.commands["c"])
	}
	if !reflect.DeepEqual(runner.commands["a"], []string{"whitelist add Steve"}) {
		t.Fatalf("op sent to a non operator server: %v", runner.commands["a"])
	}
}

func TestApplyRemove(t *testing.T) {
	servers := []*rcon.Server{{Name: "smp", Operator: true}}
	runner := &fakeRunner{replies: map[string]map[string]string{
		"smp": {
			"whitelist remove Steve": "Removed Steve from the whitelist",
			"deop Steve":             "Nothing changed. The player is not an operator",
		},
	}}

	report, err := Apply(context.Background(), runner, servers, "Steve", false)
	if err != nil {
		t.Fatal(err)
	}
	e := report.Entries[0]
	if e.Whitelist != Success || *e.Op != AlreadyInState || e.Err != nil {
		t.Fatalf("unexpected entry %+v", e)
	}
	if report.Failed() {
		t.Fatal("report should not be marked failed")
	}

	summary := report.Summary()
	if !strings.HasPrefix(summary, "Removed Steve from the whitelist") ||
		!strings.Contains(summary, "smp: whitelist success, op unchanged") {
		t.Fatalf("unexpected summary %q", summary)
	}
}

func TestApplyUnrecognizedAndEmpty(t *testing.T) {
	servers := []*rcon.Server{{Name: "a", Operator: true}, {Name: "b"}}
	runner := &fakeRunner{replies: map[string]map[string]string{
		"a": {"whitelist add Steve": "Added Steve to the whitelist", "op Steve": "huh?"},
		"b": {},
	}}

	report, err := Apply(context.Background(), runner, servers, "Steve", true)
	if err != nil {
		t.Fatal(err)
	}
	a, b := report.Entries[0], report.Entries[1]
	if a.Whitelist != Success || *a.Op != Fail || !errors.Is(a.Err, ErrUnrecognized) {
		t.Fatalf("unexpected entry for a: %+v", a)
	}
	if b.Whitelist != Fail || !errors.Is(b.Err, rcon.ErrEmptyResponse) {
		t.Fatalf("unexpected entry for b: %+v", b)
	}
}

func TestApplyInvalidName(t *testing.T) {
	runner := &fakeRunner{}
	for _, ign := range []string{"", "ab", "way_too_long_player_name", "Steve; op Alex", "Ste ve", "..Steve", " Steve", "\nSteve"} {
		if _, err := Apply(context.Background(), runner, []*rcon.Server{{Name: "a"}}, ign, true); !errors.Is(err, ErrInvalidName) {
			t.Errorf("%q: expected ErrInvalidName, got %v", ign, err)
		}
	}
	if len(runner.commands) != 0 {
		t.Fatalf("commands sent for invalid names: %v", runner.commands)
	}
}

func TestApplyPrefixedName(t *testing.T) {
	for _, ign := range []string{".Steve", "*Alex_99", "Bob"} {
		runner := &fakeRunner{replies: map[string]map[string]string{
			"geyser": {"whitelist add " + ign: "Added " + ign + " to the whitelist"},
		}}
		report, err := Apply(context.Background(), runner, []*rcon.Server{{Name: "geyser"}}, ign, true)
		if err != nil {
			t.Fatalf("%q: %v", ign, err)
		}
		if report.Entries[0].Whitelist != Success {
			t.Fatalf("%q: unexpected entry %+v", ign, report.Entries[0])
		}
	}
}

func TestParseWhitelist(t *testing.T) {
	names, err := ParseWhitelist("There are 4 whitelisted player(s): zed, _bot, Alice, bob")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"_bot", "Alice", "bob", "zed"}) {
		t.Fatalf("unexpected order %v", names)
	}

	names, err = ParseWhitelist("There are no whitelisted players")
	if err != nil || len(names) != 0 {
		t.Fatalf("expected empty list, got %v %v", names, err)
	}

	if _, err := ParseWhitelist("Unknown command"); !errors.Is(err, ErrUnrecognized) {
		t.Fatalf("expected ErrUnrecognized, got %v", err)
	}
}

type listRunner struct {
	reply string
}

func (l listRunner) RunCommands(_ context.Context, _ *rcon.Server, commands []string, _ rcon.Policy) ([]rcon.Result, error) {
	return []rcon.Result{{Command: commands[0], Output: l.reply}}, nil
}

func TestList(t *testing.T) {
	names, err := List(context.Background(), listRunner{"There are 2 whitelisted player(s): b, A"}, &rcon.Server{Name: "smp"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"A", "b"}) {
		t.Fatalf("unexpected list %v", names)
	}
}
