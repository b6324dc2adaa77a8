package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/apsync/internal/checks"
	"github.com/roach88/apsync/internal/engine"
	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/rewards"
)

var errQuit = errors.New("quit")

// console executes line commands read by `apsync run`. It runs on the
// consumer goroutine, between ticks.
type console struct {
	eng          *engine.Engine
	state        *rewards.State
	out          *OutputFormatter
	scoutTimeout time.Duration
}

type consoleCommand struct {
	usage string
	args  int // exact argument count, -1 for one or more
	run   func(c *console, ctx context.Context, args []int64) (any, error)
}

var consoleCommands = map[string]consoleCommand{
	"check": {"check <location>", 1, func(c *console, _ context.Context, a []int64) (any, error) {
		return c.send(a[0]), nil
	}},
	"pickup": {"pickup <item>", 1, func(c *console, _ context.Context, a []int64) (any, error) {
		return c.send(checks.ItemPickupID(int(a[0]))), nil
	}},
	"brush": {"brush <index>", 1, func(c *console, _ context.Context, a []int64) (any, error) {
		return c.send(checks.BrushID(int(a[0]))), nil
	}},
	"shop": {"shop <shop> <slot>", 2, func(c *console, _ context.Context, a []int64) (any, error) {
		return c.send(checks.ShopID(int(a[0]), int(a[1]))), nil
	}},
	"container": {"container <level> <spawn>", 2, func(c *console, _ context.Context, a []int64) (any, error) {
		return c.send(checks.ContainerID(uint16(a[0]), int(a[1]))), nil
	}},
	"flag": {"flag <bit>", 1, func(c *console, _ context.Context, a []int64) (any, error) {
		return c.send(checks.GlobalFlagID(int(a[0]))), nil
	}},
	"play": {"play", 0, func(c *console, _ context.Context, _ []int64) (any, error) {
		c.eng.SetGameplayActive(true)
		return "gameplay active", nil
	}},
	"menu": {"menu", 0, func(c *console, _ context.Context, _ []int64) (any, error) {
		c.eng.SetGameplayActive(false)
		return "gameplay paused", nil
	}},
	"goal": {"goal", 0, func(c *console, _ context.Context, _ []int64) (any, error) {
		if err := c.eng.GameFinished(); err != nil {
			return nil, err
		}
		return "goal reported", nil
	}},
	"scout": {"scout <location>...", -1, func(c *console, ctx context.Context, a []int64) (any, error) {
		return c.scout(ctx, a, protocol.HintNone)
	}},
	"hint": {"hint <location>...", -1, func(c *console, ctx context.Context, a []int64) (any, error) {
		return c.scout(ctx, a, protocol.HintCreate)
	}},
	"sync": {"sync", 0, func(c *console, _ context.Context, _ []int64) (any, error) {
		if err := c.eng.RequestSync(); err != nil {
			return nil, err
		}
		return "sync requested", nil
	}},
	"resend": {"resend", 0, func(c *console, _ context.Context, _ []int64) (any, error) {
		c.eng.ResendAllChecks()
		return fmt.Sprintf("resent %d checks", len(c.eng.SentChecks())), nil
	}},
	"status": {"status", 0, func(c *console, _ context.Context, _ []int64) (any, error) {
		return c.status(), nil
	}},
	"quit": {"quit", 0, func(*console, context.Context, []int64) (any, error) {
		return nil, errQuit
	}},
}

// exec runs one line. It returns errQuit on quit; every other failure is
// reported on the output and swallowed.
func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	name := strings.ToLower(fields[0])
	cmd, ok := consoleCommands[name]
	if !ok {
		return c.out.Error(CodeConfig, fmt.Sprintf("unknown command %q", name), nil)
	}
	args, err := parseArgs(fields[1:])
	if err != nil {
		return c.out.Error(CodeConfig, err.Error(), cmd.usage)
	}
	if (cmd.args >= 0 && len(args) != cmd.args) || (cmd.args < 0 && len(args) == 0) {
		return c.out.Error(CodeConfig, "usage: "+cmd.usage, nil)
	}

	result, err := cmd.run(c, ctx, args)
	switch {
	case errors.Is(err, errQuit):
		return errQuit
	case err != nil:
		return c.out.Error(commandErrorCode(err), err.Error(), nil)
	}
	return c.out.Success(result)
}

func parseArgs(fields []string) ([]int64, error) {
	out := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		out[i] = n
	}
	return out, nil
}

func commandErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotConnected):
		return CodeConnect
	case errors.Is(err, engine.ErrScoutInFlight), engine.IsTimeoutError(err):
		return CodeScout
	default:
		return CodeConfig
	}
}

// checkResult reports one SendCheck call.
type checkResult struct {
	Location int64  `json:"location"`
	Category string `json:"category"`
	Sent     bool   `json:"sent"`
}

func (r checkResult) Text() string {
	if r.Sent {
		return fmt.Sprintf("location %d (%s) sent\n", r.Location, r.Category)
	}
	return fmt.Sprintf("location %d (%s) not sent: already sent or gated\n", r.Location, r.Category)
}

func (c *console) send(location int64) checkResult {
	return checkResult{
		Location: location,
		Category: checks.CategoryOf(location).String(),
		Sent:     c.eng.SendCheck(location),
	}
}

// scoutResult lists what a scout found.
type scoutResult struct {
	Items []scoutedItem `json:"items"`
}

type scoutedItem struct {
	Location int64  `json:"location"`
	Item     int64  `json:"item"`
	Name     string `json:"name,omitempty"`
	Player   int    `json:"player"`
	Flags    int    `json:"flags"`
}

func (r scoutResult) Text() string {
	if len(r.Items) == 0 {
		return "no scout results\n"
	}
	var b strings.Builder
	for _, it := range r.Items {
		name := it.Name
		if name == "" {
			name = fmt.Sprintf("item %d", it.Item)
		}
		fmt.Fprintf(&b, "location %d: %s for player %d\n", it.Location, name, it.Player)
	}
	return b.String()
}

func (c *console) scout(ctx context.Context, locations []int64, hint protocol.HintMode) (scoutResult, error) {
	found, err := c.eng.ScoutSync(ctx, locations, hint, c.scoutTimeout)
	if err != nil {
		return scoutResult{}, err
	}
	return newScoutResult(c.eng, found), nil
}

// newScoutResult names the items that belong to this slot.
func newScoutResult(eng *engine.Engine, found []protocol.NetworkItem) scoutResult {
	slot := eng.Slot()
	out := scoutResult{Items: make([]scoutedItem, 0, len(found))}
	for _, it := range found {
		si := scoutedItem{Location: it.Location, Item: it.Item, Player: it.Player, Flags: it.Flags}
		if it.Player == slot {
			si.Name = eng.Catalog().Name(it.Item)
		}
		out.Items = append(out.Items, si)
	}
	return out
}

// statusResult summarizes the connection and session.
type statusResult struct {
	State          string `json:"state"`
	Status         string `json:"status"`
	Session        string `json:"session,omitempty"`
	AppliedIndex   int64  `json:"applied_index"`
	PendingRewards int    `json:"pending_rewards"`
	SentChecks     int    `json:"sent_checks"`
	Inventory      []int  `json:"inventory,omitempty"`
}

func (r statusResult) Text() string {
	var b strings.Builder
	fmt.Fprintln(&b, r.Status)
	if r.Session != "" {
		fmt.Fprintf(&b, "  session  %s\n", r.Session)
	}
	fmt.Fprintf(&b, "  items    applied through %d, %d pending\n", r.AppliedIndex, r.PendingRewards)
	fmt.Fprintf(&b, "  checks   %d sent\n", r.SentChecks)
	return b.String()
}

func (c *console) status() statusResult {
	r := statusResult{
		State:          c.eng.State().String(),
		Status:         c.eng.Status(),
		AppliedIndex:   c.eng.AppliedIndex(),
		PendingRewards: c.eng.PendingRewards(),
		SentChecks:     len(c.eng.SentChecks()),
	}
	if key, ok := c.eng.SessionKey(); ok {
		r.Session = key.String()
	}
	if c.state != nil {
		for _, item := range c.state.Items() {
			r.Inventory = append(r.Inventory, int(item))
		}
	}
	return r
}
