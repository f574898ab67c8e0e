package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jwebster45206/story-runtime/pkg/engine"
	"github.com/jwebster45206/story-runtime/pkg/gameerr"
	"github.com/jwebster45206/story-runtime/pkg/plugins/inventory"
	"github.com/jwebster45206/story-runtime/pkg/save"
)

const helpText = `Commands:
  <n>          pick choice n
  undo, redo   step through state history
  save [id]    save to a slot (quicksave when omitted)
  load [id]    load a slot (quicksave when omitted)
  saves        list saves
  delete <id>  delete a save
  help         show this help
  quit         leave the game
`

// player is a line-oriented front end for one session.
type player struct {
	eng   *engine.Engine
	coord *save.Coordinator
	in    *bufio.Reader
	out   io.Writer
}

func newPlayer(eng *engine.Engine, coord *save.Coordinator, in *bufio.Reader, out io.Writer) *player {
	return &player{eng: eng, coord: coord, in: in, out: out}
}

func (p *player) run(ctx context.Context) error {
	p.render()
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(p.out, "> ")
		line, err := p.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		quit, cmdErr := p.handle(ctx, strings.TrimSpace(line))
		if cmdErr != nil {
			fmt.Fprintf(p.out, "! %v\n", cmdErr)
		}
		if quit || errors.Is(err, io.EOF) {
			return nil
		}
	}
}

// handle runs one command and reports whether the player asked to quit.
func (p *player) handle(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	if n, err := strconv.Atoi(cmd); err == nil {
		return false, p.choose(n)
	}

	switch cmd {
	case "q", "quit", "exit":
		return true, nil
	case "h", "help", "?":
		fmt.Fprint(p.out, helpText)
	case "u", "undo":
		if !p.eng.Undo() {
			return false, errors.New("nothing to undo")
		}
		p.render()
	case "r", "redo":
		if !p.eng.Redo() {
			return false, errors.New("nothing to redo")
		}
		p.render()
	case "s", "save":
		meta, err := p.coord.Save(ctx, slotArg(args), save.SaveOptions{})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(p.out, "Saved %q.\n", meta.Name)
	case "l", "load":
		if _, err := p.coord.Load(ctx, slotArg(args)); err != nil {
			if errors.Is(err, gameerr.ErrGameNotFound) {
				return false, fmt.Errorf("no save named %q", slotArg(args))
			}
			return false, err
		}
		p.render()
	case "saves":
		return false, p.listSaves(ctx)
	case "delete":
		if len(args) != 1 {
			return false, errors.New("usage: delete <id>")
		}
		ok, err := p.coord.Delete(ctx, args[0])
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("no save named %q", args[0])
		}
		fmt.Fprintf(p.out, "Deleted %q.\n", args[0])
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (p *player) choose(n int) error {
	choices := p.eng.AvailableChoices()
	if n < 1 || n > len(choices) {
		return fmt.Errorf("pick a choice between 1 and %d", len(choices))
	}
	if err := p.eng.SelectChoice(choices[n-1].ID); err != nil {
		return err
	}
	p.render()
	return nil
}

func (p *player) render() {
	cur, ok := p.eng.CurrentScene()
	if !ok {
		return
	}
	gs := p.eng.State()

	fmt.Fprintln(p.out)
	if cur.Title != "" {
		fmt.Fprintf(p.out, "== %s ==\n", cur.Title)
	}
	fmt.Fprintln(p.out, p.eng.Content())

	if items := inventory.Items(gs); len(items) > 0 {
		fmt.Fprintf(p.out, "\nCarrying: %s\n", strings.Join(items, ", "))
	}

	choices := p.eng.AvailableChoices()
	if len(choices) == 0 {
		fmt.Fprintln(p.out, "\nThe End.")
		return
	}
	fmt.Fprintln(p.out)
	for i, c := range choices {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, p.eng.ChoiceLabel(c))
	}
}

func (p *player) listSaves(ctx context.Context) error {
	saves, err := p.coord.List(ctx)
	if err != nil {
		return err
	}
	if len(saves) == 0 {
		fmt.Fprintln(p.out, "No saves yet.")
		return nil
	}
	ids := make([]string, 0, len(saves))
	for id := range saves {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	for _, id := range ids {
		m := saves[id]
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", id, m.Name, m.CurrentSceneID, m.PlayTime.Round(time.Second))
	}
	return w.Flush()
}

func slotArg(args []string) string {
	if len(args) == 0 {
		return save.QuickSaveID
	}
	return args[0]
}
