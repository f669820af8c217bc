// Command lstfc is the lstf driver: compile, assemble, disassemble, and
// run compiled programs (spec §6), wired as a single urfave/cli.v1 app
// with three explicit mode flags plus the default compile-and-run action.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/rjeczalik/notify"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/lstf-lang/lstf/internal/asmtext"
	"github.com/lstf-lang/lstf/internal/bcformat"
	"github.com/lstf-lang/lstf/internal/config"
	"github.com/lstf-lang/lstf/internal/disasm"
	"github.com/lstf-lang/lstf/internal/eventloop"
	"github.com/lstf-lang/lstf/internal/inspector"
	"github.com/lstf-lang/lstf/internal/log"
	"github.com/lstf-lang/lstf/internal/vm"
)

const version = "0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "lstfc"
	app.Usage = "compile, assemble, disassemble and run lstf programs"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "o", Usage: "output file (default: stdout)"},
		cli.BoolFlag{Name: "C", Usage: "compile to assembly instead of running"},
		cli.BoolFlag{Name: "a", Usage: "assemble a .lstfa file to .lstfc"},
		cli.BoolFlag{Name: "d", Usage: "disassemble a .lstfc file to .lstfa text"},
		cli.BoolFlag{Name: "watch", Usage: "recompile and rerun on source change"},
		cli.BoolFlag{Name: "debug", Usage: "start a breakpoint REPL before running"},
		cli.StringFlag{Name: "config", Usage: "path to a server TOML config"},
		cli.StringFlag{Name: "inspect", Usage: "address to serve the debug inspector on, e.g. :7777"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "lstfc:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("usage: lstfc [flags] <file>", 1)
	}
	input := c.Args().Get(0)

	switch {
	case c.Bool("a"):
		return assemble(input, c.String("o"))
	case c.Bool("d"):
		return disassemble(input, c.String("o"))
	case c.Bool("C"):
		return fmt.Errorf("-C requires a source frontend (lexer/parser), which this build does not include; pass a .lstfc or .lstfa file with -a/-d instead")
	}

	if c.Bool("watch") {
		return watchAndRun(c, input)
	}
	return compileAndRun(c, input)
}

func assemble(input, output string) error {
	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	prog, err := asmtext.Parse(strings.NewReader(string(src)))
	if err != nil {
		return fmt.Errorf("assembling %s: %w", input, err)
	}
	if prog.EntryFunction == "" {
		prog.EntryFunction = "main"
	}
	raw, err := bcformat.Serialize(prog)
	if err != nil {
		return err
	}
	return writeOutput(output, input, ".lstfc", raw)
}

func disassemble(input, output string) error {
	raw, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	prog, err := bcformat.Load(raw)
	if err != nil {
		return fmt.Errorf("loading %s: %w", input, err)
	}
	var buf strings.Builder
	if err := disasm.WriteAssembly(&buf, prog); err != nil {
		return err
	}
	return writeOutput(output, input, ".lstfa", []byte(buf.String()))
}

func compileAndRun(c *cli.Context, input string) error {
	if filepath.Ext(input) == ".lstf" {
		return fmt.Errorf("compiling %s requires a source frontend (lexer/parser), which this build does not include; compile ahead of time to a .lstfc file", input)
	}
	raw, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	prog, err := bcformat.Load(raw)
	if err != nil {
		return fmt.Errorf("loading %s: %w", input, err)
	}

	m := vm.New(prog, os.Stdout)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	el := eventloop.New(cfg)
	el.Register(m)
	defer el.Close()

	if addr := c.String("inspect"); addr != "" {
		ins := inspector.New(m)
		go func() {
			if err := serveInspector(addr, ins); err != nil {
				log.Error("inspector server stopped", "err", err)
			}
		}()
	}

	co := m.Start(nil)
	if c.Bool("debug") {
		return debugREPL(m, co)
	}

	if err := m.Run(); err != nil {
		var exit *vm.ProgramExit
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		return err
	}
	return nil
}

// watchAndRun reruns compileAndRun every time input (or its directory)
// changes on disk, until the process is interrupted.
func watchAndRun(c *cli.Context, input string) error {
	events := make(chan notify.EventInfo, 1)
	dir := filepath.Dir(input)
	if err := notify.Watch(filepath.Join(dir, "..."), events, notify.Write); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer notify.Stop(events)

	for {
		if err := compileAndRun(c, input); err != nil {
			fmt.Fprintln(os.Stderr, "lstfc:", err)
		}
		<-events
		fmt.Fprintln(os.Stderr, "lstfc: change detected, rerunning", input)
	}
}

// debugREPL pauses co before it executes anything, lets the user arm
// breakpoints, then single-steps or free-runs it until it hits one or
// exits, repeating the prompt each time it stops.
func debugREPL(m *vm.VM, co *vm.Coroutine) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("lstfc debug REPL: break <pc>, continue, step, print, quit")
	fmt.Printf("coroutine %d stopped before pc=%d\n", co.ID, co.PC)
	for {
		input, err := line.Prompt("(lstfc) ")
		if err != nil {
			return nil
		}
		line.AppendHistory(input)
		fields := strings.Fields(input)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "break":
			if len(fields) < 2 {
				fmt.Println("usage: break <pc>")
				continue
			}
			pc, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println("usage: break <pc>")
				continue
			}
			m.SetBreakpoint(pc)
		case "continue", "c":
			for {
				status, err := m.Step(co)
				if err != nil {
					return err
				}
				if status == vm.StatusExited {
					fmt.Println("program exited")
					return nil
				}
				if status == vm.StatusHitBreakpoint {
					fmt.Printf("breakpoint hit at pc=%d\n", co.PC)
					break
				}
			}
		case "step", "s":
			status, err := m.Step(co)
			if err != nil {
				return err
			}
			if status == vm.StatusExited {
				fmt.Println("program exited")
				return nil
			}
			fmt.Printf("now at pc=%d\n", co.PC)
		case "print", "p":
			fmt.Printf("coroutine %d: pc=%d stack_depth=%d outstanding_io=%d\n",
				co.ID, co.PC, len(co.Stack.Values), co.OutstandingIO)
		case "quit", "q":
			return nil
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func writeOutput(output, input, defaultExt string, data []byte) error {
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + defaultExt
	}
	return os.WriteFile(output, data, 0o644)
}

func serveInspector(addr string, ins *inspector.Inspector) error {
	return http.ListenAndServe(addr, ins.Handler())
}
