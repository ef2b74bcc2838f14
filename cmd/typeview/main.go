package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/wippyai/objrt/runtime"
)

func main() {
	var (
		schemaFile  = flag.String("schema", "", "Path to a TOML type schema")
		configFile  = flag.String("config", "", "Path to a TOML runtime config (optional)")
		root        = flag.String("root", "", "Only show the subtree of this type")
		builtins    = flag.Bool("builtins", false, "Show builtin types without schema descendants")
		plain       = flag.Bool("plain", false, "Disable styling")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *schemaFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: typeview -schema <types.toml> [-config runtime.toml] [-root Type] [-builtins]")
		fmt.Fprintln(os.Stderr, "       typeview -schema <types.toml> -i  (interactive mode)")
		os.Exit(1)
	}

	opts := options{
		schema:   *schemaFile,
		config:   *configFile,
		root:     *root,
		builtins: *builtins,
		styled:   !*plain && term.IsTerminal(int(os.Stdout.Fd())),
	}

	var err error
	if *interactive {
		err = runInteractive(opts)
	} else {
		err = run(os.Stdout, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	schema   string
	config   string
	root     string
	builtins bool
	styled   bool
}

// load creates a runtime and applies the schema to it.
func load(ctx context.Context, opts options) (*runtime.Runtime, error) {
	cfg := &runtime.Config{}
	if opts.config != "" {
		var err error
		if cfg, err = runtime.LoadConfig(opts.config); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	s, err := runtime.LoadSchemaFile(opts.schema)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	if _, err := rt.Apply(s); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return rt, nil
}

func run(w io.Writer, opts options) error {
	ctx := context.Background()
	rt, err := load(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	nodes := collect(rt, opts.builtins)
	if opts.root != "" {
		nodes = subtree(nodes, opts.root)
		if len(nodes) == 0 {
			return fmt.Errorf("type %q not found", opts.root)
		}
	}

	fmt.Fprintf(w, "Schema: %s\n", opts.schema)
	fmt.Fprintf(w, "Types: %d\n\n", rt.Types().Count())
	fmt.Fprintln(w, render(nodes, newStyles(opts.styled)))
	return nil
}
