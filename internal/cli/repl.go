package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface is the command surface the REPL dispatches to. Console
// implements it; tests use a stub.
type execIface interface {
	Status(ctx context.Context) error
	Peers(ctx context.Context) error
	Backup(ctx context.Context, peer string) error
	Retrieve(ctx context.Context, peer string) error
	Decrypt(ctx context.Context) error
	Import(ctx context.Context, path string) error
	Export(ctx context.Context, path string) error
}

const helpText = `Available commands:
  status              show backup bookkeeping
  peers               list configured peers and whether they answer
  backup <node>       back up documents to node
  retrieve <node>     fetch our backup from node into quarantine
  decrypt             restore the retrieved backup over the documents
  import <file.json>  add documents from a JSON map of path to base64 content
  export <file.json>  write all documents to a JSON file
  exit | quit         leave`

// runREPL reads commands from scanner until EOF, exit or quit. Command
// errors are printed and the loop goes on.
func runREPL(ctx context.Context, a execIface, prompt func() string, scanner *bufio.Scanner, out io.Writer) {
	for {
		fmt.Fprintf(out, "%s> ", prompt())
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		arg := func() (string, bool) {
			if len(args) != 1 {
				fmt.Fprintf(out, "usage: %s <%s>\n", cmd, argName(cmd))
				return "", false
			}
			return args[0], true
		}

		var err error
		switch cmd {
		case "help":
			fmt.Fprintln(out, helpText)
		case "status":
			err = a.Status(ctx)
		case "peers":
			err = a.Peers(ctx)
		case "backup":
			if peer, ok := arg(); ok {
				err = a.Backup(ctx, peer)
			}
		case "retrieve":
			if peer, ok := arg(); ok {
				err = a.Retrieve(ctx, peer)
			}
		case "decrypt":
			err = a.Decrypt(ctx)
		case "import":
			if path, ok := arg(); ok {
				err = a.Import(ctx, path)
			}
		case "export":
			if path, ok := arg(); ok {
				err = a.Export(ctx, path)
			}
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		default:
			fmt.Fprintln(out, "Unknown command:", cmd)
		}

		if err != nil {
			failColor.Fprintf(out, "%s failed: %v\n", cmd, err)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func argName(cmd string) string {
	switch cmd {
	case "import", "export":
		return "file.json"
	}
	return "node"
}
