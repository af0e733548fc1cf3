package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ledgerline/depgraph/pkg/graph"
)

// parseValue reads a command-line value as JSON, falling back to the raw
// string. Numbers become float64.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// parseArgs converts positional arguments and key=value keyword pairs into
// the argument list of a read. Keywords travel as a trailing graph.Kw.
func parseArgs(positional, keywords []string) ([]any, error) {
	args := make([]any, 0, len(positional)+1)
	for _, p := range positional {
		args = append(args, parseValue(p))
	}
	if len(keywords) == 0 {
		return args, nil
	}

	kw := graph.Kw{}
	for _, pair := range keywords {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid keyword argument %q, expected key=value", pair)
		}
		kw[key] = parseValue(value)
	}
	return append(args, kw), nil
}

// parseRef splits "entity.attr". Entity names may contain dots, so the
// attribute is whatever follows the last one.
func parseRef(ref string) (string, string, error) {
	i := strings.LastIndex(ref, ".")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("invalid reference %q, expected entity.attr", ref)
	}
	return ref[:i], ref[i+1:], nil
}

// nodeID returns the id of the node a read with args addresses. Keyword
// arguments never form part of the id.
func nodeID(entityName, attr string, args []any) (graph.NodeID, error) {
	if n := len(args); n > 0 {
		if _, ok := args[n-1].(graph.Kw); ok {
			args = args[:n-1]
		}
	}
	return graph.ID(entityName, attr, args...)
}

// printValue writes v as JSON or in Go's default format.
func printValue(w io.Writer, v any, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintf(w, "%v\n", v)
		return err
	}
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
