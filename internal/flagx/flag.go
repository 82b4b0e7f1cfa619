// Package flagx holds helpers for layered command-line parsing: picking out
// the flags one parser owns and flag values the standard flag package lacks.
package flagx

import (
	"flag"
	"fmt"
	"sort"
	"strings"
)

// FilterArgs keeps only the allowed flags from args, together with their
// values. Both "-p value" and "-p=value" forms are recognised; a following
// token that starts with "-" is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// ConfigFile returns the JSON config path given with -c or -config, or ""
// when neither is present. The last occurrence wins.
func ConfigFile(args []string) string {
	var config string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "path to config file")
	fs.StringVar(&config, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	return config
}

// Peers maps node ids to network addresses. As a flag value it accepts
// "id=host:port" entries separated by commas and may be repeated.
type Peers map[string]string

// ParsePeers parses the flag form of Peers.
func ParsePeers(s string) (Peers, error) {
	p := Peers{}
	if err := p.Set(s); err != nil {
		return nil, err
	}
	return p, nil
}

func (p Peers) String() string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+"="+p[id])
	}
	return strings.Join(parts, ",")
}

func (p Peers) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, addr, ok := strings.Cut(part, "=")
		id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
		if !ok || id == "" || addr == "" {
			return fmt.Errorf("peer %q: want id=host:port", part)
		}
		p[id] = addr
	}
	return nil
}
