package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// ItemsArgs holds the parsed arguments of the /items command.
type ItemsArgs struct {
	Identifier string
	UnreadOnly bool
	Limit      int
}

// ParseItemsArgs parses "/items [source words] [-u] [-n N]".
func ParseItemsArgs(args string) (ItemsArgs, error) {
	var (
		out   ItemsArgs
		words []string
	)
	parts := strings.Fields(args)
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "-u":
			out.UnreadOnly = true
		case "-n":
			if i+1 >= len(parts) {
				return ItemsArgs{}, fmt.Errorf("usage: /items [source] [-u] [-n N]")
			}
			n, err := strconv.Atoi(parts[i+1])
			if err != nil || n < 1 {
				return ItemsArgs{}, fmt.Errorf("invalid limit %q", parts[i+1])
			}
			out.Limit = n
			i++
		default:
			words = append(words, parts[i])
		}
	}
	out.Identifier = strings.Join(words, " ")
	return out, nil
}

// ParseReadArgs parses "/read" and "/unread" arguments: either a list
// of numeric entry ids or a source identifier.
func ParseReadArgs(args string) ([]int64, string, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return nil, "", fmt.Errorf("usage: /read <entry ids or source>")
	}

	parts := strings.Fields(s)
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			// Not a pure id list; treat the whole argument as a
			// source identifier.
			return nil, s, nil
		}
		ids = append(ids, id)
	}
	return ids, "", nil
}
