package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

const clockFormat = "Monday, 02 January 2006 15:04:05 MST"

// Clock returns the built-in current_time tool. An optional timezone
// argument accepts an IANA zone name; the default is the server's local
// zone.
func Clock() Tool {
	params := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"timezone": {
				Type:        "string",
				Description: "IANA timezone name, e.g. Asia/Kolkata. Defaults to server local time.",
			},
		},
	}

	return NewFunc(
		"current_time",
		"Returns the current date and time.",
		params,
		func(ctx context.Context, args map[string]any) (string, error) {
			loc := time.Local
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
				}
				loc = l
			}
			return time.Now().In(loc).Format(clockFormat), nil
		},
	)
}
