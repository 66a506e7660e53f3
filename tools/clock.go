package tools

import (
	"context"
	"encoding/json"
	"time"
)

// ClockTool reports the current time, in a given IANA timezone if one is
// provided. This supplements the tool set beyond the distilled
// calculator, matching how a real deployment would round out a minimal
// tool-calling demo with a second always-available tool.
type ClockTool struct {
	Now func() time.Time
}

// NewClockTool builds a ClockTool using the real wall clock.
func NewClockTool() ClockTool {
	return ClockTool{Now: time.Now}
}

func (ClockTool) Info() Info {
	return Info{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a given IANA timezone",
		Parameters: []Parameter{
			{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. 'Asia/Shanghai' (defaults to UTC)", Required: false},
		},
	}
}

type clockArgs struct {
	Timezone string `json:"timezone"`
}

func (c ClockTool) Execute(_ context.Context, argumentsJSON string) (string, error) {
	var args clockArgs
	if argumentsJSON != "" {
		_ = json.Unmarshal([]byte(argumentsJSON), &args)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().UTC()

	loc := time.UTC
	tzName := "UTC"
	if args.Timezone != "" {
		if l, err := time.LoadLocation(args.Timezone); err == nil {
			loc = l
			tzName = args.Timezone
		}
	}
	t = t.In(loc)

	data, _ := json.Marshal(map[string]string{
		"timezone": tzName,
		"time":     t.Format(time.RFC3339),
	})
	return string(data), nil
}
