package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
)

// NewDatetime returns the builtin current_datetime tool. Do not wrap it
// with the result cache; its output changes every call.
func NewDatetime() *FuncTool {
	info := &schema.ToolInfo{
		Name: "current_datetime",
		Desc: "Get the current date and time, optionally in a specific IANA timezone.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"timezone": {
				Type: schema.String,
				Desc: "IANA timezone name, e.g. Europe/Paris. Defaults to local time.",
			},
		}),
	}

	return NewFuncTool(info, func(_ context.Context, args map[string]any) (any, error) {
		loc := time.Local
		if tz, ok := args["timezone"].(string); ok && tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			loc = l
		}
		now := time.Now().In(loc)
		return map[string]any{
			"iso":      now.Format(time.RFC3339),
			"unix":     now.Unix(),
			"weekday":  now.Weekday().String(),
			"date":     now.Format("2006-01-02"),
			"time":     now.Format("15:04:05"),
			"timezone": loc.String(),
		}, nil
	})
}
