package ctxutil

import "context"

type traceDataKey struct{}

// TraceData correlates one inbound request across logs and spans.
type TraceData struct {
	TraceID    string
	RequestID  string
	CampaignID string
	PlayerID   string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return td
}

// LogFields flattens the non-empty ids into logger key/value pairs.
func (td *TraceData) LogFields() []interface{} {
	if td == nil {
		return nil
	}
	out := make([]interface{}, 0, 8)
	for _, kv := range [][2]string{
		{"trace_id", td.TraceID},
		{"request_id", td.RequestID},
		{"campaign_id", td.CampaignID},
		{"player_id", td.PlayerID},
	} {
		if kv[1] != "" {
			out = append(out, kv[0], kv[1])
		}
	}
	return out
}
