package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gate semantic convention attributes.
var (
	AttrOperation  = attribute.Key("gate.operation")
	AttrVerdict    = attribute.Key("gate.verdict")
	AttrRuleID     = attribute.Key("gate.rule_id")
	AttrRiskLevel  = attribute.Key("gate.risk_level")
	AttrState      = attribute.Key("gate.state")
	AttrRequestID  = attribute.Key("gate.request_id")
	AttrGateID     = attribute.Key("gate.gate_id")
	AttrDecisionID = attribute.Key("gate.decision_id")
)

// DecisionAttrs describes an evaluation outcome.
func DecisionAttrs(verdict, ruleID, risk string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrVerdict.String(verdict),
		AttrRuleID.String(ruleID),
		AttrRiskLevel.String(risk),
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the span in ctx.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
