package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all ActionBridge metrics instruments.
type Metrics struct {
	ActiveSessions    metric.Int64UpDownCounter
	ProposalsCreated  metric.Int64Counter
	ProposalsExecuted metric.Int64Counter
	ValidationRejects metric.Int64Counter
	AuthFailures      metric.Int64Counter
	Reconnects        metric.Int64Counter
	KillSwitchDrops   metric.Int64Counter
	PlannerDuration   metric.Float64Histogram
	PlannerErrors     metric.Int64Counter
	SinkDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ActiveSessions, err = meter.Int64UpDownCounter("actionbridge.session.active",
		metric.WithDescription("Number of authenticated actor sessions"),
	)
	if err != nil {
		return nil, err
	}

	m.ProposalsCreated, err = meter.Int64Counter("actionbridge.proposal.created",
		metric.WithDescription("Action plans proposed to the actor"),
	)
	if err != nil {
		return nil, err
	}

	m.ProposalsExecuted, err = meter.Int64Counter("actionbridge.proposal.executed",
		metric.WithDescription("Confirmed plans dispatched for execution"),
	)
	if err != nil {
		return nil, err
	}

	m.ValidationRejects, err = meter.Int64Counter("actionbridge.validation.rejects",
		metric.WithDescription("Plans rejected by the validator"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthFailures, err = meter.Int64Counter("actionbridge.auth.failures",
		metric.WithDescription("Failed or timed-out authentication handshakes"),
	)
	if err != nil {
		return nil, err
	}

	m.Reconnects, err = meter.Int64Counter("actionbridge.actor.reconnects",
		metric.WithDescription("Actor reconnect attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.KillSwitchDrops, err = meter.Int64Counter("actionbridge.killswitch.drops",
		metric.WithDescription("Events dropped while the kill switch was active"),
	)
	if err != nil {
		return nil, err
	}

	m.PlannerDuration, err = meter.Float64Histogram("actionbridge.planner.duration",
		metric.WithDescription("Plan generation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PlannerErrors, err = meter.Int64Counter("actionbridge.planner.errors",
		metric.WithDescription("Plan generation failures"),
	)
	if err != nil {
		return nil, err
	}

	m.SinkDuration, err = meter.Float64Histogram("actionbridge.sink.duration",
		metric.WithDescription("Execution sink dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
