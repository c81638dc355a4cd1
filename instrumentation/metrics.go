package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the grant engine
type Metrics struct {
	// Grant Pipeline Metrics
	GrantsTotal      metric.Int64Counter
	GrantDuration    metric.Float64Histogram
	TokensIssued     metric.Int64Counter
	NeedInfoReturned metric.Int64Counter

	// UMA Metrics
	TicketsRedeemed  metric.Int64Counter
	TicketRacesLost  metric.Int64Counter
	RPTUpgrades      metric.Int64Counter
	PolicyRejections metric.Int64Counter

	// Token Exchange Metrics
	ExchangesDownscoped metric.Int64Counter
	DelegationsIssued   metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageTicketsCount      metric.Int64ObservableGauge
	StorageClientsCount      metric.Int64ObservableGauge
	StorageResourcesCount    metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	grantMeter := inst.Meter("grant")
	storageMeter := inst.Meter("storage")

	var err error
	m.GrantsTotal, err = grantMeter.Int64Counter(
		"grant.requests.total",
		metric.WithDescription("Total number of token grant requests by type and outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.requests.total counter: %w", err)
	}

	m.GrantDuration, err = grantMeter.Float64Histogram(
		"grant.request.duration",
		metric.WithDescription("Grant pipeline duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.request.duration histogram: %w", err)
	}

	m.TokensIssued, err = grantMeter.Int64Counter(
		"grant.tokens.issued",
		metric.WithDescription("Number of tokens issued by the grant engine"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.tokens.issued counter: %w", err)
	}

	m.NeedInfoReturned, err = grantMeter.Int64Counter(
		"grant.uma.need_info",
		metric.WithDescription("Number of UMA need_info continuations returned"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.uma.need_info counter: %w", err)
	}

	m.TicketsRedeemed, err = grantMeter.Int64Counter(
		"grant.uma.tickets.redeemed",
		metric.WithDescription("Number of permission tickets successfully redeemed"),
		metric.WithUnit("{ticket}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.uma.tickets.redeemed counter: %w", err)
	}

	m.TicketRacesLost, err = grantMeter.Int64Counter(
		"grant.uma.tickets.races_lost",
		metric.WithDescription("Number of redemption attempts for already-consumed tickets"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.uma.tickets.races_lost counter: %w", err)
	}

	m.RPTUpgrades, err = grantMeter.Int64Counter(
		"grant.uma.rpt.upgrades",
		metric.WithDescription("Number of Requesting Party Tokens upgraded with new permissions"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.uma.rpt.upgrades counter: %w", err)
	}

	m.PolicyRejections, err = grantMeter.Int64Counter(
		"grant.policy.rejections",
		metric.WithDescription("Number of policy-engine rejections during grant evaluation"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.policy.rejections counter: %w", err)
	}

	m.ExchangesDownscoped, err = grantMeter.Int64Counter(
		"grant.exchange.downscoped",
		metric.WithDescription("Number of token exchanges issued with a narrowed scope"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.exchange.downscoped counter: %w", err)
	}

	m.DelegationsIssued, err = grantMeter.Int64Counter(
		"grant.exchange.delegations",
		metric.WithDescription("Number of delegation token exchanges (actor token present)"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.exchange.delegations counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageTicketsCount, err = storageMeter.Int64ObservableGauge(
		"storage.size.tickets",
		metric.WithDescription("Current number of stored permission tickets"),
		metric.WithUnit("{ticket}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.tickets gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"storage.size.clients",
		metric.WithDescription("Current number of registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.clients gauge: %w", err)
	}

	m.StorageResourcesCount, err = storageMeter.Int64ObservableGauge(
		"storage.size.resources",
		metric.WithDescription("Current number of registered resources"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.resources gauge: %w", err)
	}

	return m, nil
}

// RecordGrant records the outcome of one grant pipeline execution
func (m *Metrics) RecordGrant(ctx context.Context, grantType, outcome string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("outcome", outcome),
	)
	m.GrantsTotal.Add(ctx, 1, attrs)
	m.GrantDuration.Record(ctx, durationMs, attrs)
}

// RecordTokenIssued records a successfully issued token
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}

// RecordNeedInfo records a UMA need_info continuation
func (m *Metrics) RecordNeedInfo(ctx context.Context) {
	m.NeedInfoReturned.Add(ctx, 1)
}

// RecordTicketRedeemed records a successful ticket redemption
func (m *Metrics) RecordTicketRedeemed(ctx context.Context, permissionCount int) {
	m.TicketsRedeemed.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("permissions", permissionCount),
	))
}

// RecordTicketRaceLost records a redemption attempt for a consumed ticket
func (m *Metrics) RecordTicketRaceLost(ctx context.Context) {
	m.TicketRacesLost.Add(ctx, 1)
}

// RecordRPTUpgrade records an RPT upgraded with merged permissions
func (m *Metrics) RecordRPTUpgrade(ctx context.Context) {
	m.RPTUpgrades.Add(ctx, 1)
}

// RecordPolicyRejection records a policy-engine rejection
func (m *Metrics) RecordPolicyRejection(ctx context.Context, resourceID string) {
	m.PolicyRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_id", resourceID),
	))
}

// RecordExchangeDownscoped records an exchange issued with narrowed scope
func (m *Metrics) RecordExchangeDownscoped(ctx context.Context) {
	m.ExchangesDownscoped.Add(ctx, 1)
}

// RecordDelegation records a delegation exchange (actor token present)
func (m *Metrics) RecordDelegation(ctx context.Context) {
	m.DelegationsIssued.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation with its result
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}
