package tool

import (
	"context"
	"sync"
	"time"

	"github.com/petal-labs/toolmux/provider"
)

// HealthState indicates the current health of a provider.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthReport is one provider health probe result.
type HealthReport struct {
	ProviderID   string      `json:"provider_id"`
	State        HealthState `json:"state"`
	CheckedAt    time.Time   `json:"checked_at"`
	LatencyMS    int64       `json:"latency_ms"`
	ToolCount    int         `json:"tool_count"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// HealthChecker probes providers by opening a session, completing the
// handshake and listing tools.
type HealthChecker struct {
	connector Connector
	timeout   time.Duration
	now       func() time.Time
}

// NewHealthChecker returns a checker that opens sessions through connector.
func NewHealthChecker(connector Connector, timeout time.Duration) *HealthChecker {
	if connector == nil {
		connector = NewStdioConnector(nil)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HealthChecker{
		connector: connector,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Check probes one provider. Failures are reported in the result, not
// returned.
func (h *HealthChecker) Check(ctx context.Context, desc provider.Descriptor) HealthReport {
	report := HealthReport{
		ProviderID: desc.ID,
		State:      HealthUnknown,
		CheckedAt:  h.now(),
	}

	checkCtx, cancel := context.WithTimeout(ctx, desc.Timeout(h.timeout))
	defer cancel()

	start := time.Now()
	err := withSession(checkCtx, h.connector, desc, "", stageList, func(ctx context.Context, session Session) error {
		tools, err := session.ListTools(ctx)
		report.ToolCount = len(tools)
		return err
	})
	report.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		report.State = HealthUnhealthy
		report.ErrorCode = toolErrorCodeOrDefault(err, "")
		report.ErrorMessage = err.Error()
		return report
	}
	report.State = HealthHealthy
	return report
}

// CheckAll probes every provider concurrently and returns reports in the
// order given.
func (h *HealthChecker) CheckAll(ctx context.Context, providers []provider.Descriptor) []HealthReport {
	reports := make([]HealthReport, len(providers))
	var wg sync.WaitGroup
	for i, desc := range providers {
		wg.Add(1)
		go func(i int, desc provider.Descriptor) {
			defer wg.Done()
			reports[i] = h.Check(ctx, desc)
		}(i, desc)
	}
	wg.Wait()
	return reports
}
