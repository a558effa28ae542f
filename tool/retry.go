package tool

import (
	"context"
	"time"

	"github.com/petal-labs/toolmux/provider"
)

type retryObservationMeta struct {
	providerID   string
	toolName     string
	invocationID string
}

// runWithRetry repeats fn while it fails with a retryable error, up to the
// policy's attempt budget. Only launch failures are marked retryable, so a
// tool is never executed twice.
func runWithRetry(ctx context.Context, policy provider.RetryPolicy, meta retryObservationMeta, fn func(ctx context.Context, attempt int) error) (int, error) {
	normalized := normalizeRetryPolicy(policy)
	var lastErr error

	for attempt := 1; attempt <= normalized.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, classifyConnectorError(meta.providerID, meta.toolName, stageConnect, err)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == normalized.MaxAttempts || !isRetryableError(lastErr) {
			return attempt, lastErr
		}
		emitRetryObservation(ToolRetryObservation{
			ProviderID:   meta.providerID,
			ToolName:     meta.toolName,
			InvocationID: meta.invocationID,
			Attempt:      attempt,
			ErrorCode:    toolErrorCodeOrDefault(lastErr, ""),
		})

		wait := retryBackoffDuration(normalized, attempt)
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}
	}

	return normalized.MaxAttempts, lastErr
}

func normalizeRetryPolicy(policy provider.RetryPolicy) provider.RetryPolicy {
	out := policy
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 1
	}
	if out.BackoffMS < 0 {
		out.BackoffMS = 0
	}
	return out
}

func retryBackoffDuration(policy provider.RetryPolicy, attempt int) time.Duration {
	if policy.BackoffMS <= 0 || attempt <= 0 {
		return 0
	}
	return time.Duration(policy.BackoffMS*attempt) * time.Millisecond
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if toolErr, ok := toolErrorFrom(err); ok {
		return toolErr.Retryable
	}
	return false
}
