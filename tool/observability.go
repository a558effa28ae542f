package tool

import "sync"

// ToolInvokeObservation captures one invocation outcome.
type ToolInvokeObservation struct {
	InvocationID string
	ProviderID   string
	ToolName     string
	Attempts     int
	DurationMS   int64
	Success      bool
	// ToolReported is set when the provider answered with isError.
	ToolReported bool
	ErrorCode    string
}

// ToolRetryObservation captures one retried provider launch.
type ToolRetryObservation struct {
	ProviderID   string
	ToolName     string
	InvocationID string
	Attempt      int
	ErrorCode    string
}

// ProviderDiscoveryObservation captures one provider's discovery outcome.
type ProviderDiscoveryObservation struct {
	ProviderID string
	ToolCount  int
	DurationMS int64
	Success    bool
	ErrorCode  string
}

// ProviderHealthObservation captures one health-check outcome.
type ProviderHealthObservation struct {
	ProviderID    string
	State         HealthState
	PreviousState HealthState
	ToolCount     int
	DurationMS    int64
	ErrorCode     string
}

// Observer receives tool-level observability events.
type Observer interface {
	ObserveInvoke(observation ToolInvokeObservation)
	ObserveRetry(observation ToolRetryObservation)
	ObserveDiscovery(observation ProviderDiscoveryObservation)
	ObserveHealth(observation ProviderHealthObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(ToolInvokeObservation)           {}
func (noopObserver) ObserveRetry(ToolRetryObservation)             {}
func (noopObserver) ObserveDiscovery(ProviderDiscoveryObservation) {}
func (noopObserver) ObserveHealth(ProviderHealthObservation)       {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide tool observability observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func currentObserver() Observer {
	observerMu.RLock()
	defer observerMu.RUnlock()
	return activeObserver
}

func emitInvokeObservation(observation ToolInvokeObservation) {
	currentObserver().ObserveInvoke(observation)
}

func emitRetryObservation(observation ToolRetryObservation) {
	currentObserver().ObserveRetry(observation)
}

func emitDiscoveryObservation(observation ProviderDiscoveryObservation) {
	currentObserver().ObserveDiscovery(observation)
}

func emitHealthObservation(observation ProviderHealthObservation) {
	currentObserver().ObserveHealth(observation)
}
