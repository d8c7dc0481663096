package sandbox_client

const (
	ExecuteEndpoint = "/execute"
	HealthEndpoint  = "/health"

	APIKeyHeader = "X-Sandbox-Key"
)
