package sandbox_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/codeduel/go/clients"
	"github.com/mcdev12/codeduel/go/internal/models"
)

// SandboxClient runs submissions on a remote execution service.
type SandboxClient struct {
	*clients.BaseClient
}

type executeRequest struct {
	Source    string            `json:"source"`
	TestCases []models.TestCase `json:"test_cases"`
}

func NewSandboxClient(baseURL, apiKey string, timeout time.Duration) *SandboxClient {
	client := &SandboxClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetHeader(APIKeyHeader, apiKey)
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return client
}

// Execute sends source and the test cases to the service and returns its
// verdict.
func (c *SandboxClient) Execute(ctx context.Context, source string, tests []models.TestCase) (models.Verdict, error) {
	body, err := json.Marshal(executeRequest{Source: source, TestCases: tests})
	if err != nil {
		return models.Verdict{}, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	resp, err := c.Post(ctx, ExecuteEndpoint, bytes.NewReader(body))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("sandbox execute: %w", err)
	}

	var verdict models.Verdict
	if err := json.Unmarshal(resp, &verdict); err != nil {
		return models.Verdict{}, fmt.Errorf("failed to decode sandbox verdict: %w", err)
	}
	if verdict.PassedCount < 0 || verdict.PassedCount > len(tests) {
		return models.Verdict{}, fmt.Errorf("sandbox reported %d passes for %d test cases", verdict.PassedCount, len(tests))
	}
	return verdict, nil
}

// Ping checks that the service is reachable.
func (c *SandboxClient) Ping(ctx context.Context) error {
	if _, err := c.Get(ctx, HealthEndpoint); err != nil {
		return fmt.Errorf("sandbox health check: %w", err)
	}
	return nil
}
