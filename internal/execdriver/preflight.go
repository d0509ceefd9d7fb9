package execdriver

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// CheckAPIKeyReachable does a best-effort, non-fatal reachability check of
// an Anthropic API key via a cheap models.List call, before injecting it
// into a sandbox for a potentially hour-long run. A failure here is
// logged by the caller and never aborts the execution — it never
// interprets or executes the agent's own prompts.
func CheckAPIKeyReachable(ctx context.Context, apiKey string) error {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	_, err := client.Models.List(ctx, anthropic.ModelListParams{})
	return err
}
