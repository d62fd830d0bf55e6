package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/config"
	"github.com/conclave-ai/conclave/fanout"
	"github.com/conclave-ai/conclave/types"
)

// defaultLoopbackProviders seed the registry when the config names none, so
// a bare `conclave serve` is still exercisable end to end.
var defaultLoopbackProviders = []string{"alpha", "beta", "gamma"}

// providerClients builds the fan-out registry. Until a real transport is
// plugged in, every configured provider gets a deterministic loopback
// client.
func providerClients(cfg *config.Config, logger *zap.Logger) map[string]fanout.ProviderClient {
	ids := make([]string, 0, len(cfg.Providers.Limits))
	for id := range cfg.Providers.Limits {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		ids = defaultLoopbackProviders
		logger.Warn("no providers configured, registering loopback providers",
			zap.Strings("providers", ids))
	} else {
		logger.Warn("no provider transport configured, serving loopback responses",
			zap.Strings("providers", ids))
	}

	clients := make(map[string]fanout.ProviderClient, len(ids))
	for _, id := range ids {
		clients[id] = &loopbackClient{providerID: id}
	}
	return clients
}

// loopbackClient is a deterministic stand-in for a remote provider. It
// streams its answer in a few chunks and answers mapping prompts with a
// minimal parseable claim graph.
type loopbackClient struct {
	providerID string
}

func (c *loopbackClient) Generate(ctx context.Context, prompt string, continuation types.ContinuationMeta, onPartial func(fullText string)) (fanout.Result, error) {
	text := c.respond(prompt)

	// Stream in thirds so partial snapshots and delta reconciliation see
	// realistic traffic.
	for i := 1; i <= 3; i++ {
		select {
		case <-ctx.Done():
			return fanout.Result{}, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		if onPartial != nil {
			onPartial(text[:len(text)*i/3])
		}
	}

	meta, _ := json.Marshal(map[string]string{
		"provider":  c.providerID,
		"thread":    fmt.Sprintf("loopback-%d", time.Now().UnixNano()),
		"preceding": string(continuation),
	})
	return fanout.Result{ProviderID: c.providerID, Text: text, Meta: meta}, nil
}

func (c *loopbackClient) respond(prompt string) string {
	if strings.Contains(prompt, "claims and their relations") {
		supporters := sourceProviders(prompt)
		if len(supporters) == 0 {
			supporters = defaultLoopbackProviders
		}
		graph := types.MappingOutput{
			Claims: []types.Claim{
				{
					ID:         "c1",
					Label:      "loopback consensus",
					Text:       "All loopback providers agree by construction.",
					Supporters: supporters,
					Type:       types.ClaimFactual,
					Role:       types.RoleAnchor,
				},
			},
		}
		raw, _ := json.Marshal(graph)
		return "```json\n" + string(raw) + "\n```"
	}

	head := prompt
	if i := strings.IndexByte(head, '\n'); i > 0 {
		head = head[:i]
	}
	if len(head) > 120 {
		head = head[:120]
	}
	return fmt.Sprintf("[%s loopback] %s", c.providerID, head)
}

// sourceProviders lists the provider ids named by the prompt's per-source
// section headers.
func sourceProviders(prompt string) []string {
	var ids []string
	for _, line := range strings.Split(prompt, "\n") {
		if id, ok := strings.CutPrefix(line, "### "); ok {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	return ids
}
