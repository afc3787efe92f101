package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/paseohq/paseo/internal/provider"
)

const (
	maxTitleLen     = 72
	metadataTimeout = 30 * time.Second
)

const metadataSystemPrompt = `You name coding tasks. Given the user's first prompt, respond with JSON:
{"title": "...", "branchName": "..."}
The title is at most 72 characters, imperative, no trailing period. The
branchName is a short kebab-case git branch name, or empty if none fits.
Respond with the JSON object only.`

// generateMetadata asks the cheap model for a title and branch name after
// an agent's first prompt. Detached from the run and always non-fatal: any
// failure falls back to a truncated prompt title.
func (m *Manager) generateMetadata(id, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()

	title, branch := m.askCheapModel(ctx, prompt)
	if title == "" {
		title = fallbackTitle(prompt)
	}

	a, err := m.get(id)
	if err != nil {
		return // deleted in the meantime
	}
	a.mu.Lock()
	if a.rec.Title == "" {
		a.rec.Title = title
	}
	if a.rec.BranchName == "" && branch != "" {
		a.rec.BranchName = branch
	}
	a.rec.UpdatedAt = time.Now().UTC()
	m.persistLocked(a)
	snap := a.snapshotLocked()
	a.mu.Unlock()

	m.updates.PublishUpsert(snap)
	m.logger.Debug("agent_metadata_set", "agent_id", id, "title", title)
}

func (m *Manager) askCheapModel(ctx context.Context, prompt string) (title, branch string) {
	p, model, err := m.providers.CheapModel()
	if err != nil {
		m.logger.Debug("metadata_provider_unavailable", "error", err)
		return "", ""
	}
	raw, err := provider.Complete(ctx, p, model, metadataSystemPrompt, prompt)
	if err != nil {
		m.logger.Debug("metadata_generation_failed", "error", err)
		return "", ""
	}

	var parsed struct {
		Title      string `json:"title"`
		BranchName string `json:"branchName"`
	}
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		m.logger.Debug("metadata_parse_failed", "error", err)
		return "", ""
	}
	return truncateTitle(parsed.Title), parsed.BranchName
}

func fallbackTitle(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	return truncateTitle(title)
}

func truncateTitle(title string) string {
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) <= maxTitleLen {
		return title
	}
	return strings.TrimSpace(string(runes[:maxTitleLen-1])) + "…"
}
