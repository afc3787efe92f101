package protocol

import "time"

type RestartServerRequest struct {
	DelayMs int64 `json:"delayMs,omitempty"`
}

type ClientHeartbeatMsg struct {
	SentAt time.Time `json:"sentAt,omitempty"`
}

type ClientHeartbeatResult struct {
	ServerTime time.Time `json:"serverTime"`
}

type RegisterPushTokenRequest struct {
	Platform string `json:"platform"` // ios|android|web
	Token    string `json:"token"`
}

type ClearAgentAttentionRequest struct {
	AgentID string `json:"agentId"`
}

type ListProviderModelsRequest struct {
	Provider string `json:"provider,omitempty"`
}

type ModelInfo struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Cheap    bool   `json:"cheap,omitempty"`
}

type ListProviderModelsResult struct {
	Models []ModelInfo `json:"models"`
}
