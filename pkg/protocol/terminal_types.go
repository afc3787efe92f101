package protocol

import "time"

type TerminalInfo struct {
	ID        string    `json:"id"`
	Cwd       string    `json:"cwd"`
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"startedAt"`
}

type ListTerminalsRequest struct {
	Cwd string `json:"cwd,omitempty"` // filter; empty lists all
}

type ListTerminalsResult struct {
	Terminals []TerminalInfo `json:"terminals"`
}

type CreateTerminalRequest struct {
	Cwd  string `json:"cwd"`
	Name string `json:"name"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

type CreateTerminalResult struct {
	Terminal TerminalInfo `json:"terminal"`
}

type SubscribeTerminalRequest struct {
	TerminalID string `json:"terminalId"`
}

type UnsubscribeTerminalRequest struct {
	TerminalID string `json:"terminalId"`
}

// TerminalInputMsg is fire-and-forget; no response is emitted.
type TerminalInputMsg struct {
	TerminalID string `json:"terminalId"`
	DataB64    string `json:"dataB64"`
}

type KillTerminalRequest struct {
	TerminalID string `json:"terminalId"`
}
