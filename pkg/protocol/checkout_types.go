package protocol

import "time"

// Checkout verbs address the checkout of the agent's working directory.

type CheckoutStatusRequest struct {
	AgentID string `json:"agentId"`
}

type CheckoutStatusResult struct {
	Branch    string   `json:"branch"`
	Dirty     bool     `json:"dirty"`
	Ahead     int      `json:"ahead"`
	Behind    int      `json:"behind"`
	Staged    []string `json:"staged,omitempty"`
	Unstaged  []string `json:"unstaged,omitempty"`
	Untracked []string `json:"untracked,omitempty"`
}

type CheckoutDiffRequest struct {
	AgentID string `json:"agentId"`
	Staged  bool   `json:"staged,omitempty"`
	Path    string `json:"path,omitempty"`
}

type CheckoutDiffResult struct {
	Diff string `json:"diff"`
}

// CheckoutCommitRequest with an empty message auto-generates one.
type CheckoutCommitRequest struct {
	AgentID string `json:"agentId"`
	Message string `json:"message,omitempty"`
}

type CheckoutCommitResult struct {
	CommitSHA string `json:"commitSha"`
	Message   string `json:"message"`
}

type CheckoutMergeRequest struct {
	AgentID            string `json:"agentId"`
	TargetBranch       string `json:"targetBranch"`
	RequireCleanTarget bool   `json:"requireCleanTarget,omitempty"`
}

type CheckoutMergeResult struct {
	MergedInto string `json:"mergedInto"`
	CommitSHA  string `json:"commitSha,omitempty"`
}

type CheckoutMergeFromBaseRequest struct {
	AgentID    string `json:"agentId"`
	BaseBranch string `json:"baseBranch,omitempty"` // default: worktree base
}

type CheckoutPushRequest struct {
	AgentID string `json:"agentId"`
}

type CheckoutPushResult struct {
	Remote string `json:"remote"`
	Branch string `json:"branch"`
}

// CheckoutPRCreateRequest never commits implicitly; dirty checkouts fail.
type CheckoutPRCreateRequest struct {
	AgentID string `json:"agentId"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
	Draft   bool   `json:"draft,omitempty"`
}

type CheckoutPRCreateResult struct {
	URL    string `json:"url"`
	Number int    `json:"number,omitempty"`
}

type CheckoutPRStatusRequest struct {
	AgentID string `json:"agentId"`
}

type CheckoutPRStatusResult struct {
	Exists bool   `json:"exists"`
	Number int    `json:"number,omitempty"`
	State  string `json:"state,omitempty"` // open|merged|closed
	URL    string `json:"url,omitempty"`
	Checks string `json:"checks,omitempty"` // passing|failing|pending
}

type WorktreeListRequest struct {
	RepoRoot string `json:"repoRoot,omitempty"`
}

type WorktreeInfo struct {
	Path       string    `json:"path"`
	Branch     string    `json:"branch"`
	BaseBranch string    `json:"baseBranch,omitempty"`
	RepoRoot   string    `json:"repoRoot"`
	AgentIDs   []string  `json:"agentIds,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type WorktreeListResult struct {
	Worktrees []WorktreeInfo `json:"worktrees"`
}

type WorktreeArchiveRequest struct {
	WorktreePath string `json:"worktreePath"`
}

type WorktreeArchiveResult struct {
	RemovedAgents []string `json:"removedAgents,omitempty"`
}
