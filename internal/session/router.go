package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/paseohq/paseo/internal/agent"
	"github.com/paseohq/paseo/internal/files"
	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/internal/terminal"
	"github.com/paseohq/paseo/internal/voice"
	"github.com/paseohq/paseo/internal/worktree"
	"github.com/paseohq/paseo/pkg/protocol"
)

// Services bundles everything the verb handlers reach into.
type Services struct {
	Info       protocol.ServerInfo
	Agents     *agent.Manager
	Worktrees  *worktree.Engine
	Files      *files.Service
	Terminals  *terminal.Manager
	Voice      *voice.Service
	Providers  *provider.Registry
	PushTokens *store.PushTokenStore

	// Restart schedules a supervised daemon restart after delay.
	Restart func(delay time.Duration)
}

type handlerFunc func(ctx context.Context, s *Session, env protocol.Envelope) (any, error)

// Router maps wire verbs to handlers. One router serves every session.
type Router struct {
	svc    Services
	logger *slog.Logger
	routes map[string]handlerFunc
}

func NewRouter(svc Services, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{svc: svc, logger: logger}
	r.routes = map[string]handlerFunc{
		// Agent lifecycle.
		protocol.MsgCreateAgent:     r.createAgent,
		protocol.MsgResumeAgent:     r.resumeAgent,
		protocol.MsgRefreshAgent:    r.refreshAgent,
		protocol.MsgInitializeAgent: r.resumeAgent,
		protocol.MsgCancelAgent:     r.cancelAgent,
		protocol.MsgDeleteAgent:     r.deleteAgent,
		protocol.MsgArchiveAgent:    r.archiveAgent,
		protocol.MsgSetAgentMode:    r.setAgentMode,

		// Agent streaming.
		protocol.MsgSendAgentMessage:   r.sendAgentMessage,
		protocol.MsgPermissionResponse: r.permissionResponse,
		protocol.MsgWaitForFinish:      r.waitForFinish,

		// Agent queries.
		protocol.MsgFetchAgents:             r.fetchAgents,
		protocol.MsgFetchAgent:              r.fetchAgent,
		protocol.MsgSubscribeAgentUpdates:   r.subscribeAgentUpdates,
		protocol.MsgUnsubscribeAgentUpdates: r.unsubscribeAgentUpdates,

		// Checkout & worktree.
		protocol.MsgCheckoutStatus:        r.checkoutStatus,
		protocol.MsgCheckoutDiff:          r.checkoutDiff,
		protocol.MsgCheckoutCommit:        r.checkoutCommit,
		protocol.MsgCheckoutMerge:         r.checkoutMerge,
		protocol.MsgCheckoutMergeFromBase: r.checkoutMergeFromBase,
		protocol.MsgCheckoutPush:          r.checkoutPush,
		protocol.MsgCheckoutPRCreate:      r.checkoutPRCreate,
		protocol.MsgCheckoutPRStatus:      r.checkoutPRStatus,
		protocol.MsgWorktreeList:          r.worktreeList,
		protocol.MsgWorktreeArchive:       r.worktreeArchive,

		// Filesystem & project.
		protocol.MsgFileExplorer:      r.fileExplorer,
		protocol.MsgFileDownloadToken: r.fileDownloadToken,
		protocol.MsgProjectIcon:       r.projectIcon,
		protocol.MsgGitRepoInfo:       r.gitRepoInfo,
		protocol.MsgGitDiff:           r.gitDiff,
		protocol.MsgHighlightedDiff:   r.highlightedDiff,

		// Terminals.
		protocol.MsgListTerminals:       r.listTerminals,
		protocol.MsgCreateTerminal:      r.createTerminal,
		protocol.MsgSubscribeTerminal:   r.subscribeTerminal,
		protocol.MsgUnsubscribeTerminal: r.unsubscribeTerminal,
		protocol.MsgKillTerminal:        r.killTerminal,

		// Voice.
		protocol.MsgSetVoiceConversation:    r.setVoiceConversation,
		protocol.MsgLoadVoiceConversation:   r.loadVoiceConversation,
		protocol.MsgListVoiceConversations:  r.listVoiceConversations,
		protocol.MsgDeleteVoiceConversation: r.deleteVoiceConversation,
		protocol.MsgStartDictation:          r.startDictation,
		protocol.MsgFinishDictation:         r.finishDictation,
		protocol.MsgCancelDictation:         r.cancelDictation,

		// Control.
		protocol.MsgRestartServer:       r.restartServer,
		protocol.MsgClientHeartbeat:     r.clientHeartbeat,
		protocol.MsgRegisterPushToken:   r.registerPushToken,
		protocol.MsgClearAgentAttention: r.clearAgentAttention,
		protocol.MsgListProviderModels:  r.listProviderModels,
	}
	return r
}

// agentCwd resolves an identifier to the agent's working directory; the
// checkout and file verbs all address paths through the agent.
func (r *Router) agentCwd(identifier string) (string, error) {
	snap, _, err := r.svc.Agents.Fetch(identifier)
	if err != nil {
		return "", err
	}
	return snap.Cwd, nil
}
