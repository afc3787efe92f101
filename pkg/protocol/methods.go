package protocol

// Request message types, grouped the way the session router registers them.
// Request-shaped messages carry a requestId; the two exceptions are noted.

// Agent lifecycle
const (
	MsgCreateAgent     = "create_agent_request"
	MsgResumeAgent     = "resume_agent_request"
	MsgRefreshAgent    = "refresh_agent_request"
	MsgInitializeAgent = "initialize_agent_request"
	MsgCancelAgent     = "cancel_agent_request"
	MsgDeleteAgent     = "delete_agent_request"
	MsgArchiveAgent    = "archive_agent_request"
	MsgSetAgentMode    = "set_agent_mode"
)

// Agent streaming
const (
	MsgSendAgentMessage   = "send_agent_message_request"
	MsgPermissionResponse = "agent_permission_response"
	MsgWaitForFinish      = "wait_for_finish_request"
)

// Agent queries
const (
	MsgFetchAgents             = "fetch_agents_request"
	MsgFetchAgent              = "fetch_agent_request"
	MsgSubscribeAgentUpdates   = "subscribe_agent_updates"
	MsgUnsubscribeAgentUpdates = "unsubscribe_agent_updates"
)

// Checkout & worktree
const (
	MsgCheckoutStatus        = "checkout_status_request"
	MsgCheckoutDiff          = "checkout_diff_request"
	MsgCheckoutCommit        = "checkout_commit_request"
	MsgCheckoutMerge         = "checkout_merge_request"
	MsgCheckoutMergeFromBase = "checkout_merge_from_base_request"
	MsgCheckoutPush          = "checkout_push_request"
	MsgCheckoutPRCreate      = "checkout_pr_create_request"
	MsgCheckoutPRStatus      = "checkout_pr_status_request"
	MsgWorktreeList          = "paseo_worktree_list_request"
	MsgWorktreeArchive       = "paseo_worktree_archive_request"
)

// Filesystem & project
const (
	MsgFileExplorer      = "file_explorer_request"
	MsgFileDownloadToken = "file_download_token_request"
	MsgProjectIcon       = "project_icon_request"
	MsgGitRepoInfo       = "git_repo_info_request"
	MsgGitDiff           = "git_diff_request"
	MsgHighlightedDiff   = "highlighted_diff_request"
)

// Terminals
const (
	MsgListTerminals       = "list_terminals_request"
	MsgCreateTerminal      = "create_terminal_request"
	MsgSubscribeTerminal   = "subscribe_terminal_request"
	MsgUnsubscribeTerminal = "unsubscribe_terminal_request"
	MsgTerminalInput       = "terminal_input" // fire-and-forget, no requestId
	MsgKillTerminal        = "kill_terminal_request"
)

// Voice
const (
	MsgRealtimeAudioChunk      = "realtime_audio_chunk" // fire-and-forget, no requestId
	MsgSetVoiceConversation    = "set_voice_conversation"
	MsgLoadVoiceConversation   = "load_voice_conversation_request"
	MsgListVoiceConversations  = "list_voice_conversations_request"
	MsgDeleteVoiceConversation = "delete_voice_conversation_request"
	MsgStartDictation          = "start_dictation_request"
	MsgDictationAudioChunk     = "dictation_audio_chunk"
	MsgFinishDictation         = "finish_dictation_request"
	MsgCancelDictation         = "cancel_dictation_request"
)

// Control
const (
	MsgRestartServer       = "restart_server_request"
	MsgClientHeartbeat     = "client_heartbeat"
	MsgRegisterPushToken   = "register_push_token"
	MsgClearAgentAttention = "clear_agent_attention"
	MsgListProviderModels  = "list_provider_models_request"
)

// Handshake
const (
	MsgClientHello = "client_hello"
)
