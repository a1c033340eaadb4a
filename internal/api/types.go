package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/homecare/internal/store"
	"github.com/matheus3301/homecare/internal/wire"
)

type GetStatusRequest struct{}

// StatusResponse describes the daemon, its connection and the store.
type StatusResponse struct {
	Profile          string     `json:"profile"`
	State            string     `json:"state"`
	Endpoint         string     `json:"endpoint"`
	Attempts         int        `json:"attempts"`
	ReconnectPending bool       `json:"reconnectPending"`
	HasCredential    bool       `json:"hasCredential"`
	Subject          string     `json:"subject,omitempty"`
	CredentialExpiry *time.Time `json:"credentialExpiry,omitempty"`
	Authenticated    bool       `json:"authenticated"`
	AuthError        string     `json:"authError,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	LastInbound      *time.Time `json:"lastInbound,omitempty"`
	LastOpen         *time.Time `json:"lastOpen,omitempty"`
	UptimeMs         int64      `json:"uptimeMs"`
}

// ConnectRequest opens the socket. A non-empty token replaces the stored one.
type ConnectRequest struct {
	Token string `json:"token,omitempty"`
}

type ConnectResponse struct {
	State   string `json:"state"`
	Subject string `json:"subject,omitempty"`
}

type DisconnectRequest struct {
	// Forget also deletes the stored credential.
	Forget bool `json:"forget,omitempty"`
}

type DisconnectResponse struct {
	State string `json:"state"`
}

type RecentEventsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type RecentEventsResponse struct {
	Events   []store.ConnectionEvent `json:"events"`
	Outbound []store.OutboundEntry   `json:"outbound"`
}

type ListConversationsRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

type ListConversationsResponse struct {
	SelfID        string              `json:"selfId,omitempty"`
	Conversations []wire.Conversation `json:"conversations"`
	ActiveID      string              `json:"activeId,omitempty"`
	Loading       bool                `json:"loading"`
}

type ListUsersRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

type ListUsersResponse struct {
	Users   []wire.User `json:"users"`
	Loading bool        `json:"loading"`
}

// OpenConversationRequest opens a conversation by id, or with a peer when
// only PeerID is set.
type OpenConversationRequest struct {
	ID     string `json:"id,omitempty"`
	PeerID string `json:"peerId,omitempty"`
}

type OpenConversationResponse struct {
	ActiveID string `json:"activeId"`
	// Warning is set when the conversation opened locally but its history
	// could not be requested.
	Warning string `json:"warning,omitempty"`
}

type CloseConversationRequest struct{}

type CloseConversationResponse struct{}

type ListMessagesRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

type ListMessagesResponse struct {
	ActiveID string         `json:"activeId,omitempty"`
	PeerID   string         `json:"peerId,omitempty"`
	Messages []wire.Message `json:"messages"`
	Loading  bool           `json:"loading"`
}

type SendMessageRequest struct {
	PeerID  string `json:"peerId"`
	Content string `json:"content"`
}

type SendMessageResponse struct {
	ActiveID string `json:"activeId"`
}

type MarkReadRequest struct {
	MessageID string `json:"messageId"`
}

type MarkReadResponse struct{}

type IsOnlineRequest struct {
	UserID string `json:"userId"`
}

type IsOnlineResponse struct {
	Online bool `json:"online"`
}

// WatchEventsRequest selects bus namespaces; empty means "store." and "conn.".
type WatchEventsRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

// Event is one bus event as streamed to clients.
type Event struct {
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
