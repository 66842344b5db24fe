package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of streamed event
type EventType string

const (
	// EventTypeDecision is emitted once per pipeline run
	EventTypeDecision EventType = "decision"
	// EventTypeReload is emitted when rulesets are reloaded
	EventTypeReload EventType = "reload"
	// EventTypeSystem carries server status updates
	EventTypeSystem EventType = "system"
	// EventTypeConnection signals client connects and disconnects
	EventTypeConnection EventType = "connection"
)

// Event is the envelope sent to subscribed clients
type Event struct {
	Type          EventType   `json:"type"`
	Timestamp     time.Time   `json:"timestamp"`
	Data          interface{} `json:"data"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// DecisionEvent summarizes one pipeline decision. It carries the text
// fingerprint, never the text.
type DecisionEvent struct {
	CorrelationID  string   `json:"correlation_id"`
	Fingerprint    string   `json:"fingerprint"`
	Outcome        string   `json:"outcome"`
	Stage          string   `json:"stage"`
	RuleIDs        []string `json:"rule_ids,omitempty"`
	Reasons        []string `json:"reasons,omitempty"`
	RulesetVersion string   `json:"ruleset_version"`
	Scope          string   `json:"scope,omitempty"`
	ProcessingMS   float64  `json:"processing_ms"`
}

// ReloadEvent reports a ruleset reload result
type ReloadEvent struct {
	Scopes   []string `json:"scopes"`
	RuleSets int      `json:"rulesets"`
	Err      string   `json:"error,omitempty"`
}

// SystemEvent carries periodic server status
type SystemEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	ActiveScopes     int    `json:"active_scopes"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent reports client lifecycle changes
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to the server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows which event types a client receives
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents one WebSocket subscriber
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	IP           string
}
