// Package provider wraps the external chat platform: the outbound calls the
// pipeline makes (delete, flag, ban, user messaging) and verification of the
// signatures the platform attaches to inbound webhook events.
//
// All outbound calls are fallible and independently logged by callers;
// nothing here retries beyond the HTTP client's own backoff.
package provider

import (
	"context"
	"time"
)

// Message is the subset of provider message state the pipeline needs.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BanOpts parameterizes a user ban. A nil TimeoutMinutes means permanent.
type BanOpts struct {
	TimeoutMinutes *int
	Reason         string
	BannedBy       string
}

type Client interface {
	// GetMessage fetches a message by provider id, used to resolve the true
	// author before user-level actions on a message target.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// DeleteMessage removes a message; hard deletion is unrecoverable.
	DeleteMessage(ctx context.Context, id string, hard bool) error

	// FlagMessage marks a message for provider-side review on behalf of actorID.
	FlagMessage(ctx context.Context, id, actorID, reason string) error

	// BanUser bans a user provider-side.
	BanUser(ctx context.Context, userID string, opts BanOpts) error

	// SendCrisisResources delivers support resources to a user as a direct
	// system message. Best-effort.
	SendCrisisResources(ctx context.Context, userID string, resources []string) error
}
