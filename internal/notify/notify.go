// Package notify defines the outbound message contract between the engine
// and whatever transport actually reaches actors. The engine never knows
// whether a channel is a chat, a webhook, or a test recorder.
package notify

import "context"

type Channel string

const (
	// ChannelRequester targets one actor's private conversation; Message.ActorID
	// selects the recipient.
	ChannelRequester Channel = "requester"
	// ChannelReviewers is the shared reviewer broadcast channel.
	ChannelReviewers Channel = "reviewers"
	// ChannelFulfillers is the shared fulfiller broadcast channel.
	ChannelFulfillers Channel = "fulfillers"
)

// Action is an inline control attached to a message, named after the
// engine action it triggers when tapped.
type Action struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	RequestID  string `json:"request_id,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

type Message struct {
	Channel Channel  `json:"channel"`
	ActorID string   `json:"actor_id,omitempty"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// MessageRef identifies a previously sent message so it can be edited.
type MessageRef string

type Notifier interface {
	Send(ctx context.Context, msg Message) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, msg Message) error
}
