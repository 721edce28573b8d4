package notify

import (
	"context"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// MaxTokensPerBatch is the provider's limit on tokens per multicast call.
const MaxTokensPerBatch = 500

var ErrPushDisabled = errors.New("push notifications disabled")

type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// BatchResult reports per-batch delivery. InvalidTokens lists tokens the
// provider rejected permanently; they should be removed from the registry.
type BatchResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Pusher delivers one message to up to MaxTokensPerBatch device tokens.
type Pusher interface {
	SendMulticast(ctx context.Context, msg Message, tokens []string) (*BatchResult, error)
}

// multicastClient is the subset of *messaging.Client FCMPusher needs.
type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMPusher sends through Firebase Cloud Messaging.
type FCMPusher struct {
	client multicastClient
}

// NewFCMPusher returns ErrPushDisabled when credentialsFile is empty or does
// not exist.
func NewFCMPusher(ctx context.Context, credentialsFile string) (*FCMPusher, error) {
	if credentialsFile == "" {
		return nil, ErrPushDisabled
	}
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPushDisabled, err)
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing messaging client: %w", err)
	}
	return &FCMPusher{client: client}, nil
}

func (p *FCMPusher) SendMulticast(ctx context.Context, msg Message, tokens []string) (*BatchResult, error) {
	if len(tokens) > MaxTokensPerBatch {
		return nil, fmt.Errorf("batch of %d tokens exceeds limit of %d", len(tokens), MaxTokensPerBatch)
	}

	br, err := p.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("error sending multicast: %w", err)
	}

	result := &BatchResult{SuccessCount: br.SuccessCount, FailureCount: br.FailureCount}
	for i, resp := range br.Responses {
		if resp.Success || i >= len(tokens) {
			continue
		}
		if messaging.IsUnregistered(resp.Error) || messaging.IsInvalidArgument(resp.Error) {
			result.InvalidTokens = append(result.InvalidTokens, tokens[i])
		}
	}
	return result, nil
}
