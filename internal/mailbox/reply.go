package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	contractsmq "mailpilot/contracts/mq"
	"mailpilot/internal/model"
	"mailpilot/pkg/trace"
)

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// Publisher is the part of pkg/mq.Publisher the reply sender needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// MQReplySender hands replies to the mail gateway over RabbitMQ.
type MQReplySender struct {
	publisher Publisher
}

func NewMQReplySender(publisher Publisher) *MQReplySender {
	return &MQReplySender{publisher: publisher}
}

func (s *MQReplySender) SendReply(ctx context.Context, email model.Email, text string) error {
	payload := contractsmq.ReplySendPayload{
		EmailID:  email.ID,
		To:       email.Sender,
		Subject:  ReplySubject(email.Subject),
		Body:     text,
		ThreadID: email.ThreadID,
		TraceID:  trace.FromContext(ctx),
	}
	if err := s.publisher.PublishWithContext(ctx, contractsmq.RoutingKeyReplySend, payload); err != nil {
		return fmt.Errorf("publish reply for %s: %w", email.ID, err)
	}
	return nil
}

// SESAPI is the SES call used for replies.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESReplySender delivers replies directly through AWS SES.
type SESReplySender struct {
	client SESAPI
	from   string
}

func NewSESReplySender(client SESAPI, from string) *SESReplySender {
	return &SESReplySender{client: client, from: from}
}

// NewSESReplySenderFromRegion loads the default AWS credential chain.
func NewSESReplySenderFromRegion(ctx context.Context, region, from string) (*SESReplySender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESReplySender(ses.NewFromConfig(cfg), from), nil
}

func (s *SESReplySender) SendReply(ctx context.Context, email model.Email, text string) error {
	if email.Sender == "" {
		return fmt.Errorf("email %s has no sender to reply to", email.ID)
	}
	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{email.Sender}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(ReplySubject(email.Subject))},
			Body:    &types.Body{Text: &types.Content{Data: aws.String(text)}},
		},
		Source: aws.String(s.from),
	})
	if err != nil {
		return fmt.Errorf("ses send reply for %s: %w", email.ID, err)
	}
	return nil
}
