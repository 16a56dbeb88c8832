package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"dispatchd/internal/storage"
)

// HTTPSender POSTs the notification body as JSON to dest.Endpoint,
// including dest.AdditionalHeaders. Grounded on the teacher's
// internal/otp/service.go timeout-bounded provider call.
type HTTPSender struct {
	Client *http.Client
}

func NewHTTPSender() *HTTPSender {
	return &HTTPSender{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *HTTPSender) Send(ctx context.Context, dest storage.Notification, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal http notification body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build http notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range dest.AdditionalHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("http notification request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// SQSSender sends the notification body as a message to dest.QueueURL.
// Named per SPEC_FULL.md §6 but not grounded in the retrieved pack — no
// example repo exercises an AWS SDK directly.
type SQSSender struct {
	Client *sqs.Client
}

func NewSQSSender(client *sqs.Client) *SQSSender { return &SQSSender{Client: client} }

func (s *SQSSender) Send(ctx context.Context, dest storage.Notification, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal sqs notification body: %w", err)
	}
	_, err = s.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(dest.QueueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// SNSSender publishes the notification body to dest.TargetARN.
type SNSSender struct {
	Client *sns.Client
}

func NewSNSSender(client *sns.Client) *SNSSender { return &SNSSender{Client: client} }

func (s *SNSSender) Send(ctx context.Context, dest storage.Notification, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal sns notification body: %w", err)
	}
	_, err = s.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(dest.TargetARN),
		Message:  aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
