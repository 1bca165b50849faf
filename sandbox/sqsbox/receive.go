package sqsbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/evalforge/backend/sandbox"
)

// Starts receiving msgs until ctx is cancelled and passes decoded signals to
// the handler function. Handler errors leave the message unacked so SQS
// redelivers it (at-least-once).
func startReceivingSignals(ctx context.Context,
	sqsUrl string, client *sqs.Client,
	handleFunc func(evalID uuid.UUID, sig sandbox.Signal) error,
	logger *slog.Logger,
) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			output, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            aws.String(sqsUrl),
				MaxNumberOfMessages: 10,
				WaitTimeSeconds:     1,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				logger.Error("failed to receive messages", "error", err)
				continue
			}

			for _, msg := range output.Messages {
				if msg.Body == nil || msg.ReceiptHandle == nil {
					logger.Error("received malformed sqs message")
					continue
				}

				evalID, sig, err := decodeSignal(*msg.Body)
				if err != nil {
					logger.Error("failed to decode signal", "error", err)
					continue
				}

				handle := *msg.ReceiptHandle
				go func() {
					err := handleFunc(evalID, sig)
					if err != nil {
						logger.Error("failed to route tester signal", "error", err)
						return // leave unacked for redelivery
					}
					_, err = client.DeleteMessage(context.TODO(), &sqs.DeleteMessageInput{
						QueueUrl:      aws.String(sqsUrl),
						ReceiptHandle: aws.String(handle),
					})
					if err != nil {
						logger.Error("failed to ack message", "error", err)
					}
				}()
			}
		}
	}
}

func decodeSignal(body string) (uuid.UUID, sandbox.Signal, error) {
	var h header
	if err := json.Unmarshal([]byte(body), &h); err != nil {
		return uuid.Nil, sandbox.Signal{}, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	evalID, err := uuid.Parse(h.EvalID)
	if err != nil {
		return uuid.Nil, sandbox.Signal{}, fmt.Errorf("failed to parse eval_id: %w", err)
	}

	switch h.MsgType {
	case MsgTypeUnitStarted:
		var m unitStarted
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return uuid.Nil, sandbox.Signal{}, fmt.Errorf("failed to unmarshal %s: %w", h.MsgType, err)
		}
		at, err := time.Parse(time.RFC3339, m.StartedAt)
		if err != nil {
			at = time.Now()
		}
		return evalID, sandbox.Signal{
			Kind:    sandbox.SignalStarted,
			SysInfo: m.SystemInfo,
			At:      at,
		}, nil
	case MsgTypeUnitExited:
		var m unitExited
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return uuid.Nil, sandbox.Signal{}, fmt.Errorf("failed to unmarshal %s: %w", h.MsgType, err)
		}
		at, err := time.Parse(time.RFC3339, m.ExitedAt)
		if err != nil {
			at = time.Now()
		}
		return evalID, sandbox.Signal{
			Kind:     sandbox.SignalExited,
			ExitCode: m.ExitCode,
			Output:   m.Output,
			At:       at,
		}, nil
	case MsgTypeUnitFailed:
		var m unitFailed
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return uuid.Nil, sandbox.Signal{}, fmt.Errorf("failed to unmarshal %s: %w", h.MsgType, err)
		}
		return evalID, sandbox.Signal{
			Kind: sandbox.SignalFailed,
			Err:  m.ErrorMessage,
			At:   time.Now(),
		}, nil
	}
	return uuid.Nil, sandbox.Signal{}, fmt.Errorf("unknown msg type: %s", h.MsgType)
}
