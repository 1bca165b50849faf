package sqsbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/evalforge/backend/sandbox"
)

// Provider dispatches execution units to the remote tester fleet over AWS
// SQS. One shared receive loop drains the response queue and routes signals
// to per-unit watch channels by evaluation id.
type Provider struct {
	logger    *slog.Logger
	sqsClient *sqs.Client

	submQ string // submission sqs queue url
	respQ string // response sqs queue url

	mu      sync.Mutex
	watches map[uuid.UUID]chan sandbox.Signal

	listenCancel context.CancelFunc
	listenWait   sync.WaitGroup // on close, waits for sqs jobs to finish
}

func NewProvider(logger *slog.Logger, sqsClient *sqs.Client, submQ, respQ string) *Provider {
	p := &Provider{
		logger:    logger.With("module", "sqsbox"),
		sqsClient: sqsClient,
		submQ:     submQ,
		respQ:     respQ,
		watches:   make(map[uuid.UUID]chan sandbox.Signal),
	}

	// the cancel func must exist before the goroutine starts: Close may run
	// before the loop is ever scheduled
	ctx, cancel := context.WithCancel(context.Background())
	p.listenCancel = cancel

	p.listenWait.Add(1)
	go func() {
		defer p.listenWait.Done()
		err := startReceivingSignals(ctx, p.respQ, p.sqsClient, p.routeSignal, p.logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("failed to listen for sqs messages", "error", err)
		}
	}()

	return p
}

// Create enqueues the job request:
//  1. marshal request to json
//  2. zstd-compress and base64-encode the body
//  3. send to the submission queue
func (p *Provider) Create(ctx context.Context, spec sandbox.Spec) (sandbox.Unit, error) {
	jsonReq, err := json.Marshal(jobRequest{
		EvalID:     spec.EvalID.String(),
		RespQUrl:   p.respQ,
		Code:       spec.Code,
		MemKiB:     spec.MemKiB,
		CpuMs:      spec.CpuMs,
		TimeoutSec: spec.TimeoutSec,
	})
	if err != nil {
		return sandbox.Unit{}, fmt.Errorf("failed to marshal job request: %w", err)
	}

	zstdEncoder, err := zstd.NewWriter(nil)
	if err != nil {
		return sandbox.Unit{}, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer zstdEncoder.Close()

	compressed := zstdEncoder.EncodeAll(jsonReq, make([]byte, 0, len(jsonReq)))
	encoded := base64.StdEncoding.EncodeToString(compressed)

	_, err = p.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.submQ),
		MessageBody: aws.String(encoded),
	})
	if err != nil {
		return sandbox.Unit{}, fmt.Errorf("failed to send message to job queue: %w", err)
	}

	return sandbox.Unit{
		ID:     "sqs-" + spec.EvalID.String(),
		EvalID: spec.EvalID,
	}, nil
}

func (p *Provider) Watch(ctx context.Context, unit sandbox.Unit) (<-chan sandbox.Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.watches[unit.EvalID]
	if !ok {
		ch = make(chan sandbox.Signal, 64)
		p.watches[unit.EvalID] = ch
	}
	return ch, nil
}

// Terminate asks the fleet to stop the unit cooperatively. The tester owns
// escalation to a forced kill.
func (p *Provider) Terminate(ctx context.Context, unit sandbox.Unit) error {
	body, err := json.Marshal(terminateRequest{
		header: header{EvalID: unit.EvalID.String(), MsgType: MsgTypeTerminate},
		UnitID: unit.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal terminate request: %w", err)
	}
	_, err = p.sqsClient.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.submQ),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send terminate request: %w", err)
	}
	return nil
}

// routeSignal delivers a decoded response-queue signal to the unit's watch
// channel. Signals for unknown evaluations are reported back so the message
// stays on the queue for another consumer.
func (p *Provider) routeSignal(evalID uuid.UUID, sig sandbox.Signal) error {
	p.mu.Lock()
	ch, ok := p.watches[evalID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no watch registered for eval %s", evalID)
	}
	select {
	case ch <- sig:
		return nil
	default:
		return fmt.Errorf("watch channel full for eval %s", evalID)
	}
}

// Forget drops the watch channel once the dispatcher has settled the unit.
func (p *Provider) Forget(evalID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watches, evalID)
}

func (p *Provider) Close() {
	p.logger.Info("closing sqsbox provider")
	p.listenCancel()
	p.listenWait.Wait()
	p.logger.Info("sqsbox provider closed")
}
