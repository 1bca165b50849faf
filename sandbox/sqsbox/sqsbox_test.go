package sqsbox

import (
	"context"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evalforge/backend/sandbox"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	client := sqs.New(sqs.Options{
		Region:      "eu-central-1",
		Credentials: aws.AnonymousCredentials{},
	})
	return NewProvider(slog.Default(), client,
		"https://sqs.invalid/jobs", "https://sqs.invalid/responses")
}

func TestCloseRightAfterNewProvider(t *testing.T) {
	// Close may run before the receive loop is ever scheduled; it must
	// still stop the loop cleanly instead of panicking on a nil cancel
	p := newTestProvider(t)
	p.Close()
}

func TestRouteSignalRequiresRegisteredWatch(t *testing.T) {
	p := newTestProvider(t)
	defer p.Close()

	evalID := uuid.New()
	sig := sandbox.Signal{Kind: sandbox.SignalExited}

	require.Error(t, p.routeSignal(evalID, sig), "unknown evaluation leaves the message unacked")

	ch, err := p.Watch(context.Background(), sandbox.Unit{EvalID: evalID})
	require.NoError(t, err)
	require.NoError(t, p.routeSignal(evalID, sig))
	got := <-ch
	require.Equal(t, sandbox.SignalExited, got.Kind)

	p.Forget(evalID)
	require.Error(t, p.routeSignal(evalID, sig))
}
