package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/models"
)

// stubProvider scripts Send and Setup results for decorator tests.
type stubProvider struct {
	Provider

	mu           sync.Mutex
	sendErrs     []error
	sendCalls    int
	setupErr     error
	setupCalls   int32
	setupGate    chan struct{}
	setupEntered chan struct{}
	enterOnce    sync.Once
}

func (s *stubProvider) Send(ctx context.Context, phone string, msg *models.Message, attachments []models.Attachment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendCalls++
	if len(s.sendErrs) == 0 {
		return "OK", nil
	}
	err := s.sendErrs[0]
	s.sendErrs = s.sendErrs[1:]
	if err != nil {
		return "", err
	}
	return "OK", nil
}

func (s *stubProvider) Setup(ctx context.Context) (*models.ProviderConnection, error) {
	atomic.AddInt32(&s.setupCalls, 1)
	if s.setupEntered != nil {
		s.enterOnce.Do(func() { close(s.setupEntered) })
	}
	if s.setupGate != nil {
		<-s.setupGate
	}
	if s.setupErr != nil {
		return nil, s.setupErr
	}
	return &models.ProviderConnection{Connection: models.ConnectionOpen}, nil
}

func TestReconnectRetriesOnceAfterReconnect(t *testing.T) {
	stub := &stubProvider{sendErrs: []error{unavailablef("down"), nil}}
	r := WithReconnect(stub, testLogger(), nil)

	id, err := r.Send(context.Background(), "5511999999999", textMessage("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", id)
	assert.Equal(t, 2, stub.sendCalls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.setupCalls))
}

func TestReconnectReturnsOriginalErrorWhenRetryFails(t *testing.T) {
	original := unavailablef("first outage")
	stub := &stubProvider{sendErrs: []error{original, unavailablef("second outage")}}
	r := WithReconnect(stub, testLogger(), nil)

	_, err := r.Send(context.Background(), "5511999999999", textMessage("hi"), nil)
	require.Error(t, err)
	// The retry failure is swallowed; the first outage is the error of
	// record.
	assert.Equal(t, original, err)
	assert.Equal(t, 2, stub.sendCalls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.setupCalls))
}

func TestReconnectDoesNotRetryWhenSetupFails(t *testing.T) {
	original := unavailablef("down")
	stub := &stubProvider{sendErrs: []error{original}, setupErr: unavailablef("still down")}
	r := WithReconnect(stub, testLogger(), nil)

	_, err := r.Send(context.Background(), "5511999999999", textMessage("hi"), nil)
	require.Error(t, err)
	assert.Equal(t, original, err)
	assert.Equal(t, 1, stub.sendCalls)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.setupCalls))
}

func TestReconnectIgnoresNonUnavailableErrors(t *testing.T) {
	stub := &stubProvider{sendErrs: []error{ErrUnsupportedContent}}
	r := WithReconnect(stub, testLogger(), nil)

	_, err := r.Send(context.Background(), "5511999999999", textMessage("hi"), nil)
	require.ErrorIs(t, err, ErrUnsupportedContent)
	assert.Equal(t, int32(0), atomic.LoadInt32(&stub.setupCalls))
}

func TestReconnectSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	stub := &stubProvider{
		sendErrs:     []error{unavailablef("down"), unavailablef("down")},
		setupGate:    gate,
		setupEntered: entered,
	}
	r := WithReconnect(stub, testLogger(), nil)

	var firstErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, firstErr = r.Send(context.Background(), "5511999999999", textMessage("hi"), nil)
	}()

	// Wait until the first failure is inside its reconnect, then fail a
	// second operation. It must not start another reconnect.
	<-entered
	_, secondErr := r.Send(context.Background(), "5511999999999", textMessage("hi"), nil)
	require.Error(t, secondErr)
	assert.True(t, IsUnavailable(secondErr))

	close(gate)
	<-done

	require.NoError(t, firstErr)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.setupCalls))
}

func TestReconnectSinkReceivesCloseThenOpen(t *testing.T) {
	stub := &stubProvider{sendErrs: []error{unavailablef("down"), nil}}

	var states []models.ConnectionState
	sink := func(ctx context.Context, conn *models.ProviderConnection) {
		states = append(states, conn.Connection)
	}
	r := WithReconnect(stub, testLogger(), sink)

	_, err := r.Send(context.Background(), "5511999999999", textMessage("hi"), nil)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, models.ConnectionClose, states[0])
	assert.Equal(t, models.ConnectionOpen, states[1])
}
