package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	args := m.Called(topic, key, value)
	return args.Error(0)
}

func TestPublishWrapsEnvelope(t *testing.T) {
	pub := new(MockPublisher)
	var captured []byte
	pub.On("Publish", "notifications", "ord-1", mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(2).([]byte) }).
		Return(nil)

	n := NewNotifier(pub, "notifications", nil)
	err := n.Publish(context.Background(), EventVendorAlert, "ord-1", VendorAlert{VendorID: "v1", Message: "new paid order"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(captured, &env))
	assert.Equal(t, EventVendorAlert, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "ord-1", env.CorrelationID)
	assert.NotEmpty(t, env.EventID)

	var alert VendorAlert
	require.NoError(t, json.Unmarshal(env.Payload, &alert))
	assert.Equal(t, "v1", alert.VendorID)
	pub.AssertExpectations(t)
}

func TestPublishReturnsTransportError(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	n := NewNotifier(pub, "notifications", nil)
	err := n.Publish(context.Background(), EventOrderCreated, "g1", OrderCreated{})
	assert.EqualError(t, err, "broker down")
}

type recordingSink struct {
	events []string
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event, _ string, _ interface{}) error {
	s.events = append(s.events, event)
	return s.err
}

func TestFanoutReachesEverySink(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}

	err := Fanout{failing, ok}.Publish(context.Background(), EventVendorAlert, "v1", VendorAlert{VendorID: "v1"})
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, []string{EventVendorAlert}, failing.events)
	assert.Equal(t, []string{EventVendorAlert}, ok.events)
}
