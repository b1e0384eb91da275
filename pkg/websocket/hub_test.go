package websocket

import (
	"context"
	"testing"
	"time"

	"chatify/config"
	"chatify/internal/model"
	"chatify/pkg/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type receiptsMock struct {
	mock.Mock
}

func (m *receiptsMock) MarkDelivered(ctx context.Context, actorID, messageID uint) (*model.Message, error) {
	args := m.Called(actorID, messageID)
	msg, _ := args.Get(0).(*model.Message)
	return msg, args.Error(1)
}

func (m *receiptsMock) MarkRead(ctx context.Context, actorID, messageID uint) (*model.Message, error) {
	args := m.Called(actorID, messageID)
	msg, _ := args.Get(0).(*model.Message)
	return msg, args.Error(1)
}

func (m *receiptsMock) MarkAllReadFrom(ctx context.Context, readerID, senderID uint) ([]model.Message, error) {
	args := m.Called(readerID, senderID)
	msgs, _ := args.Get(0).([]model.Message)
	return msgs, args.Error(1)
}

type publicErr string

func (e publicErr) Error() string  { return "internal: " + string(e) }
func (e publicErr) Public() string { return string(e) }

func newTestHub(t *testing.T, ids ...uint) (*Hub, map[uint]*Client) {
	t.Helper()
	h := NewHub(config.WebSocketConfig{TypingTimeout: time.Minute}, nil, nil, nil)
	clients := make(map[uint]*Client)
	for _, id := range ids {
		c := newTestClient(id, "user")
		h.Connect(c)
		clients[id] = c
	}
	for _, c := range clients {
		drain(c)
	}
	return h, clients
}

func TestHubRegistersClientEvents(t *testing.T) {
	h, _ := newTestHub(t)
	assert.ElementsMatch(t, []string{
		event.ClientTyping, event.ClientStopTyping,
		event.ClientMessageDelivered, event.ClientMessageRead, event.ClientMarkMessagesRead,
		event.ClientInitiateCall, event.ClientAnswerCall, event.ClientRejectCall,
		event.ClientEndCall, event.ClientIceCandidate, event.ClientCallStatusUpdate,
		event.ClientHeartbeat,
	}, h.Dispatcher.Events())
}

func TestHubUnknownAndMalformed(t *testing.T) {
	h, clients := newTestHub(t, 1)
	ctx := context.Background()

	h.Handle(ctx, clients[1], []byte(`{"event":"bogus"}`))
	f := nextFrame(t, clients[1])
	assert.Equal(t, event.Error, f.Event)
	payload := decodeData[event.ErrorPayload](t, f)
	assert.Equal(t, "bogus", payload.Event)
	assert.Equal(t, ErrUnknownEvent.Error(), payload.Message)

	h.Handle(ctx, clients[1], []byte(`not json`))
	assert.Equal(t, ErrMalformedFrame.Error(), decodeData[event.ErrorPayload](t, nextFrame(t, clients[1])).Message)
}

func TestHubTypingRoutesToReceiver(t *testing.T) {
	h, clients := newTestHub(t, 1, 2)
	ctx := context.Background()

	h.Handle(ctx, clients[1], []byte(`{"event":"typing","data":{"receiverId":2}}`))
	f := nextFrame(t, clients[2])
	assert.Equal(t, event.UserTyping, f.Event)
	assert.True(t, decodeData[event.Typing](t, f).IsTyping)

	h.Handle(ctx, clients[1], []byte(`{"event":"stopTyping","data":{"receiverId":2}}`))
	assert.False(t, decodeData[event.Typing](t, nextFrame(t, clients[2])).IsTyping)

	h.Handle(ctx, clients[1], []byte(`{"event":"typing","data":{"receiverId":1}}`))
	assert.Equal(t, event.Error, nextFrame(t, clients[1]).Event)
}

func TestHubCancelTypingIsSilent(t *testing.T) {
	h, clients := newTestHub(t, 1, 2)
	h.Handle(context.Background(), clients[1], []byte(`{"event":"typing","data":{"receiverId":2}}`))
	drain(clients[2])

	h.CancelTyping(1, 2)
	assert.Equal(t, 0, h.Typing.Active())
	assertNoFrame(t, clients[2])
}

func TestHubReceipts(t *testing.T) {
	h, clients := newTestHub(t, 2)
	ctx := context.Background()

	// 未绑定回执处理
	h.Handle(ctx, clients[2], []byte(`{"event":"messageRead","data":{"messageId":5}}`))
	assert.Equal(t, event.Error, nextFrame(t, clients[2]).Event)

	receipts := new(receiptsMock)
	receipts.On("MarkDelivered", uint(2), uint(5)).Return(&model.Message{ID: 5}, nil)
	receipts.On("MarkRead", uint(2), uint(5)).Return(nil, publicErr("Not allowed"))
	receipts.On("MarkAllReadFrom", uint(2), uint(1)).Return([]model.Message{}, nil)
	h.UseReceipts(receipts)

	h.Handle(ctx, clients[2], []byte(`{"event":"messageDelivered","data":{"messageId":5}}`))
	assertNoFrame(t, clients[2])

	h.Handle(ctx, clients[2], []byte(`{"event":"messageRead","data":{"messageId":5}}`))
	f := nextFrame(t, clients[2])
	require.Equal(t, event.Error, f.Event)
	assert.Equal(t, "Not allowed", decodeData[event.ErrorPayload](t, f).Message)

	h.Handle(ctx, clients[2], []byte(`{"event":"markMessagesRead","data":{"senderId":1}}`))
	assertNoFrame(t, clients[2])

	receipts.AssertExpectations(t)
}

func TestHubLeaveStopsTyping(t *testing.T) {
	h, clients := newTestHub(t, 1, 2)
	h.Handle(context.Background(), clients[1], []byte(`{"event":"typing","data":{"receiverId":2}}`))
	drain(clients[2])

	h.Leave(clients[1])

	assert.False(t, h.Manager.IsOnline(1))
	typing := framesNamed(clients[2], event.UserTyping)
	require.Len(t, typing, 1)
	assert.False(t, decodeData[event.Typing](t, typing[0]).IsTyping)
}

func TestHubDisconnect(t *testing.T) {
	h, clients := newTestHub(t, 1)
	assert.True(t, h.Disconnect(1))
	assert.True(t, clients[1].Closed())
	assert.False(t, h.Disconnect(1))
}

func TestHubLeaveReplacedSessionKeepsTyping(t *testing.T) {
	h, clients := newTestHub(t, 1, 2)
	old := clients[1]
	fresh := newTestClient(1, "user")
	h.Connect(fresh)
	drain(clients[2])

	h.Handle(context.Background(), fresh, []byte(`{"event":"typing","data":{"receiverId":2}}`))
	drain(clients[2])

	h.Leave(old)

	assert.True(t, h.Manager.IsOnline(1))
	assert.Equal(t, 1, h.Typing.Active())
	assert.Empty(t, framesNamed(clients[2], event.UserTyping))
}

func TestHubDisconnectStopsTyping(t *testing.T) {
	h, clients := newTestHub(t, 1, 2)
	h.Handle(context.Background(), clients[1], []byte(`{"event":"typing","data":{"receiverId":2}}`))
	drain(clients[2])

	require.True(t, h.Disconnect(1))

	typing := framesNamed(clients[2], event.UserTyping)
	require.Len(t, typing, 1)
	assert.False(t, decodeData[event.Typing](t, typing[0]).IsTyping)
}

func TestHubForwardsCallSignalVerbatim(t *testing.T) {
	h, clients := newTestHub(t, 1, 2)

	h.Handle(context.Background(), clients[1],
		[]byte(`{"event":"iceCandidate","data":{"participantId":2,"candidate":{"candidate":"c"},"callId":"1-2-3","sdpExtra":"x"}}`))

	assertNoFrame(t, clients[1])
	f := nextFrame(t, clients[2])
	assert.Equal(t, event.IceCandidate, f.Event)
	assert.JSONEq(t, `{"fromId":1,"candidate":{"candidate":"c"},"callId":"1-2-3","sdpExtra":"x"}`, string(f.Data))
}
