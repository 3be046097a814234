package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessaging struct {
	mu         sync.Mutex
	sent       []*messaging.Message
	multicasts []*messaging.MulticastMessage
	sendErr    error
	failTokens map[string]error
	chunkErrAt int // 1-based multicast call that fails; 0 never
}

func (f *fakeMessaging) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeMessaging) SendEachForMulticast(_ context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multicasts = append(f.multicasts, m)
	if f.chunkErrAt > 0 && len(f.multicasts) == f.chunkErrAt {
		return nil, errors.New("connection reset")
	}
	resp := &messaging.BatchResponse{}
	for _, tok := range m.Tokens {
		if err, ok := f.failTokens[tok]; ok {
			resp.FailureCount++
			resp.Responses = append(resp.Responses, &messaging.SendResponse{Error: err})
			continue
		}
		resp.SuccessCount++
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: "ok"})
	}
	return resp, nil
}

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("token-%04d", i)
	}
	return out
}

func TestFCMSendToOneBuildsFullMessage(t *testing.T) {
	client := &fakeMessaging{}
	gw := NewFCMGateway(client)

	err := gw.SendToOne(context.Background(), "device-1", NewPayload(TypeReminder, "Call", "Now", map[string]string{"reminderId": "r1"}))
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	msg := client.sent[0]
	assert.Equal(t, "device-1", msg.Token)
	assert.Equal(t, "Call", msg.Notification.Title)
	assert.Equal(t, "r1", msg.Data["reminderId"])
	require.NotNil(t, msg.Android)
	assert.Equal(t, "high", msg.Android.Priority)
	require.NotNil(t, msg.APNS)
	require.NotNil(t, msg.APNS.Payload.Aps.Badge)
	assert.Equal(t, 1, *msg.APNS.Payload.Aps.Badge)
}

func TestFCMSimplifiedDropsPlatformOverrides(t *testing.T) {
	client := &fakeMessaging{}
	gw := NewFCMGateway(client, WithSimplifiedPayload())

	require.NoError(t, gw.SendToOne(context.Background(), "device-1", NewPayload(TypeAlert, "A", "B", map[string]string{"x": "y"})))
	msg := client.sent[0]
	assert.Nil(t, msg.Android)
	assert.Nil(t, msg.APNS)
	assert.Equal(t, map[string]string{"type": "alert"}, msg.Data)
}

func TestFCMSendToOneWrapsUntypedErrorAsUnreachable(t *testing.T) {
	client := &fakeMessaging{sendErr: errors.New("dial tcp: no route to host")}
	gw := NewFCMGateway(client)

	err := gw.SendToOne(context.Background(), "device-1", NewPayload(TypeReminder, "A", "", nil))
	require.Error(t, err)
	assert.Equal(t, FailureUnreachable, KindOf(err))
}

func TestFCMSendToOneTimeout(t *testing.T) {
	client := &fakeMessaging{sendErr: context.DeadlineExceeded}
	gw := NewFCMGateway(client)

	err := gw.SendToOne(context.Background(), "device-1", NewPayload(TypeReminder, "A", "", nil))
	assert.Equal(t, FailureTimeout, KindOf(err))
}

func TestFCMMulticastChunksAt500(t *testing.T) {
	client := &fakeMessaging{failTokens: map[string]error{"token-0700": errors.New("boom")}}
	gw := NewFCMGateway(client)

	res, err := gw.SendMulticast(context.Background(), tokens(1201), NewPayload(TypeAnnouncement, "Hi", "All", nil))
	require.NoError(t, err)

	require.Len(t, client.multicasts, 3)
	assert.Len(t, client.multicasts[0].Tokens, 500)
	assert.Len(t, client.multicasts[1].Tokens, 500)
	assert.Len(t, client.multicasts[2].Tokens, 201)
	assert.Equal(t, 1200, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, []string{"token-0700"}, res.FailedAddresses(FailureUnreachable))
}

func TestFCMMulticastChunkErrorKeepsDeliveredChunks(t *testing.T) {
	client := &fakeMessaging{chunkErrAt: 2}
	gw := NewFCMGateway(client)

	res, err := gw.SendMulticast(context.Background(), tokens(800), NewPayload(TypeAnnouncement, "Hi", "All", nil))
	require.NoError(t, err)

	require.Len(t, client.multicasts, 2)
	assert.Equal(t, 500, res.SuccessCount, "the first chunk went out")
	assert.Equal(t, 300, res.FailureCount)
	failed := res.FailedAddresses(FailureUnreachable)
	require.Len(t, failed, 300)
	assert.Equal(t, "token-0500", failed[0])
}

func TestFCMMulticastAllChunksFailing(t *testing.T) {
	client := &fakeMessaging{chunkErrAt: 1}
	gw := NewFCMGateway(client)

	res, err := gw.SendMulticast(context.Background(), tokens(300), NewPayload(TypeAnnouncement, "Hi", "All", nil))
	require.Error(t, err)
	assert.Equal(t, FailureUnreachable, KindOf(err))
	assert.Zero(t, res.SuccessCount)
	assert.Zero(t, res.FailureCount)
}
