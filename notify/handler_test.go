package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgabriele321/remindd/recipient"
)

func newTestApp(t *testing.T) (*fiber.App, *recipient.MemoryDirectory, *scriptedGateway) {
	t.Helper()
	dir := recipient.NewMemoryDirectory()
	gw := newScriptedGateway()
	dispatcher := NewDispatcher(dir, gw, nil, nil)

	app := fiber.New()
	NewHandler(NewAnnouncer(dir, gw), dir, dispatcher).Register(app)
	return app, dir, gw
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHandleAnnounce(t *testing.T) {
	app, dir, gw := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, dir.RegisterAddress(ctx, "emp-1", recipient.RoleEmployee, "t1"))
	require.NoError(t, dir.RegisterAddress(ctx, "emp-2", recipient.RoleEmployee, "t2"))
	require.NoError(t, dir.RegisterAddress(ctx, "usr-1", recipient.RoleUser, "t3"))
	gw.fail("t2", "rejected")

	status, body := doJSON(t, app, http.MethodPost, "/announcements",
		`{"title":"Team meeting","body":"10am tomorrow","recipientsFilter":{"role":"employee"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1.0, body["sentCount"])
	assert.Equal(t, 1.0, body["failedCount"])
	assert.Equal(t, 2.0, body["totalRecipients"])
}

func TestHandleAnnounceValidation(t *testing.T) {
	app, _, _ := newTestApp(t)

	status, body := doJSON(t, app, http.MethodPost, "/announcements", `{"body":"no title"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["code"])

	status, _ = doJSON(t, app, http.MethodPost, "/announcements", `{"title":"x","recipientsFilter":{"role":"owner"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandleRegisterAndRemoveAddress(t *testing.T) {
	app, dir, _ := newTestApp(t)

	status, _ := doJSON(t, app, http.MethodPost, "/recipients/emp-9/addresses", `{"address":"tok","role":"employee"}`)
	require.Equal(t, http.StatusCreated, status)

	addrs, err := dir.ResolveAddresses(context.Background(), "emp-9")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok"}, addrs)

	status, _ = doJSON(t, app, http.MethodDelete, "/addresses/tok", "")
	require.Equal(t, http.StatusNoContent, status)
	addrs, err = dir.ResolveAddresses(context.Background(), "emp-9")
	require.NoError(t, err)
	assert.Empty(t, addrs)

	status, _ = doJSON(t, app, http.MethodPost, "/recipients/emp-9/addresses", `{"role":"employee"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandleChat(t *testing.T) {
	app, dir, gw := newTestApp(t)
	require.NoError(t, dir.RegisterAddress(context.Background(), "emp-1", recipient.RoleEmployee, "t1"))

	status, body := doJSON(t, app, http.MethodPost, "/notifications/chat",
		`{"recipientId":"emp-1","conversationId":"c1","senderId":"cust-1","senderName":"Ravi","text":"Can we visit on Sunday?"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]interface{})["delivered"])
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "New message from Ravi", gw.calls[0].payload.Notification.Title)
}
