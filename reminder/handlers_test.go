package reminder

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
)

func newHandlerApp(t *testing.T) (*fiber.App, Service, *MemoryStore) {
	t.Helper()
	svc, store, _ := newTestService(t)
	app := fiber.New()
	NewHandler(svc, nil).Register(app)
	return app, svc, store
}

func doRequest(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
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

func dataOf(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", body)
	return data
}

func TestHandleCreate(t *testing.T) {
	app, _, _ := newHandlerApp(t)

	status, body := doRequest(t, app, http.MethodPost, "/reminders",
		`{"ownerId":"emp-1","createdBy":"adm-1","title":"Call the client","triggerAt":"2026-03-20T16:00:00Z","repeat":"every 2 hours"}`)
	require.Equal(t, http.StatusCreated, status, body)

	data := dataOf(t, body)
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "reminder", data["kind"])
	assert.Equal(t, true, data["isRepeating"])
	assert.Equal(t, "custom", data["repeatInterval"])
	assert.Equal(t, 120.0, data["repeatMinutes"])
}

func TestHandleCreateRejectsBadInput(t *testing.T) {
	app, _, _ := newHandlerApp(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"missing title", `{"ownerId":"emp-1","triggerAt":"2026-03-20T16:00:00Z"}`, ""},
		{"unparseable time", `{"ownerId":"emp-1","title":"x","triggerAt":"someday"}`, "triggerAt"},
		{"past time", `{"ownerId":"emp-1","title":"x","triggerAt":"2026-03-20T14:00:00Z"}`, "triggerAt"},
		{"bad repeat", `{"ownerId":"emp-1","title":"x","triggerAt":"2026-03-20T16:00:00Z","repeat":"monthly"}`, "repeat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doRequest(t, app, http.MethodPost, "/reminders", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "validation_error", body["code"])
			if tt.field != "" {
				details, _ := body["details"].(map[string]interface{})
				assert.Equal(t, tt.field, details["field"])
			}
		})
	}
}

func TestHandleLifecycle(t *testing.T) {
	app, svc, _ := newHandlerApp(t)
	r := createReminder(t, svc)
	path := "/reminders/" + r.ID

	status, body := doRequest(t, app, http.MethodPost, path+"/complete", `{"response":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body["code"])

	status, body = doRequest(t, app, http.MethodPut, path+"/snooze", `{"minutes":15}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "snoozed", dataOf(t, body)["status"])
	assert.Equal(t, 1.0, dataOf(t, body)["snoozeCount"])

	status, body = doRequest(t, app, http.MethodPut, path+"/dismiss", "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "dismissed", dataOf(t, body)["status"])

	status, body = doRequest(t, app, http.MethodPost, path+"/complete", `{"response":"done"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", body["code"])
	details, _ := body["details"].(map[string]interface{})
	assert.Equal(t, "dismissed", details["currentState"])
	assert.Equal(t, "complete", details["transition"])
}

func TestHandleComplete(t *testing.T) {
	app, svc, _ := newHandlerApp(t)
	r := createReminder(t, svc)

	status, body := doRequest(t, app, http.MethodPost, "/reminders/"+r.ID+"/complete",
		`{"response":"Client confirmed the visit"}`)
	require.Equal(t, http.StatusOK, status, body)
	data := dataOf(t, body)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, 4.0, data["responseWordCount"])
}

func TestHandleListOverdue(t *testing.T) {
	app, svc, store := newHandlerApp(t)
	ctx := context.Background()

	fired := createReminder(t, svc)
	createReminder(t, svc)
	_, err := store.UpdateReminder(ctx, fired.ID, func(r *Reminder) error {
		r.TriggerCount = 1
		r.DueAt = nil
		return nil
	})
	require.NoError(t, err)

	status, body := doRequest(t, app, http.MethodGet, "/reminders?ownerId=emp-1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)

	status, body = doRequest(t, app, http.MethodGet, "/reminders?ownerId=emp-1&overdue=true", "")
	require.Equal(t, http.StatusOK, status)
	list, ok := body["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, fired.ID, list[0].(map[string]interface{})["id"])

	status, _ = doRequest(t, app, http.MethodGet, "/reminders?overdue=maybe", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = doRequest(t, app, http.MethodGet, "/reminders?ownerId=nobody", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["data"])
}

func TestHandleGetAndDelete(t *testing.T) {
	app, svc, _ := newHandlerApp(t)
	r := createReminder(t, svc)

	status, body := doRequest(t, app, http.MethodGet, "/reminders/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])

	status, body = doRequest(t, app, http.MethodGet, "/reminders/"+r.ID+"/attempts", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["data"])

	status, _ = doRequest(t, app, http.MethodDelete, "/reminders/"+r.ID, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doRequest(t, app, http.MethodGet, "/reminders/"+r.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
}
