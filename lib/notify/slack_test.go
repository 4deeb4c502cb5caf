package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

const webhookURL = "https://hooks.slack.com/services/T000/B000/XXXX"

func newTestSlack(t *testing.T) *Slack {
	t.Helper()
	s := NewSlack(webhookURL, "stockwatch", ":bento:")
	httpmock.ActivateNonDefault(s.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return s
}

func TestNotifySendsBlockMessage(t *testing.T) {
	s := newTestSlack(t)

	var captured message
	httpmock.RegisterResponder("POST", webhookURL,
		func(req *http.Request) (*http.Response, error) {
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &captured))
			return httpmock.NewStringResponse(200, "ok"), nil
		})

	err := s.Notify(context.Background(), "Strawberry Daifuku",
		"https://store.example.com/product/strawberry-daifuku/")
	require.NoError(t, err)

	require.Equal(t, "stockwatch", captured.Username)
	require.Equal(t, ":bento:", captured.IconEmoji)
	require.Contains(t, captured.Text, "Strawberry Daifuku")
	require.NotEmpty(t, captured.Blocks)
	require.Equal(t, "header", captured.Blocks[0].Type)
	require.Contains(t, captured.Blocks[0].Text.Text, "Available")
}

func TestNotifyWebhookErrorPropagates(t *testing.T) {
	s := newTestSlack(t)
	httpmock.RegisterResponder("POST", webhookURL,
		httpmock.NewStringResponder(404, "no_service"))

	err := s.Notify(context.Background(), "x", "https://store.example.com/p/")
	require.Error(t, err)

	var notifyErr *NotificationError
	require.ErrorAs(t, err, &notifyErr)
}

func TestSendSuccessSwallowsFailures(t *testing.T) {
	s := newTestSlack(t)
	httpmock.RegisterResponder("POST", webhookURL,
		httpmock.NewErrorResponder(errors.New("connection refused")))

	require.False(t, s.SendSuccess(context.Background(), "12345", "Strawberry Daifuku"))

	httpmock.Reset()
	httpmock.RegisterResponder("POST", webhookURL,
		httpmock.NewStringResponder(200, "ok"))

	require.True(t, s.SendSuccess(context.Background(), "12345", "Strawberry Daifuku"))
}

func TestSendErrorSwallowsFailures(t *testing.T) {
	s := newTestSlack(t)
	httpmock.RegisterResponder("POST", webhookURL,
		httpmock.NewStringResponder(500, "server_error"))

	require.False(t, s.SendError(context.Background(), errors.New("checkout failed"), "strawberry-daifuku"))
}
