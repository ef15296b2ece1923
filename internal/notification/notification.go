package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/internal/request"
)

// SlackNotification posts an error report to the configured Slack
// webhook. Failures here are logged and dropped; notifications must
// never affect ledger operations.
func SlackNotification(err error) {
	cfg, configErr := config.Fetch()
	if configErr != nil {
		logrus.Error(configErr)
		return
	}
	webhookURL := cfg.Notification.Slack.WebhookUrl
	if webhookURL == "" {
		return
	}

	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error from settlr",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					},
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%s"
					}
				]
			}
		]
	}`, err, time.Now().Format(time.RFC3339)))

	payload, marshalErr := request.ToJsonReq(&data)
	if marshalErr != nil {
		logrus.Error(marshalErr)
		return
	}

	req, reqErr := http.NewRequest("POST", webhookURL, payload)
	if reqErr != nil {
		logrus.Error(reqErr)
		return
	}

	var response map[string]interface{}
	_, callErr := request.Call(req, &response)
	if callErr != nil {
		logrus.Error(callErr)
	}
}

// NotifyError logs the error and forwards it to Slack when configured.
func NotifyError(err error) {
	if err == nil {
		return
	}
	logrus.Error(err)
	SlackNotification(err)
}
