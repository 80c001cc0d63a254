package sitesync

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/sitedata_backend/config"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
)

// NewEventPublisher returns an EventPublisher that pushes terminal job
// events to a Pub/Sub topic, or nil when publishing is disabled. Publish
// failures are logged and swallowed; events are best-effort.
func NewEventPublisher(logger *logrus.Logger) EventPublisher {
	if !envBoolDefault("ENABLE_SITEDATA_EVENTS", false) {
		return nil
	}

	topicName := strings.TrimSpace(os.Getenv("SITEDATA_EVENTS_TOPIC"))
	if topicName == "" {
		topicName = "sitedata-job-events"
	}

	return func(ctx context.Context, event JobEvent) {
		if err := publishJobEvent(ctx, topicName, event); err != nil {
			logger.WithFields(logrus.Fields{
				"field":  "EventPublisher",
				"job_id": event.JobId,
				"topic":  topicName,
			}).Error("publishing job event failed: " + err.Error())
		}
	}
}

func publishJobEvent(ctx context.Context, topicName string, event JobEvent) error {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if envBoolDefault("SITEDATA_EVENTS_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(event)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
