package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Direction of a scaling intent.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Alarm name suffixes the watch reconciler maintains. The direction of an
// incoming notification is recovered from the firing alarm's name.
const (
	UpAlarmSuffix   = "-scale-up"
	DownAlarmSuffix = "-scale-down"
)

// ScalingEvent is the decoded scaling intent carried by one notification.
// It is constructed per invocation and discarded after processing.
type ScalingEvent struct {
	StreamName string    `json:"streamName"`
	Direction  Direction `json:"direction"`
	AlarmName  string    `json:"alarmName"`
	AlarmARN   string    `json:"alarmArn"`
	// StateChangedAt is the alarm's own state-change time. The cooldown
	// guard compares against this, not wall clock, so retried invocations
	// reach the same verdict.
	StateChangedAt time.Time `json:"stateChangedAt"`
}

// snsEnvelope is the outer notification wrapper.
type snsEnvelope struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	TopicARN  string `json:"TopicArn"`
	Message   string `json:"Message"`
	Timestamp string `json:"Timestamp"`
	// Present on subscription handshakes only.
	SubscribeURL string `json:"SubscribeURL"`
}

// alarmMessage is the alarm state-change payload inside the envelope.
type alarmMessage struct {
	AlarmName       string       `json:"AlarmName"`
	AlarmARN        string       `json:"AlarmArn"`
	NewStateValue   string       `json:"NewStateValue"`
	StateChangeTime string       `json:"StateChangeTime"`
	Trigger         alarmTrigger `json:"Trigger"`
}

type alarmTrigger struct {
	Metrics []triggerMetric `json:"Metrics"`
}

type triggerMetric struct {
	ID         string            `json:"Id"`
	MetricStat *triggerStat      `json:"MetricStat"`
	Expression string            `json:"Expression"`
	Dimensions []metricDimension `json:"Dimensions"`
}

type triggerStat struct {
	Metric struct {
		MetricName string            `json:"MetricName"`
		Namespace  string            `json:"Namespace"`
		Dimensions []metricDimension `json:"Dimensions"`
	} `json:"Metric"`
	Stat string `json:"Stat"`
}

type metricDimension struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// streamDimension is the dimension key that identifies the target stream in
// the alarm's metric graph.
const streamDimension = "StreamName"

// ErrSubscriptionHandshake is returned for subscription-confirmation
// envelopes, which carry no scaling intent.
type ErrSubscriptionHandshake struct {
	SubscribeURL string
}

func (e *ErrSubscriptionHandshake) Error() string {
	return "notification is a subscription handshake, not an alarm event"
}

// Decode parses one raw notification body into a ScalingEvent. Any failure
// here means the payload is malformed and the invocation must exit without
// mutation.
func Decode(body []byte) (*ScalingEvent, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode notification envelope: %w", err)
	}

	if env.Type == "SubscriptionConfirmation" || env.Type == "UnsubscribeConfirmation" {
		return nil, &ErrSubscriptionHandshake{SubscribeURL: env.SubscribeURL}
	}

	if env.Message == "" {
		return nil, fmt.Errorf("notification envelope has no message body")
	}

	var msg alarmMessage
	if err := json.Unmarshal([]byte(env.Message), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode alarm message: %w", err)
	}

	if msg.AlarmName == "" {
		return nil, fmt.Errorf("alarm message has no alarm name")
	}

	direction, err := directionFromAlarmName(msg.AlarmName)
	if err != nil {
		return nil, err
	}

	stream := streamFromTrigger(&msg.Trigger)
	if stream == "" {
		return nil, fmt.Errorf("alarm %s carries no %s dimension", msg.AlarmName, streamDimension)
	}

	changedAt, err := parseStateChangeTime(msg.StateChangeTime)
	if err != nil {
		return nil, fmt.Errorf("alarm %s has unparseable state change time %q: %w",
			msg.AlarmName, msg.StateChangeTime, err)
	}

	return &ScalingEvent{
		StreamName:     stream,
		Direction:      direction,
		AlarmName:      msg.AlarmName,
		AlarmARN:       msg.AlarmARN,
		StateChangedAt: changedAt,
	}, nil
}

func directionFromAlarmName(name string) (Direction, error) {
	switch {
	case strings.HasSuffix(name, UpAlarmSuffix):
		return DirectionUp, nil
	case strings.HasSuffix(name, DownAlarmSuffix):
		return DirectionDown, nil
	}
	return "", fmt.Errorf("alarm %s does not encode a scaling direction", name)
}

func streamFromTrigger(trigger *alarmTrigger) string {
	for _, m := range trigger.Metrics {
		if m.MetricStat == nil {
			continue
		}
		for _, d := range m.MetricStat.Metric.Dimensions {
			if d.Name == streamDimension && d.Value != "" {
				return d.Value
			}
		}
	}
	return ""
}

// stateChangeLayout is the non-RFC3339 timestamp format alarm payloads use.
const stateChangeLayout = "2006-01-02T15:04:05.000-0700"

func parseStateChangeTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(stateChangeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
