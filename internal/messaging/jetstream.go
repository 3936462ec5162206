package messaging

import (
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/journeytrack/service/internal/contracts"
)

const (
	// StreamName holds every journey domain event, durable on disk.
	StreamName = "JOURNEY_EVENTS"

	subjectPrefix = "journey.event."

	// RewardQueue is the reward worker's queue group: each message is
	// delivered to exactly one worker instance sharing the group.
	RewardQueue = "reward-worker"
)

// EventSubject maps an event type tag to its broker subject. The tag is the
// routing key: consumers bind to exactly the kinds they care about.
func EventSubject(kind string) string {
	return subjectPrefix + kind
}

// RewardBinding pairs a consumed event kind with the durable consumer name
// holding its delivery cursor.
type RewardBinding struct {
	Kind    string
	Durable string
}

// RewardBindings lists the event kinds the reward worker consumes. Goal and
// status events are deliberately absent.
func RewardBindings() []RewardBinding {
	return []RewardBinding{
		{Kind: contracts.KindJourneyCreated, Durable: "reward-worker-created"},
		{Kind: contracts.KindJourneyUpdated, Durable: "reward-worker-updated"},
		{Kind: contracts.KindJourneyDeleted, Durable: "reward-worker-deleted"},
	}
}

// EnsureStream creates (or validates) the journey event stream.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := js.AddStream(&nats.StreamConfig{
				Name:      StreamName,
				Subjects:  []string{subjectPrefix + ">"},
				Retention: nats.LimitsPolicy,
				Storage:   nats.FileStorage,
				Replicas:  1,
			})
			return addErr
		}
		return err
	}
	return nil
}
