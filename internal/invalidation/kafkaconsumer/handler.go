package kafkaconsumer

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// claimRunner adapts a per-message callback to sarama's consumer group
// contract. An offset is marked only after the callback returns nil, so a
// failed message stays unacknowledged and is redelivered after the rebalance.
type claimRunner struct {
	apply func(context.Context, *sarama.ConsumerMessage) error
}

func (claimRunner) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (claimRunner) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (r claimRunner) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return sess.Context().Err()
		case msg, open := <-claim.Messages():
			if !open {
				return nil
			}
			if err := r.apply(sess.Context(), msg); err != nil {
				return fmt.Errorf("apply message %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
