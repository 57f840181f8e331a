package bridge

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
)

// clusterEvent is one connect/disconnect notice published on the shared
// Redis events channel so every bridge process behind the same signalling
// server learns about peers owned by the others.
type clusterEvent struct {
	NodeID string `json:"node_id"`
	Type   string `json:"type"`
	ID     uint32 `json:"id"`
}

// clusterFanout is the supplemented, clustered-deployment feature: a
// Redis pub/sub channel that carries endpoint connect/disconnect events
// between bridge processes sharing one distributed id space.
type clusterFanout struct {
	client  *redis.Client
	channel string
	nodeID  string
	log     logger.Logger
}

func newClusterFanout(client *redis.Client, channel, nodeID string, log logger.Logger) *clusterFanout {
	return &clusterFanout{client: client, channel: channel, nodeID: nodeID, log: log}
}

// Run subscribes to the events channel and logs every event from other
// nodes until stop is closed. A real multi-bridge deployment would use
// this to keep a cross-process view of who owns which endpoint id; this
// bridge logs it as the hook a fuller implementation would extend.
func (c *clusterFanout) Run(stop <-chan struct{}) {
	ctx := context.Background()
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt clusterEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			if evt.NodeID == c.nodeID {
				continue
			}
			c.log.Debug("cluster event received",
				logger.Field{Key: "node_id", Value: evt.NodeID},
				logger.Field{Key: "type", Value: evt.Type},
				logger.Field{Key: "endpoint_id", Value: evt.ID},
			)
		}
	}
}

// AnnounceConnected publishes a connect event for id, fire-and-forget.
func (c *clusterFanout) AnnounceConnected(id uint32) {
	c.publish("connected", id)
}

// AnnounceDisconnected publishes a disconnect event for id, fire-and-forget.
func (c *clusterFanout) AnnounceDisconnected(id uint32) {
	c.publish("disconnected", id)
}

func (c *clusterFanout) publish(eventType string, id uint32) {
	body, err := json.Marshal(clusterEvent{NodeID: c.nodeID, Type: eventType, ID: id})
	if err != nil {
		return
	}
	c.client.Publish(context.Background(), c.channel, body)
}
