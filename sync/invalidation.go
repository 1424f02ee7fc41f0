package sync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/huykn/seckill-cache/logger"
	"github.com/huykn/seckill-cache/types"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "seckill-cache:invalidation"

// ErrAlreadySubscribed is returned by a second call to Subscribe.
var ErrAlreadySubscribed = errors.New("sync: already subscribed")

// InvalidationEvent is an alias for types.InvalidationEvent
type InvalidationEvent = types.InvalidationEvent

// PubSubSynchronizer broadcasts near-cache invalidations over Redis Pub/Sub.
// Events a pod publishes are ignored by that same pod.
type PubSubSynchronizer struct {
	client         redis.UniversalClient
	channel        string
	podID          string
	logger         logger.Logger
	pubsub         *redis.PubSub
	callbacks      []func(event InvalidationEvent)
	callbacksMutex sync.RWMutex
	done           chan struct{}
	closeOnce      sync.Once
	wg             sync.WaitGroup
}

// NewPubSubSynchronizer creates a new Pub/Sub synchronizer. An empty channel
// falls back to DefaultChannel and a nil log to a no-op logger.
func NewPubSubSynchronizer(client redis.UniversalClient, channel, podID string, log logger.Logger) *PubSubSynchronizer {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logger.NewNoOp()
	}
	return &PubSubSynchronizer{
		client:    client,
		channel:   channel,
		podID:     podID,
		logger:    log,
		callbacks: make([]func(event InvalidationEvent), 0),
		done:      make(chan struct{}),
	}
}

// Subscribe starts listening for invalidation events. It returns once Redis
// has confirmed the subscription, so events published afterwards are seen.
func (ps *PubSubSynchronizer) Subscribe(ctx context.Context) error {
	if ps.pubsub != nil {
		return ErrAlreadySubscribed
	}

	pubsub := ps.client.Subscribe(ctx, ps.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return errors.Wrapf(err, "subscribe %s", ps.channel)
	}
	ps.pubsub = pubsub

	ps.wg.Add(1)
	go ps.listenForEvents(pubsub.Channel())

	return nil
}

// Publish publishes an invalidation event.
func (ps *PubSubSynchronizer) Publish(ctx context.Context, event InvalidationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode invalidation event")
	}

	if err := ps.client.Publish(ctx, ps.channel, data).Err(); err != nil {
		return errors.Wrapf(err, "publish to %s", ps.channel)
	}
	return nil
}

// OnInvalidate registers a callback for invalidation events.
func (ps *PubSubSynchronizer) OnInvalidate(callback func(event InvalidationEvent)) {
	ps.callbacksMutex.Lock()
	defer ps.callbacksMutex.Unlock()
	ps.callbacks = append(ps.callbacks, callback)
}

// Close stops the listener and closes the subscription. It is safe to call
// more than once. The Redis client itself is left open.
func (ps *PubSubSynchronizer) Close() error {
	var err error
	ps.closeOnce.Do(func() {
		close(ps.done)
		if ps.pubsub != nil {
			err = ps.pubsub.Close()
		}
		ps.wg.Wait()
	})
	return err
}

func (ps *PubSubSynchronizer) listenForEvents(ch <-chan *redis.Message) {
	defer ps.wg.Done()

	for {
		select {
		case <-ps.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event InvalidationEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				ps.logger.Warn("Sync: dropping malformed event", "channel", ps.channel, "error", err)
				continue
			}

			// Don't invalidate your own writes
			if event.Sender == ps.podID {
				continue
			}

			ps.callbacksMutex.RLock()
			callbacks := ps.callbacks
			ps.callbacksMutex.RUnlock()

			for _, callback := range callbacks {
				callback(event)
			}
		}
	}
}
