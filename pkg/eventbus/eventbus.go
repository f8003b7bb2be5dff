package eventbus

import (
	"sync"
	"time"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/metrics"
	"github.com/bearslyricattack/plugman/pkg/models"
	"github.com/google/uuid"
)

const defaultBufferSize = 1000

type Event struct {
	Payload interface{}
}

type EventChan chan Event

type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]EventChan
	bufferSize  int
}

func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &EventBus{
		subscribers: make(map[string][]EventChan),
		bufferSize:  bufferSize,
	}
}

// Publish 投递事件，直到所有订阅者的缓冲区都收到为止
func (eb *EventBus) Publish(topic string, event Event) {
	eb.mu.RLock()
	subscribers := append([]EventChan{}, eb.subscribers[topic]...)
	eb.mu.RUnlock()

	var wg sync.WaitGroup
	for _, subscriber := range subscribers {
		wg.Add(1)
		go func(ch EventChan) {
			defer wg.Done()
			defer func() {
				// the subscriber unsubscribed while we were sending
				_ = recover()
			}()
			ch <- event
		}(subscriber)
	}
	wg.Wait()
}

// PublishLifecycle emits a lifecycle event on its kind topic and on the catch-all lifecycle topic.
func (eb *EventBus) PublishLifecycle(kind models.EventKind, pluginID string) models.LifecycleEvent {
	evt := models.LifecycleEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		PluginID:   pluginID,
		OccurredAt: time.Now().UTC(),
	}
	if topic := TopicFor(kind); topic != "" {
		eb.Publish(topic, Event{Payload: evt})
	}
	eb.Publish(constants.LifecycleTopic, Event{Payload: evt})
	metrics.LifecycleEventsTotal.WithLabelValues(string(kind)).Inc()
	return evt
}

// TopicFor maps an event kind to its topic.
func TopicFor(kind models.EventKind) string {
	switch kind {
	case models.EventActivated:
		return constants.ActivatedTopic
	case models.EventDeactivated:
		return constants.DeactivatedTopic
	case models.EventRemoved:
		return constants.RemovedTopic
	case models.EventUpdating:
		return constants.UpdatingTopic
	case models.EventUpdated:
		return constants.UpdatedTopic
	default:
		return ""
	}
}

func (eb *EventBus) Subscribe(topic string) EventChan {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	ch := make(EventChan, eb.bufferSize)
	eb.subscribers[topic] = append(eb.subscribers[topic], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(topic string, ch EventChan) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if subscribers, ok := eb.subscribers[topic]; ok {
		for i, subscriber := range subscribers {
			if ch == subscriber {
				eb.subscribers[topic] = append(subscribers[:i], subscribers[i+1:]...)
				close(ch)
				for range ch {
				}
				return
			}
		}
	}
}
