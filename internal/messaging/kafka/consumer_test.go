package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error {
	return m.errorsCh
}

func (m *mockConsumerGroup) Close() error {
	if m.closeFn != nil {
		return m.closeFn()
	}
	if m.errorsCh != nil {
		close(m.errorsCh)
	}
	return nil
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return m.topic }
func (m *mockClaim) Partition() int32                         { return m.partition }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func testConsumer(handler MessageHandler, opts ConsumerOptions) *Consumer {
	if opts.Logger == nil {
		opts.Logger = log.WithField("test", "consumer")
	}
	return newConsumer(&mockConsumerGroup{}, []string{TopicReservationEvents}, handler, opts)
}

func TestNewConsumerInvalidBroker(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, handler, ConsumerOptions{}); err == nil {
		t.Fatal("expected new consumer error")
	}
}

func TestNewConsumerDefaults(t *testing.T) {
	consumer := testConsumer(nil, ConsumerOptions{MaxRetries: -1, RetryDelay: -time.Second})
	if consumer.maxRetries != defaultConsumerRetries {
		t.Fatalf("expected default retries, got %d", consumer.maxRetries)
	}
	if consumer.retryDelay != 0 {
		t.Fatalf("negative delay must be clamped, got %s", consumer.retryDelay)
	}
	if consumer.dlqTopic != TopicDeadLetterQueue {
		t.Fatalf("unexpected dlq topic %q", consumer.dlqTopic)
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(context.Context, []string, sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := newConsumer(group, []string{"topic-a"}, func(context.Context, *sarama.ConsumerMessage) error { return nil }, ConsumerOptions{
		Logger: log.WithField("test", "consumer"),
	})

	errorsCh <- errors.New("background error")
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected consume call")
	}
}

func TestConsumerStopsOnClosedGroup(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{
		errorsCh: errorsCh,
		consumeFn: func(context.Context, []string, sarama.ConsumerGroupHandler) error {
			return sarama.ErrClosedConsumerGroup
		},
	}
	consumer := newConsumer(group, []string{"topic"}, nil, ConsumerOptions{Logger: log.WithField("test", "closed")})

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- consumer.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer loop did not exit on closed group")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &mockConsumerGroup{errorsCh: errorsCh, closeFn: func() error {
		close(errorsCh)
		return errors.New("close failed")
	}}
	consumer := newConsumer(group, nil, nil, ConsumerOptions{Logger: log.WithField("test", "stop")})
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumeClaimMarksHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []string
	consumer := testConsumer(func(_ context.Context, msg *sarama.ConsumerMessage) error {
		envelope, err := ParseEnvelope(msg)
		if err != nil {
			return err
		}
		seen = append(seen, envelope.AggregateID)
		return nil
	}, ConsumerOptions{})

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: TopicReservationEvents, messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicReservationEvents, Offset: 1, Key: []byte("w-1"), Value: []byte(`{"aggregate_id":"w-1","event_type":"slot.reserved"}`)}
	claim.messages <- &sarama.ConsumerMessage{Topic: TopicReservationEvents, Offset: 2, Key: []byte("w-2"), Value: []byte(`{"aggregate_id":"w-2","event_type":"slot.reserved"}`)}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 2 {
		t.Fatalf("expected two marked messages, got %d", len(session.marked))
	}
	if len(seen) != 2 || seen[0] != "w-1" || seen[1] != "w-2" {
		t.Fatalf("unexpected handled windows: %v", seen)
	}
}

func TestConsumeClaimFailedHandlerWithoutDLQ(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("failed")
	}, ConsumerOptions{MaxRetries: 1})

	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "topic", Offset: 1, Key: []byte("k"), Value: []byte("v")}
	close(claim.messages)

	if err := consumer.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}
	if len(session.marked) != 0 {
		t.Fatalf("failed message should not be marked, got %d", len(session.marked))
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	msg := &sarama.ConsumerMessage{Topic: TopicReservationEvents, Partition: 1, Offset: 42, Key: []byte("w-1"), Value: []byte(`{"a":1}`)}

	t.Run("success after transient error", func(t *testing.T) {
		attempts := 0
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			if attempts < 2 {
				return errors.New("temporary")
			}
			return nil
		}, ConsumerOptions{MaxRetries: 3})

		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempts != 2 {
			t.Fatalf("expected 2 attempts, got %d", attempts)
		}
	})

	t.Run("exhausted without dlq", func(t *testing.T) {
		attempts := 0
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			attempts++
			return errors.New("permanent")
		}, ConsumerOptions{MaxRetries: 3})

		if err := consumer.handleMessageWithRetry(context.Background(), msg); err == nil {
			t.Fatal("expected error when dlq is absent")
		}
		if attempts != 3 {
			t.Fatalf("expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("exhausted with dlq", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(pm *sarama.ProducerMessage) error {
			if pm.Topic != TopicDeadLetterQueue {
				return fmt.Errorf("unexpected topic %s", pm.Topic)
			}
			value, err := pm.Value.Encode()
			if err != nil {
				return err
			}
			var dead ConsumerDeadLetter
			if err := json.Unmarshal(value, &dead); err != nil {
				return err
			}
			if dead.OriginalTopic != TopicReservationEvents || dead.OriginalOffset != 42 || dead.RetryCount != 1 {
				return fmt.Errorf("unexpected dead letter %+v", dead)
			}
			for _, header := range pm.Headers {
				if string(header.Key) == HeaderRetryCount && string(header.Value) == "1" {
					return nil
				}
			}
			return errors.New("retry count header is missing")
		})

		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			return errors.New("permanent")
		}, ConsumerOptions{
			MaxRetries: 2,
			DLQ:        NewProducerFromSync(mockProducer, log.WithField("test", "dlq")),
		})

		if err := consumer.handleMessageWithRetry(context.Background(), msg); err != nil {
			t.Fatalf("unexpected error after dlq publish: %v", err)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("dlq failure", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			return errors.New("permanent")
		}, ConsumerOptions{
			MaxRetries: 1,
			DLQ:        NewProducerFromSync(mockProducer, log.WithField("test", "dlq")),
		})

		if err := consumer.handleMessageWithRetry(context.Background(), msg); err == nil {
			t.Fatal("expected dlq failure")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("context canceled between attempts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			cancel()
			return errors.New("temporary")
		}, ConsumerOptions{MaxRetries: 3, RetryDelay: time.Minute})

		err := consumer.handleMessageWithRetry(ctx, msg)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestGetRetryCount(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	if got := getRetryCount(msg); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}

	invalid := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	if got := getRetryCount(invalid); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}
}

func TestParseEnvelope(t *testing.T) {
	msg := &sarama.ConsumerMessage{Value: []byte(`{"id":"o-1","aggregate_id":"w-1","event_type":"slot.reserved","payload":{"zone_id":"zone-1"}}`)}
	envelope, err := ParseEnvelope(msg)
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	if envelope.Key() != "w-1" || envelope.EventType != "slot.reserved" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if _, err := ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatal("expected ParseEnvelope error")
	}
	if key := (Envelope{ID: "o-2"}).Key(); key != "o-2" {
		t.Fatalf("key must fall back to id, got %q", key)
	}
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, ConsumerOptions{MaxRetries: 1})
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{topic: "topic", messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
