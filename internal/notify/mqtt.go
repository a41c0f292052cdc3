package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/service"
)

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"
	publishTimeout      = 2 * time.Second
)

// mqttClient is the subset of mqtt.Client the sink uses
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Attributes is the retained attributes payload
type Attributes struct {
	Count          int        `json:"count"`
	SourceID       string     `json:"source_id"`
	LastDetection  time.Time  `json:"last_detection"`
	DetectionCount int        `json:"detection_count"`
	Classes        []ClassSum `json:"classes,omitempty"`
	Width          int        `json:"width"`
	Height         int        `json:"height"`
}

// ClassSum counts detections of one class
type ClassSum struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// MQTTStats contains publisher statistics
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// MQTTSink publishes the latest result to an MQTT broker under
// <topic_prefix>/<instance_id>/{count,attributes,image,event,error,availability}
type MQTTSink struct {
	*service.ServiceBase
	cfg        config.MQTTConfig
	instanceID string
	newClient  func(*mqtt.ClientOptions) mqttClient

	mu        sync.RWMutex
	client    mqttClient
	connected bool
	published map[string]uint64
	errors    uint64
}

// NewMQTTSink creates an MQTT sink; the connection is made in Start
func NewMQTTSink(cfg config.MQTTConfig, instanceID string, log *logger.Logger) *MQTTSink {
	return &MQTTSink{
		ServiceBase: service.NewServiceBase("mqtt-sink", log),
		cfg:         cfg,
		instanceID:  instanceID,
		newClient: func(opts *mqtt.ClientOptions) mqttClient {
			return mqtt.NewClient(opts)
		},
		published: make(map[string]uint64),
	}
}

// Topic returns the full topic for a suffix
func (s *MQTTSink) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.cfg.TopicPrefix, "/"), s.instanceID, suffix)
}

// Start connects to the broker and announces availability
func (s *MQTTSink) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(s.Topic("availability"), availabilityOffline, s.cfg.QoS, true)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.LogInfo("MQTT connection established", "broker", s.cfg.Broker, "client_id", s.cfg.ClientID)
		// Re-announce after every reconnect
		go s.publish(s.Topic("availability"), true, []byte(availabilityOnline))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		s.LogWarn("MQTT connection lost, will auto-reconnect", "error", err, "broker", s.cfg.Broker)
	}

	client := s.newClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.LogInfo("Connecting to MQTT broker", "broker", s.cfg.Broker)
	token := client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.GetStatus().SetError(fmt.Errorf("mqtt connection timeout"))
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	s.setConnected(true)
	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Stop publishes offline availability and disconnects
func (s *MQTTSink) Stop(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStopping)

	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client != nil {
		if client.IsConnected() {
			if err := s.publish(s.Topic("availability"), true, []byte(availabilityOffline)); err != nil {
				s.LogWarn("Failed to publish offline availability", "error", err)
			}
		}
		// Also stops a connect retry loop that never succeeded
		client.Disconnect(250)
		s.LogInfo("MQTT disconnected")
	}
	s.setConnected(false)

	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Notify publishes count, attributes, the domain event and optionally the image
func (s *MQTTSink) Notify(ctx context.Context, r *detection.Result) error {
	attrs, err := json.Marshal(BuildAttributes(r))
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	event, err := json.Marshal(NewDetectionCompleteEvent(r))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.publish(s.Topic("count"), true, []byte(fmt.Sprintf("%d", r.Count()))); err != nil {
		return err
	}
	if err := s.publish(s.Topic("attributes"), true, attrs); err != nil {
		return err
	}
	if s.cfg.PublishImage {
		if err := s.publish(s.Topic("image"), true, r.AnnotatedImage()); err != nil {
			return err
		}
	}
	return s.publish(s.Topic("event"), false, event)
}

// NotifyError publishes the failure on the error topic
func (s *MQTTSink) NotifyError(ctx context.Context, kind detection.ErrorKind, ec detection.ErrorContext) error {
	payload, err := json.Marshal(NewErrorEvent(kind, ec, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal error event: %w", err)
	}
	return s.publish(s.Topic("error"), false, payload)
}

// IsConnected returns the connection status
func (s *MQTTSink) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Stats returns publisher statistics
func (s *MQTTSink) Stats() MQTTStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return MQTTStats{Connected: s.connected, Published: published, Errors: s.errors}
}

func (s *MQTTSink) publish(topic string, retained bool, payload []byte) error {
	s.mu.RLock()
	client := s.client
	connected := s.connected
	s.mu.RUnlock()

	if client == nil || !connected {
		s.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := client.Publish(topic, s.cfg.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		s.countError()
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		s.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()

	s.LogDebug("Published", "topic", topic, "size", len(payload))
	return nil
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) countError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// BuildAttributes summarises r for the attributes topic
func BuildAttributes(r *detection.Result) Attributes {
	w, h := r.Dimensions()
	attrs := Attributes{
		Count:          r.Count(),
		SourceID:       r.SourceID(),
		LastDetection:  r.ObservedAt(),
		DetectionCount: len(r.Detections()),
		Width:          w,
		Height:         h,
	}

	index := make(map[string]int)
	for _, d := range r.Detections() {
		i, ok := index[d.ClassLabel]
		if !ok {
			i = len(attrs.Classes)
			index[d.ClassLabel] = i
			attrs.Classes = append(attrs.Classes, ClassSum{Class: d.ClassLabel})
		}
		attrs.Classes[i].Count++
	}
	return attrs
}

// brokerURL accepts host:port or a full URL
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
