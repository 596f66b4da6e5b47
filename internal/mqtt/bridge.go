package mqtt

import (
	"context"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/metrics"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/zone"
)

const connectRetryInterval = 5 * time.Second

// Config carries broker connection settings.
type Config struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// Bridge is the MQTT transport. Inbound messages on <prefix>/<zone>/<kind>
// are decoded into typed events and posted to the zone mailbox; output
// events from the zones are published back under the same prefix. The
// bridge carries no control logic.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	zones  *zone.Manager
	client paho.Client
	now    func() time.Time
}

func New(cfg Config, zones *zone.Manager, logger *slog.Logger) *Bridge {
	return &Bridge{
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		zones:  zones,
		now:    time.Now,
	}
}

// Start connects to the broker and subscribes to all zone topics. The
// client reconnects and resubscribes on its own after connection loss.
func (b *Bridge) Start(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL)
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.logger.Warn("broker connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		topic := b.cfg.TopicPrefix + "/+/+"
		token := client.Subscribe(topic, 1, b.handleMessage)
		if token.Wait() && token.Error() != nil {
			b.logger.Error("subscribe failed", "topic", topic, "error", token.Error())
			return
		}
		b.logger.Info("subscribed", "topic", topic)
	})

	b.client = paho.NewClient(opts)
	b.logger.Info("connecting to broker", "url", b.cfg.BrokerURL)
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	context.AfterFunc(ctx, b.Close)
	return nil
}

// Close disconnects from the broker, allowing in-flight work to drain.
func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Info("disconnected from broker")
	}
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	b.route(msg.Topic(), msg.Payload())
}

func (b *Bridge) route(topic string, payload []byte) {
	zoneID, kind, ok := splitTopic(b.cfg.TopicPrefix, topic)
	if !ok {
		b.logger.Debug("ignoring unroutable topic", "topic", topic)
		return
	}
	z, ok := b.zones.Get(zoneID)
	if !ok {
		b.logger.Debug("message for unknown zone", "zone", zoneID, "kind", kind)
		return
	}

	if kind == kindOutdoor {
		p, err := decodeOutdoor(payload)
		if err != nil {
			metrics.MQTTDecodeErrors.WithLabelValues(kind).Inc()
			b.logger.Warn("dropping undecodable payload", "zone", zoneID, "kind", kind, "error", err)
			return
		}
		z.SetOutdoor(p.Temperature, p.Wind, b.now())
		metrics.MQTTMessagesTotal.WithLabelValues(zoneID, kind).Inc()
		return
	}

	ev, err := decodeEvent(kind, payload, b.now(), z)
	if err != nil {
		metrics.MQTTDecodeErrors.WithLabelValues(kind).Inc()
		b.logger.Warn("dropping undecodable payload", "zone", zoneID, "kind", kind, "error", err)
		return
	}
	z.Post(ev)
	metrics.MQTTMessagesTotal.WithLabelValues(zoneID, kind).Inc()
}
