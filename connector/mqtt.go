package connector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/resourcefab/msgfabric/internal/wire"
	"github.com/resourcefab/msgfabric/msg"
	"github.com/resourcefab/msgfabric/msgdeque"
)

func init() {
	// handle.Open passes a factory only the part after "scheme://";
	// newMQTTConnector parses a full URL, so the scheme is put back here.
	Register("mqtt", func(path string, flags uint32) (Connector, error) { return newMQTTConnector("mqtt://"+path, flags) })
	Register("mqtts", func(path string, flags uint32) (Connector, error) { return newMQTTConnector("mqtts://"+path, flags) })
}

// mqttConnector bridges spec.md's topic-addressed messages onto a real
// MQTT broker, grounded on nugget-thane-ai-agent/internal/mqtt.Publisher's
// autopaho.ConnectionManager usage (OnConnectionUp re-subscribing,
// AddOnPublishReceived feeding inbound messages) — narrowed from that
// file's JSON/HA-discovery protocol to this module's binary wire
// envelope, and from its periodic-publish-loop design to plain
// request/response Send/Recv, with AddOnPublishReceived feeding a
// msgdeque the way the loop/interthread builtins already do, so Recv can
// stay a synchronous PopFront instead of needing its own channel select.
type mqttConnector struct {
	url    string
	filter string

	cm   *autopaho.ConnectionManager
	recv *msgdeque.Deque
}

const mqttConnectTimeout = 10 * time.Second

// newMQTTConnector opens path as "mqtt://broker-host:1883/topic/filter"; the
// path component (after the host) becomes the subscription filter, "#" if
// empty (subscribe to everything).
func newMQTTConnector(path string, flags uint32) (Connector, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("connector: mqtt: %w", err)
	}

	filter := strings.TrimPrefix(u.Path, "/")
	if filter == "" {
		filter = "#"
	}
	brokerURL := &url.URL{Scheme: "tcp", Host: u.Host}

	c := &mqttConnector{
		url:    path,
		filter: filter,
		recv:   msgdeque.Create(msgdeque.Default),
	}

	ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
	defer cancel()

	noSub := flags&NoSub != 0
	cfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			if noSub {
				return
			}
			_, _ = cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: c.filter, QoS: 0}},
			})
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "msgfabric-" + msg.NewUUID()[:8],
		},
	}
	cfg.AddOnPublishReceived(func(pr autopaho.PublishReceived) (bool, error) {
		m, err := wire.Decode(pr.Packet.Payload)
		if err != nil {
			m = msg.New(msg.Event, pr.Packet.Topic, pr.Packet.Payload)
		}
		_ = c.recv.PushBack(m)
		return true, nil
	})

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connector: mqtt: connect: %w", err)
	}
	c.cm = cm

	if err := cm.AwaitConnection(ctx); err != nil {
		return nil, fmt.Errorf("connector: mqtt: await connection: %w", err)
	}
	return c, nil
}

func (c *mqttConnector) SetOpt(string, any) error   { return ErrNotSupport }
func (c *mqttConnector) GetOpt(string) (any, error) { return nil, ErrNotSupport }

// PollFD delegates to the recv deque's readiness fd: inbound messages
// arrive via AddOnPublishReceived on autopaho's own goroutine and land in
// the deque the same way interthread's cross-goroutine messages do.
func (c *mqttConnector) PollFD() int { fd, _ := c.recv.PollFD(); return fd }

func (c *mqttConnector) PollEvents() Events { return Events(c.recv.PollEvents()) }

func (c *mqttConnector) Reconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
	defer cancel()
	return c.cm.AwaitConnection(ctx)
}

func (c *mqttConnector) Destroy() error {
	ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
	defer cancel()
	err := c.cm.Disconnect(ctx)
	c.recv.Destroy()
	return err
}

func (c *mqttConnector) Send(m *msg.Message, _ bool) error {
	if m == nil {
		return ErrInvalid
	}
	ctx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
	defer cancel()
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   m.Topic(),
		Payload: wire.Encode(m),
		QoS:     0,
	})
	return err
}

func (c *mqttConnector) SendNew(m *msg.Message, nonblock bool) error {
	return c.Send(m, nonblock)
}

func (c *mqttConnector) Recv(nonblock bool) (*msg.Message, error) {
	if nonblock {
		m := c.recv.PopFront()
		if m == nil {
			return nil, errors.New("connector: mqtt: EAGAIN")
		}
		return m, nil
	}
	return c.recv.PopFrontBlocking()
}
