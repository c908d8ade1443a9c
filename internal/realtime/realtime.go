package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
)

const topicPrefix = "zkbridge/punch/"

// Client publishes accepted punches for live consumers. Entirely optional:
// without a broker URL the coordinator never constructs one and the rest of
// the pipeline is unchanged.
type Client struct {
	client mqtt.Client
}

func Connect(brokerURL, clientID string) (*Client, error) {
	opts := mqtt.NewClientOptions()
	url := strings.TrimSpace(brokerURL)
	if strings.HasPrefix(url, "mqtt://") {
		url = "tcp://" + strings.TrimPrefix(url, "mqtt://")
	}
	opts.AddBroker(url)
	if strings.TrimSpace(clientID) == "" {
		clientID = "zkbridge-" + time.Now().Format("150405.000")
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}
	opts.OnConnect = func(_ mqtt.Client) {
		slog.Info("mqtt connected")
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if ok := tok.WaitTimeout(15 * time.Second); !ok {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{client: c}, nil
}

// PublishPunch sends one accepted punch to zkbridge/punch/<serial>.
// Fire and forget; ingestion never waits on the broker.
func (c *Client) PublishPunch(p model.Punch) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	c.client.Publish(topicPrefix+p.DeviceSerial, 0, false, raw)
}

func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}
