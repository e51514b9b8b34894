/*Package telemetry publishes sweep progress to an MQTT broker so dashboards
and other instruments can follow a run live.

Topics, under a configurable prefix:

	<prefix>/run       run start and end, retained
	<prefix>/position  each recorded position with its channel means and errors
	<prefix>/skip      each skipped position with the reason
*/
package telemetry

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/sweep"
)

// Config describes the broker connection
type Config struct {
	Broker   string        `koanf:"broker" yaml:"broker"`
	ClientID string        `koanf:"clientID" yaml:"clientID"`
	Prefix   string        `koanf:"prefix" yaml:"prefix"`
	QoS      byte          `koanf:"qos" yaml:"qos"`
	Timeout  time.Duration `koanf:"timeout" yaml:"timeout"`
}

// DefaultConfig publishes to a broker on localhost
func DefaultConfig() Config {
	return Config{
		Broker:   "tcp://localhost:1883",
		ClientID: "bsdfbench",
		Prefix:   "bsdfbench",
		Timeout:  2 * time.Second,
	}
}

// Publisher is the part of mqtt.Client used here
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect dials the broker
func Connect(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	log.Printf("telemetry connected to MQTT broker at %s", cfg.Broker)
	return client, nil
}

// Observer is a sweep.Observer that publishes every event
type Observer struct {
	Pub     Publisher
	Prefix  string
	QoS     byte
	Timeout time.Duration

	run string
}

// NewObserver returns an Observer publishing under cfg.Prefix
func NewObserver(pub Publisher, cfg Config) *Observer {
	return &Observer{Pub: pub, Prefix: cfg.Prefix, QoS: cfg.QoS, Timeout: cfg.Timeout}
}

// RunEvent is the payload of the run topic
type RunEvent struct {
	Event   string         `json:"event"`
	Info    *sweep.RunInfo `json:"info,omitempty"`
	Summary *sweep.Summary `json:"summary,omitempty"`
}

// PositionEvent is the payload of the position topic
type PositionEvent struct {
	Run      string        `json:"run"`
	Key      sweep.Key     `json:"key"`
	Mean     sweep.RGB     `json:"mean"`
	RelErr   sweep.RGB     `json:"relErr"`
	Exposure time.Duration `json:"exposure"`
	Frames   int           `json:"frames"`
	Partial  bool          `json:"partial"`
}

// SkipEvent is the payload of the skip topic
type SkipEvent struct {
	Run    string    `json:"run"`
	Key    sweep.Key `json:"key"`
	Reason string    `json:"reason"`
}

func (o *Observer) publish(topic string, retained bool, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("telemetry: encoding %s message: %s", topic, err)
		return
	}
	topic = o.Prefix + "/" + topic
	token := o.Pub.Publish(topic, o.QoS, retained, b)
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if !token.WaitTimeout(timeout) {
		log.Printf("telemetry: publishing to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("telemetry: publishing to %s: %s", topic, err)
	}
}

// SweepStarted satisfies sweep.Observer
func (o *Observer) SweepStarted(info sweep.RunInfo) {
	o.run = info.ID
	o.publish("run", true, RunEvent{Event: "started", Info: &info})
}

// PositionRecorded satisfies sweep.Observer
func (o *Observer) PositionRecorded(k sweep.Key, s *acquire.Sample) {
	m, e := s.Means(), s.RelErrs()
	o.publish("position", false, PositionEvent{
		Run:      o.run,
		Key:      k,
		Mean:     sweep.RGB{R: m[0], G: m[1], B: m[2]},
		RelErr:   sweep.RGB{R: e[0], G: e[1], B: e[2]},
		Exposure: s.Exposure,
		Frames:   s.Accepted,
		Partial:  s.Partial,
	})
}

// PositionSkipped satisfies sweep.Observer
func (o *Observer) PositionSkipped(k sweep.Key, reason error) {
	o.publish("skip", false, SkipEvent{Run: o.run, Key: k, Reason: reason.Error()})
}

// SweepFinished satisfies sweep.Observer
func (o *Observer) SweepFinished(sum sweep.Summary) {
	o.publish("run", true, RunEvent{Event: "finished", Summary: &sum})
}
