package ess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	defaultStatePrefix  = "homeassistant"
	defaultServiceTopic = "nodered/proxy/call_service"
	// readings older than this are not reported as the current status
	statusMaxAge = 15 * time.Minute
)

// Entities are the Home Assistant entity ids of the inverter integration.
type Entities struct {
	BatterySOC     string `json:"batterySOC"`
	LoadPower      string `json:"loadPower"`
	PVPower        string `json:"pvPower"`
	CapacityAH     string `json:"capacityAH"`
	FloatVoltage   string `json:"floatVoltage"`
	UseTimer       string `json:"useTimer"`
	CapacityPoint1 string `json:"capacityPoint1"`

	// optional select entities holding "HH:MM" slot start times
	TimePoint1 string `json:"timePoint1,omitempty"`
	TimePoint2 string `json:"timePoint2,omitempty"`
}

// DefaultEntities are the entities exposed for a Deye/Sunsynk/Sol-Ark
// inverter.
var DefaultEntities = Entities{
	BatterySOC:     "sensor.deye_sunsynk_sol_ark_battery_state_of_charge",
	LoadPower:      "sensor.deye_sunsynk_sol_ark_load_power",
	PVPower:        "sensor.deye_sunsynk_sol_ark_pv_power",
	CapacityAH:     "sensor.deye_sunsynk_sol_ark_capacity",
	FloatVoltage:   "number.deye_sunsynk_sol_ark_battery_float_charge_voltage",
	UseTimer:       "switch.deye_sunsynk_sol_ark_use_timer",
	CapacityPoint1: "number.deye_sunsynk_sol_ark_capacity_point_1",
}

// serviceCall is the payload understood by the Node-RED call_service proxy.
type serviceCall struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// mqttClient is the subset of mqtt.Client used to publish.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTT implements System on top of Home Assistant's MQTT statestream for
// readings and a Node-RED service call proxy for writes.
type MQTT struct {
	broker       string
	clientID     string
	username     string
	password     string
	statePrefix  string
	serviceTopic string
	entities     Entities
	floatVoltage float64
	timeout      time.Duration

	meter  *Meter
	client mqttClient

	mu         sync.Mutex
	capacityAH float64
	useTimer   *bool
	boostSOC   int
	now        func() time.Time
}

func configuredMQTT() *MQTT {
	broker := lflag.String("mqtt-broker", "", "MQTT broker address, e.g. tcp://homeassistant.local:1883")
	clientID := lflag.String("mqtt-client-id", "gridboost", "MQTT client id")
	username := lflag.String("mqtt-username", os.Getenv("MQTT_USERNAME"), "MQTT username")
	password := lflag.String("mqtt-password", os.Getenv("MQTT_PASSWORD"), "MQTT password")
	statePrefix := lflag.String("mqtt-state-prefix", defaultStatePrefix, "Home Assistant statestream base topic")
	serviceTopic := lflag.String("mqtt-service-topic", defaultServiceTopic, "topic the Node-RED call_service proxy listens on")
	entities := DefaultEntities
	lflag.JSON(&entities, "mqtt-entities", entities, "Home Assistant entity ids of the inverter")
	floatVoltage := 56.2
	lflag.JSON(&floatVoltage, "battery-float-voltage", floatVoltage, "battery float voltage used to convert Ah to Wh when the inverter does not report it")

	m := newMQTT()
	lflag.Do(func() {
		m.broker = *broker
		m.clientID = *clientID
		m.username = *username
		m.password = *password
		m.statePrefix = strings.TrimRight(*statePrefix, "/")
		m.serviceTopic = *serviceTopic
		m.entities = entities
		m.floatVoltage = floatVoltage
	})
	return m
}

func newMQTT() *MQTT {
	return &MQTT{
		clientID:     "gridboost",
		statePrefix:  defaultStatePrefix,
		serviceTopic: defaultServiceTopic,
		entities:     DefaultEntities,
		floatVoltage: 56.2,
		timeout:      10 * time.Second,
		meter:        NewMeter(defaultMeterRetention),
		now:          time.Now,
	}
}

// stateTopic returns the statestream topic of a Home Assistant entity id.
func (m *MQTT) stateTopic(entityID string) string {
	domain, object, _ := strings.Cut(entityID, ".")
	return fmt.Sprintf("%s/%s/%s/state", m.statePrefix, domain, object)
}

func (m *MQTT) topics() []string {
	var out []string
	for _, id := range []string{
		m.entities.BatterySOC,
		m.entities.LoadPower,
		m.entities.PVPower,
		m.entities.CapacityAH,
		m.entities.FloatVoltage,
		m.entities.UseTimer,
		m.entities.CapacityPoint1,
	} {
		if id != "" {
			out = append(out, m.stateTopic(id))
		}
	}
	return out
}

// Connect connects to the broker and subscribes to the entity state topics.
// Subscriptions are restored by the on-connect handler after reconnects.
func (m *MQTT) Connect(ctx context.Context) error {
	if m.broker == "" {
		return errors.New("missing mqtt-broker")
	}
	l := log.Ctx(ctx).With(slog.String("broker", m.broker))

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.broker)
	opts.SetClientID(m.clientID)
	opts.SetUsername(m.username)
	opts.SetPassword(m.password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warn("mqtt connection lost", slog.Any("error", err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		l.Info("connected to mqtt broker")
		for _, topic := range m.topics() {
			token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				m.handleState(ctx, msg.Topic(), string(msg.Payload()))
			})
			if token.Wait() && token.Error() != nil {
				l.Error("failed to subscribe", slog.String("topic", topic), slog.Any("error", token.Error()))
			}
		}
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(m.timeout) {
		return errors.New("timed out connecting to mqtt broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	m.client = c
	return nil
}

// handleState applies one statestream message.
func (m *MQTT) handleState(ctx context.Context, topic, payload string) {
	payload = strings.TrimSpace(payload)
	// the inverter integration has dropped out
	if payload == "" || payload == "unavailable" || payload == "unknown" || payload == "Undefined" {
		return
	}
	now := m.now()

	if topic == m.stateTopic(m.entities.UseTimer) {
		on := strings.EqualFold(payload, "on")
		m.mu.Lock()
		m.useTimer = &on
		m.mu.Unlock()
		return
	}

	v, err := strconv.ParseFloat(payload, 64)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite value")
	}
	if err != nil {
		log.Ctx(ctx).Debug("ignoring non-numeric state", slog.String("topic", topic), slog.String("payload", payload))
		return
	}
	switch topic {
	case m.stateTopic(m.entities.BatterySOC):
		m.meter.Record(ReadingSOC, now, v)
	case m.stateTopic(m.entities.LoadPower):
		m.meter.Record(ReadingLoad, now, v)
	case m.stateTopic(m.entities.PVPower):
		m.meter.Record(ReadingSolar, now, v)
	case m.stateTopic(m.entities.CapacityAH):
		m.mu.Lock()
		m.capacityAH = v
		m.mu.Unlock()
	case m.stateTopic(m.entities.FloatVoltage):
		m.mu.Lock()
		m.floatVoltage = v
		m.mu.Unlock()
	case m.stateTopic(m.entities.CapacityPoint1):
		m.mu.Lock()
		m.boostSOC = int(math.Round(v))
		m.mu.Unlock()
	}
}

// GetStatus returns the latest readings. It fails with types.ErrUnavailable
// until a fresh SoC reading has been received.
func (m *MQTT) GetStatus(ctx context.Context) (types.SystemStatus, error) {
	soc, at, ok := m.meter.Latest(ReadingSOC)
	if !ok || m.now().Sub(at) > statusMaxAge {
		return types.SystemStatus{}, fmt.Errorf("%w: no recent battery state of charge", types.ErrUnavailable)
	}
	load, _, _ := m.meter.Latest(ReadingLoad)
	solar, _, _ := m.meter.Latest(ReadingSolar)

	m.mu.Lock()
	defer m.mu.Unlock()
	st := types.SystemStatus{
		Timestamp:         at,
		BatterySOC:        soc,
		BatteryCapacityWH: m.capacityAH * m.floatVoltage,
		LoadW:             load,
		SolarW:            solar,
		BoostSOC:          m.boostSOC,
	}
	if m.useTimer != nil {
		st.TimeOfUseEnabled = *m.useTimer
	}
	return st, nil
}

func (m *MQTT) callService(ctx context.Context, call serviceCall) error {
	if m.client == nil || !m.client.IsConnected() {
		return fmt.Errorf("%w: mqtt is not connected", types.ErrUnavailable)
	}
	payload, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to encode service call: %w", err)
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"calling service",
		slog.String("service", call.Domain+"."+call.Service),
		slog.String("entity", call.EntityID),
	)
	token := m.client.Publish(m.serviceTopic, 1, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("timed out calling %s.%s", call.Domain, call.Service)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to call %s.%s: %w", call.Domain, call.Service, err)
	}
	return nil
}

// SetBoostWindow sets capacity point 1 and turns the timer on. The slot times
// are only written when their select entities are configured.
func (m *MQTT) SetBoostWindow(ctx context.Context, start, stop types.ClockTime, soc int) error {
	if id := m.entities.TimePoint1; id != "" {
		if err := m.callService(ctx, serviceCall{
			Domain: "select", Service: "select_option", EntityID: id,
			Data: map[string]any{"option": start.String()},
		}); err != nil {
			return err
		}
	}
	if id := m.entities.TimePoint2; id != "" {
		if err := m.callService(ctx, serviceCall{
			Domain: "select", Service: "select_option", EntityID: id,
			Data: map[string]any{"option": stop.String()},
		}); err != nil {
			return err
		}
	}
	if err := m.callService(ctx, serviceCall{
		Domain: "number", Service: "set_value", EntityID: m.entities.CapacityPoint1,
		Data: map[string]any{"value": soc},
	}); err != nil {
		return err
	}
	if err := m.callService(ctx, serviceCall{
		Domain: "switch", Service: "turn_on", EntityID: m.entities.UseTimer,
	}); err != nil {
		return err
	}

	m.mu.Lock()
	on := true
	m.useTimer = &on
	m.boostSOC = soc
	m.mu.Unlock()
	return nil
}

// DisableTimeOfUse turns the timer switch off.
func (m *MQTT) DisableTimeOfUse(ctx context.Context) error {
	if err := m.callService(ctx, serviceCall{
		Domain: "switch", Service: "turn_off", EntityID: m.entities.UseTimer,
	}); err != nil {
		return err
	}
	m.mu.Lock()
	off := false
	m.useTimer = &off
	m.mu.Unlock()
	return nil
}

// HourlyUsage returns the metered usage of day.
func (m *MQTT) HourlyUsage(ctx context.Context, day types.Day, loc *time.Location) (types.HourlyUsage, error) {
	return m.meter.Usage(day, loc), nil
}

func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
