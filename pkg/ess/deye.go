package ess

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gridboost/gridboost/pkg/log"
	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Deye hybrid inverter holding registers.
const (
	regTimeOfUse         uint16 = 146 // bit0 enables the timer, bits1-7 weekdays
	regScheduleTime1     uint16 = 148 // 1..6, HHMM
	regScheduleSOC1      uint16 = 166 // 1..6, 0-100%
	regScheduleCharge1   uint16 = 172 // 1..6, bit0 grid charge
	regBatteryCapacity   uint16 = 204 // Ah
	regBatteryVoltage    uint16 = 587 // 0.01 V
	regBatterySOC        uint16 = 588
	regLoadPowerTotal    uint16 = 653 // signed W
	regPV1Power          uint16 = 672
	regPV2Power          uint16 = 673
	scheduleSlots        uint16 = 6
	timeOfUseAllWeekdays uint16 = 0xFE
)

// registers is the subset of modbus.Client used by Deye.
type registers interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Deye implements System over Modbus TCP for Deye/Sunsynk/Sol-Ark hybrid
// inverters. Slot 1 of the Time-of-Use program is the boost, slot 2 starts
// at the end of the boost without grid charging.
type Deye struct {
	address      string
	slaveID      byte
	timeout      time.Duration
	pollInterval time.Duration

	// serializes register access
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	regs    registers

	meter *Meter
	now   func() time.Time
	stop  chan struct{}
	done  chan struct{}
}

func configuredDeye() *Deye {
	address := lflag.String("modbus-address", "", "Modbus TCP address of the inverter, e.g. 192.168.1.50:502")
	slaveID := 1
	lflag.JSON(&slaveID, "modbus-slave-id", slaveID, "Modbus slave id of the inverter")
	timeout := lflag.Duration("modbus-timeout", 5*time.Second, "Modbus request timeout")
	poll := lflag.Duration("modbus-poll-interval", time.Minute, "how often readings are sampled for the hourly meter")

	d := newDeye()
	lflag.Do(func() {
		d.address = *address
		d.slaveID = byte(slaveID)
		d.timeout = *timeout
		d.pollInterval = *poll
	})
	return d
}

func newDeye() *Deye {
	return &Deye{
		slaveID:      1,
		timeout:      5 * time.Second,
		pollInterval: time.Minute,
		meter:        NewMeter(defaultMeterRetention),
		now:          time.Now,
	}
}

// Connect opens the Modbus TCP connection and starts sampling readings.
func (d *Deye) Connect(ctx context.Context) error {
	if d.address == "" {
		return errors.New("missing modbus-address")
	}
	h := modbus.NewTCPClientHandler(d.address)
	h.Timeout = d.timeout
	h.SlaveId = d.slaveID
	if err := h.Connect(); err != nil {
		return fmt.Errorf("failed to connect to inverter: %w", err)
	}
	d.mu.Lock()
	d.handler = h
	d.regs = modbus.NewClient(h)
	d.mu.Unlock()

	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.poll(ctx)
	return nil
}

func (d *Deye) poll(ctx context.Context) {
	defer close(d.done)
	t := time.NewTicker(d.pollInterval)
	defer t.Stop()
	for {
		if err := d.sample(); err != nil {
			log.Ctx(ctx).Warn("failed to sample inverter", slog.Any("error", err))
		}
		select {
		case <-t.C:
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Deye) read(address, quantity uint16) ([]uint16, error) {
	if d.regs == nil {
		return nil, fmt.Errorf("%w: inverter is not connected", types.ErrUnavailable)
	}
	b, err := d.regs.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to read register %d: %w", address, err)
	}
	if len(b) != int(quantity)*2 {
		return nil, fmt.Errorf("short read of register %d: %d bytes", address, len(b))
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return out, nil
}

func (d *Deye) readOne(address uint16) (uint16, error) {
	v, err := d.read(address, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// sample records the current readings into the meter.
func (d *Deye) sample() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	soc, err := d.readOne(regBatterySOC)
	if err != nil {
		return err
	}
	load, err := d.readOne(regLoadPowerTotal)
	if err != nil {
		return err
	}
	pv, err := d.read(regPV1Power, regPV2Power-regPV1Power+1)
	if err != nil {
		return err
	}
	d.meter.Record(ReadingSOC, now, float64(soc))
	d.meter.Record(ReadingLoad, now, float64(int16(load)))
	d.meter.Record(ReadingSolar, now, float64(pv[0])+float64(pv[1]))
	return nil
}

// GetStatus reads the current status from the inverter.
func (d *Deye) GetStatus(ctx context.Context) (types.SystemStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	soc, err := d.readOne(regBatterySOC)
	if err != nil {
		return types.SystemStatus{}, err
	}
	volts, err := d.readOne(regBatteryVoltage)
	if err != nil {
		return types.SystemStatus{}, err
	}
	ah, err := d.readOne(regBatteryCapacity)
	if err != nil {
		return types.SystemStatus{}, err
	}
	load, err := d.readOne(regLoadPowerTotal)
	if err != nil {
		return types.SystemStatus{}, err
	}
	pv, err := d.read(regPV1Power, regPV2Power-regPV1Power+1)
	if err != nil {
		return types.SystemStatus{}, err
	}
	tou, err := d.readOne(regTimeOfUse)
	if err != nil {
		return types.SystemStatus{}, err
	}
	boost, err := d.readOne(regScheduleSOC1)
	if err != nil {
		return types.SystemStatus{}, err
	}

	return types.SystemStatus{
		Timestamp:         d.now(),
		BatterySOC:        float64(soc),
		BatteryCapacityWH: float64(ah) * float64(volts) / 100,
		LoadW:             float64(int16(load)),
		SolarW:            float64(pv[0]) + float64(pv[1]),
		TimeOfUseEnabled:  tou&1 == 1,
		BoostSOC:          int(boost),
	}, nil
}

// SetBoostWindow writes slot 1 as start with grid charge to soc, slot 2 as
// stop without grid charge and enables Time-of-Use. Slots 3 to 6 are left as
// they are.
func (d *Deye) SetBoostWindow(ctx context.Context, start, stop types.ClockTime, soc int) error {
	if soc < 0 || soc > 100 {
		return fmt.Errorf("invalid boost soc: %d", soc)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.regs == nil {
		return fmt.Errorf("%w: inverter is not connected", types.ErrUnavailable)
	}
	times := make([]byte, 4)
	binary.BigEndian.PutUint16(times[0:], uint16(start.HHMM()))
	binary.BigEndian.PutUint16(times[2:], uint16(stop.HHMM()))
	if _, err := d.regs.WriteMultipleRegisters(regScheduleTime1, 2, times); err != nil {
		return fmt.Errorf("failed to write schedule times: %w", err)
	}
	if _, err := d.regs.WriteSingleRegister(regScheduleSOC1, uint16(soc)); err != nil {
		return fmt.Errorf("failed to write schedule soc: %w", err)
	}
	charge := make([]byte, 4)
	binary.BigEndian.PutUint16(charge[0:], 1)
	if _, err := d.regs.WriteMultipleRegisters(regScheduleCharge1, 2, charge); err != nil {
		return fmt.Errorf("failed to write schedule charge flags: %w", err)
	}

	tou, err := d.readOne(regTimeOfUse)
	if err != nil {
		return err
	}
	if tou&1 == 0 {
		tou |= 1
		if tou&timeOfUseAllWeekdays == 0 {
			tou |= timeOfUseAllWeekdays
		}
		if _, err := d.regs.WriteSingleRegister(regTimeOfUse, tou); err != nil {
			return fmt.Errorf("failed to enable time of use: %w", err)
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "programmed boost window",
		slog.String("start", start.String()),
		slog.String("stop", stop.String()),
		slog.Int("soc", soc),
	)
	return nil
}

// DisableTimeOfUse clears the timer enable bit.
func (d *Deye) DisableTimeOfUse(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tou, err := d.readOne(regTimeOfUse)
	if err != nil {
		return err
	}
	if tou&1 == 0 {
		return nil
	}
	if _, err := d.regs.WriteSingleRegister(regTimeOfUse, tou&^1); err != nil {
		return fmt.Errorf("failed to disable time of use: %w", err)
	}
	return nil
}

// HourlyUsage returns the sampled usage of day.
func (d *Deye) HourlyUsage(ctx context.Context, day types.Day, loc *time.Location) (types.HourlyUsage, error) {
	return d.meter.Usage(day, loc), nil
}

func (d *Deye) Close() error {
	if d.stop != nil {
		close(d.stop)
		<-d.done
		d.stop = nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler != nil {
		err := d.handler.Close()
		d.handler = nil
		d.regs = nil
		return err
	}
	return nil
}
