package ble

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/questsci/questlog/internal/ble/protocol"
)

func newTestSim(seed uint64, now func() time.Time) *SimulatedAdapter {
	return NewSimulatedAdapter(SimOptions{
		Seed:               seed,
		AdvertiseInterval:  20 * time.Millisecond,
		ServiceUUID:        testServiceUUID,
		CharacteristicUUID: testCharUUID,
		Now:                now,
	})
}

func TestSimulatedAdapterConnectFlow(t *testing.T) {
	sim := newTestSim(1, nil)
	sup := newTestSupervisor(sim, newMockIdentity(PairedSensorKey, "quest_100"), 2*time.Second)

	res, err := sup.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !res.Connected {
		t.Fatal("Connect() against the simulator should succeed")
	}

	payload, err := res.Link.Characteristic.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	temp := protocol.DecodeTemperature(payload)
	if math.IsNaN(temp) || temp < 15 || temp > 33 {
		t.Errorf("simulated temperature = %v, want a plausible ambient reading", temp)
	}

	if err := res.Link.Device.CancelConnection(); err != nil {
		t.Fatalf("CancelConnection() error = %v", err)
	}
	if _, err := res.Link.Characteristic.Read(context.Background()); err == nil {
		t.Error("Read() after disconnect should fail")
	}
}

func TestSimulatedAdapterPairs(t *testing.T) {
	sim := newTestSim(1, nil)
	identity := newMockIdentity()
	name, err := NewPairer(sim, identity, PairOptions{Timeout: 2 * time.Second}).Pair(context.Background())
	if err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	if name != "quest_100" {
		t.Errorf("Pair() = %q, want %q", name, "quest_100")
	}
}

func TestSimulatedReadingsAreDeterministic(t *testing.T) {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base }

	read := func() []string {
		sim := newTestSim(42, clock)
		dev := sim.device
		_ = dev.Connect(context.Background())
		char, err := dev.Characteristic(context.Background(), testServiceUUID, testCharUUID)
		if err != nil {
			t.Fatalf("Characteristic() error = %v", err)
		}
		var out []string
		for i := 0; i < 5; i++ {
			b, err := char.Read(context.Background())
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			out = append(out, string(b))
		}
		return out
	}

	first, second := read(), read()
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("reading %d = %q then %q, want identical sequences for equal seeds", i, first[i], second[i])
		}
	}
}

func TestSimulatedWrongCharacteristic(t *testing.T) {
	sim := newTestSim(1, nil)
	if _, err := sim.device.Characteristic(context.Background(), testServiceUUID, "nope"); err == nil {
		t.Error("Characteristic() with unknown UUID should fail")
	}
}

func TestSimulatedScanStops(t *testing.T) {
	sim := newTestSim(1, nil)
	seen := make(chan struct{}, 100)
	if err := sim.Scan(func(Advertisement, error) { seen <- struct{}{} }); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	<-seen
	if err := sim.Scan(func(Advertisement, error) {}); err == nil {
		t.Error("second concurrent Scan() should fail")
	}
	if err := sim.StopScan(); err != nil {
		t.Fatalf("StopScan() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	for len(seen) > 0 {
		<-seen
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(seen); n != 0 {
		t.Errorf("advertisements after StopScan = %d, want 0", n)
	}
}
