package ecall

import (
	"testing"
	"time"
)

func TestStatSampleDeltaFromComputesKbpsAndLoss(t *testing.T) {
	prev := statSample{bytesSent: 1000, bytesReceived: 2000, packetsRecv: 100, packetsLost: 5, rttMs: 20}
	cur := statSample{bytesSent: 2000, bytesReceived: 4000, packetsRecv: 110, packetsLost: 10, rttMs: 25}

	up, down, rtt, lossPct := cur.deltaFrom(prev, time.Second)

	if up <= 0 {
		t.Fatalf("upKbps = %v, want > 0", up)
	}
	if down <= 0 {
		t.Fatalf("downKbps = %v, want > 0", down)
	}
	if rtt != 25 {
		t.Fatalf("rttMs = %d, want 25", rtt)
	}
	if lossPct <= 0 {
		t.Fatalf("downLossPct = %v, want > 0 (5 new losses among 15 new recv+lost)", lossPct)
	}
}

func TestStatSampleDeltaFromIgnoresCounterReset(t *testing.T) {
	prev := statSample{bytesSent: 5000, bytesReceived: 5000, packetsRecv: 50, packetsLost: 5}
	cur := statSample{bytesSent: 100, bytesReceived: 100, packetsRecv: 10, packetsLost: 1}

	up, down, _, lossPct := cur.deltaFrom(prev, time.Second)
	if up != 0 || down != 0 {
		t.Fatalf("up=%v down=%v, want 0 after counter reset", up, down)
	}
	if lossPct != 0 {
		t.Fatalf("lossPct = %v, want 0 after counter reset", lossPct)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.LoggerFactory == nil {
		t.Fatal("LoggerFactory not defaulted")
	}
	if cfg.QualityInterval != int(defaultQualityInterval.Milliseconds()) {
		t.Fatalf("QualityInterval = %d, want %d", cfg.QualityInterval, defaultQualityInterval.Milliseconds())
	}
}
