package ecall

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// startQualityLoopLocked begins the periodic stats sampler. Called
// with s.mu held; the sampler goroutine takes its own lock per tick.
func (s *Session) startQualityLoopLocked() {
	if s.qualityStop != nil || s.pc == nil {
		return
	}
	stop := make(chan struct{})
	s.qualityStop = stop
	go s.sampleQualityLoop(stop)
}

// stopQualityLoopLocked signals the sampler to exit. It does not wait
// for the goroutine to finish: the goroutine only ever reacquires s.mu
// briefly per tick, and joining here while s.mu is held would deadlock
// against that same lock.
func (s *Session) stopQualityLoopLocked() {
	if s.qualityStop == nil {
		return
	}
	close(s.qualityStop)
	s.qualityStop = nil
}

func (s *Session) sampleQualityLoop(stop chan struct{}) {
	var prev statSample
	havePrev := false

	for {
		s.mu.Lock()
		interval := s.qualityInterval
		s.mu.Unlock()
		if interval <= 0 {
			interval = defaultQualityInterval
		}

		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		s.mu.Lock()
		pc := s.pc
		sessionID := s.cfg.SessionID
		s.mu.Unlock()
		if pc == nil {
			continue
		}

		cur := sampleStats(pc.GetStats())
		if havePrev {
			up, down, rtt, lossPct := cur.deltaFrom(prev, interval)
			if s.delegate != nil {
				s.delegate.OnQuality(sessionID, up, down, rtt, lossPct)
			}
		}
		prev = cur
		havePrev = true
	}
}

// statSample is a snapshot of the counters OnQuality derives deltas
// from.
type statSample struct {
	bytesSent     uint64
	bytesReceived uint64
	packetsRecv   uint64
	packetsLost   int64
	rttMs         int
}

func sampleStats(report webrtc.StatsReport) statSample {
	var s statSample
	for _, raw := range report {
		switch st := raw.(type) {
		case webrtc.OutboundRTPStreamStats:
			s.bytesSent += st.BytesSent
		case webrtc.InboundRTPStreamStats:
			s.bytesReceived += st.BytesReceived
			s.packetsRecv += st.PacketsReceived
			s.packetsLost += st.PacketsLost
		case webrtc.ICECandidatePairStats:
			if st.State == webrtc.StatsICECandidatePairStateSucceeded {
				s.rttMs = int(st.CurrentRoundTripTime * 1000)
			}
		}
	}
	return s
}

func (cur statSample) deltaFrom(prev statSample, interval time.Duration) (upKbps, downKbps float32, rttMs int, downLossPct float32) {
	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}
	upKbps = float32(float64(diffUint64(cur.bytesSent, prev.bytesSent)*8) / secs / 1000)
	downKbps = float32(float64(diffUint64(cur.bytesReceived, prev.bytesReceived)*8) / secs / 1000)
	rttMs = cur.rttMs

	recvDelta := diffUint64(cur.packetsRecv, prev.packetsRecv)
	lostDelta := cur.packetsLost - prev.packetsLost
	if lostDelta > 0 && recvDelta+uint64(lostDelta) > 0 {
		downLossPct = float32(lostDelta) / float32(recvDelta+uint64(lostDelta)) * 100
	}
	return
}

func diffUint64(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
