package control

import (
	"fmt"
	"time"

	"github.com/Odhiambo-20/XImage/sink"
)

// heartbeatPeriod is how often the monitor polls the GCU info register.
// It is a variable so tests can compress time.
var heartbeatPeriod = 1 * time.Second

// heartbeatMissLimit is how many consecutive misses raise one HEARTBEAT_FAIL
const heartbeatMissLimit = 10

// heartbeat polls device telemetry on its own goroutine and surfaces loss of
// contact.  One exists per open session when monitoring is enabled.
type heartbeat struct {
	s     *Session
	stopC chan struct{}
	done  chan struct{}
}

func startHeartbeat(s *Session) *heartbeat {
	h := &heartbeat{
		s:     s,
		stopC: make(chan struct{}),
		done:  make(chan struct{}),
	}
	go h.run()
	return h
}

// stop cooperatively cancels the monitor and joins it
func (h *heartbeat) stop() {
	close(h.stopC)
	<-h.done
}

func (h *heartbeat) run() {
	defer close(h.done)
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-h.stopC:
			return
		case <-ticker.C:
		}

		health, err := h.s.health(false)
		if err != nil {
			missed++
			if missed >= heartbeatMissLimit {
				// report once per run of misses, then keep watching
				h.s.report(sink.ErrHeartbeatFail,
					fmt.Sprintf("heartbeat failed: %d consecutive misses", missed))
				missed = 0
			}
			continue
		}
		missed = 0
		h.s.event(sink.EventTemperature, health.Temperature)
		h.s.event(sink.EventHumidity, health.Humidity)
	}
}
