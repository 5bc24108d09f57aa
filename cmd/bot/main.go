// Command bot joins a server headlessly and drives a scripted input loop
// through the netcode client. Useful for load testing and for watching
// reconciliation behavior without a rendering client.
package main

import (
	"flag"
	"log"
	"time"

	"joyride/server/internal/netcode"
)

func main() {
	var baseURL string
	var frameRate int
	var duration time.Duration
	flag.StringVar(&baseURL, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&frameRate, "fps", 60, "simulated client frame rate")
	flag.DurationVar(&duration, "duration", 0, "how long to run (0 = until disconnect)")
	flag.Parse()

	client, err := netcode.Dial(baseURL, log.Default())
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer client.Close()
	log.Printf("joined as %s", client.ID())

	frame := time.Second / time.Duration(frameRate)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	pingTicker := time.NewTicker(2 * time.Second)
	defer pingTicker.Stop()

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}

	last := time.Now()
	var elapsed float64
	for {
		select {
		case <-client.Closed():
			log.Printf("connection closed, exiting")
			return
		case <-deadline:
			return
		case now := <-pingTicker.C:
			if err := client.Ping(now); err != nil {
				log.Printf("ping failed: %v", err)
			}
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			elapsed += dt

			client.Update()

			// Walk forward, weaving left and right every few seconds.
			keys := netcode.Keys{Forward: true}
			switch int(elapsed) % 4 {
			case 1:
				keys.Left = true
			case 3:
				keys.Right = true
			}
			if _, err := client.Step(keys, dt); err != nil {
				log.Printf("input send failed: %v", err)
			}

			pose := client.Predictor().Pose()
			if int(elapsed)%5 == 0 && int(elapsed) != int(elapsed-dt) {
				log.Printf("pose x=%.2f z=%.2f yaw=%.2f pending=%d rtt=%s",
					pose.X, pose.Z, pose.Yaw, client.Predictor().PendingLen(), client.RTT())
			}
		}
	}
}
