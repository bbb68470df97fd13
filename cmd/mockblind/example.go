package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43"
	"github.com/mlsorensen/goam43/pkg/blinds/am43"
	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
	"github.com/mlsorensen/goam43/pkg/blinds/mock"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

func main() {
	log.Println("GoAM43 mock blind starting...")
	logrus.SetLevel(logrus.DebugLevel)

	// A simulated motor behind a simulated radio. In a real program the manager
	// would come from am43.NewManager and drive the host adapter.
	motor := mock.NewMotor("02:00:00:00:00:01", "MOCK-Development-Blind")
	tiltMotor := mock.NewMotor("02:00:00:00:00:02", "MOCK-Development-Tilt")
	manager := gatt.NewManager(mock.NewAdapter(motor, tiltMotor), comms.Profile)

	blind := am43.New(manager, motor.Address(), am43.Config{HasTilt: true}, 0)
	tilt := am43.New(manager, tiltMotor.Address(), am43.Config{}, 0)
	blind.AddTiltMotor(tilt)

	blind.OnEvent(func(ev goam43.Event) {
		log.Printf("event: %s (direction %s)", ev, blind.Direction())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Set up graceful shutdown ---
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Println("Shutdown signal received. Disconnecting...")
		cancel()
	}()

	for _, s := range []*am43.Session{blind, tilt} {
		if err := s.FirstConnect(ctx); err != nil {
			log.Fatalf("Fatal: Could not connect to %s: %v", s.ID(), err)
		}
	}
	log.Printf("Connected to %s", blind.Name())

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	targets := []int{0, 100, 30}
	for step := 0; ; step++ {
		select {
		case <-ctx.Done():
			for _, s := range []*am43.Session{blind, tilt} {
				_ = s.Disconnect()
			}
			_ = manager.Destroy()
			log.Println("Application finished gracefully.")
			return
		case <-ticker.C:
		}

		target := targets[step%len(targets)]
		log.Printf("--> Moving to %d", target)
		if !blind.SetPosition(target) {
			log.Printf("Motor did not acknowledge position %d", target)
		}
		log.Printf("--> Tilting to %d", target-50)
		blind.SetTilt(target - 50)

		if batt, ok := blind.UpdateBatteryStatus(); ok {
			log.Printf("--> Battery level is %d%%", batt)
		}
	}
}
