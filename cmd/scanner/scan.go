package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43"
	"github.com/mlsorensen/goam43/pkg/blinds/am43"
)

func main() {
	scanDuration := flag.Duration("duration", goam43.DefaultScanDuration, "how long to scan")
	stream := flag.Bool("stream", false, "print devices as they are found")
	flag.Parse()

	log.Println("--- GoAM43 Scanner ---")
	log.Printf("Starting BLE scan for %s...", *scanDuration)
	log.Println("Wake your AM43 motors now (press the button on the motor head).")

	manager := am43.NewManager(logrus.StandardLogger())
	defer func() {
		if err := manager.Destroy(); err != nil {
			log.Printf("Warning: failed to release adapter: %v", err)
		}
	}()

	if *stream {
		devices, err := goam43.ScanStream(context.Background(), manager, *scanDuration)
		if err != nil {
			log.Fatalf("Fatal: Scan failed: %v", err)
		}
		for device := range devices {
			fmt.Printf("%s  %-24s %d dBm\n", device.ID, device.Name, device.RSSI)
		}
		return
	}

	devices, err := goam43.Scan(context.Background(), manager, *scanDuration)
	if err != nil {
		log.Fatalf("Fatal: Scan failed: %v", err)
	}

	// --- Print the results ---
	if len(devices) == 0 {
		log.Println("\nScan complete. No AM43 motors found.")
		log.Println("Tip: Make sure the motor is charged, in range and not connected to another controller.")
		return
	}
	fmt.Println("\n--- Found AM43 Motors ---")
	for i, device := range devices {
		fmt.Printf("%d: Name: %s\n", i+1, device.Name)
		fmt.Printf("   ID:   %s\n", device.ID)
		fmt.Printf("   RSSI: %d\n\n", device.RSSI)
	}
	fmt.Println("-------------------------")
	fmt.Printf("Add a motor to allowed_devices with its ID, e.g. address: %s\n", devices[0].ID)
}
