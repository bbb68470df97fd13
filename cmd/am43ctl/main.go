package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mlsorensen/goam43"
	"github.com/mlsorensen/goam43/pkg/blinds/am43"
	"github.com/mlsorensen/goam43/pkg/blinds/am43/comms"
	"github.com/mlsorensen/goam43/pkg/gatt"
)

const usage = `usage: am43ctl <command> [flags] [args]

commands:
  scan                          list motors in range
  info      -device ADDR        show name, position, battery and light level
  move      -device ADDR open|close|stop
  position  -device ADDR 0..100
  rename    -device ADDR NAME
  limit     -device ADDR -edge opened|closed set|save|cancel
  auth      -device ADDR CODE
  watch     -device ADDR        print every event until interrupted

Every command accepts -passcode and -timeout; AM43_DEVICE and AM43_PASSCODE
are used when the flags are not given.`

type command struct {
	fs       *flag.FlagSet
	device   *string
	passcode *string
	timeout  *time.Duration
	verbose  *bool
}

func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &command{
		fs:       fs,
		device:   fs.String("device", os.Getenv("AM43_DEVICE"), "motor address"),
		passcode: fs.String("passcode", os.Getenv("AM43_PASSCODE"), "motor passcode"),
		timeout:  fs.Duration("timeout", 30*time.Second, "how long to wait for the motor"),
		verbose:  fs.Bool("v", false, "debug logging"),
	}
}

func main() {
	_ = godotenv.Load()
	log.SetFlags(0)

	if len(os.Args) < 2 {
		log.Fatal(usage)
	}
	name, args := os.Args[1], os.Args[2:]
	cmd := newCommand(name)

	var err error
	switch name {
	case "scan":
		duration := cmd.fs.Duration("duration", goam43.DefaultScanDuration, "how long to scan")
		cmd.parse(args)
		err = scan(*duration)
	case "info", "move", "position", "rename", "auth", "watch":
		cmd.parse(args)
		err = cmd.withSession(func(s *am43.Session) error { return run(name, s, cmd.fs.Args()) })
	case "limit":
		edge := cmd.fs.String("edge", "opened", "opened or closed")
		cmd.parse(args)
		err = cmd.withSession(func(s *am43.Session) error { return limit(s, *edge, cmd.fs.Args()) })
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		log.Fatalf("unknown command %q\n\n%s", name, usage)
	}
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
}

func (c *command) parse(args []string) {
	_ = c.fs.Parse(args)
	if *c.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// withSession connects to the motor, authenticates when a passcode is given,
// runs fn and disconnects.
func (c *command) withSession(fn func(*am43.Session) error) error {
	if *c.device == "" {
		return errors.New("-device is required")
	}
	manager := am43.NewManager(logrus.StandardLogger(), gatt.WithObserveTimeout(*c.timeout))
	defer func() { _ = manager.Destroy() }()

	s := am43.New(manager, *c.device, am43.Config{PassCode: *c.passcode}, 0)
	ctx, cancel := context.WithTimeout(context.Background(), *c.timeout)
	defer cancel()
	if err := s.FirstConnect(ctx); err != nil {
		return err
	}
	defer func() { _ = s.Disconnect() }()

	return fn(s)
}

func scan(duration time.Duration) error {
	manager := am43.NewManager(logrus.StandardLogger())
	defer func() { _ = manager.Destroy() }()

	devices, err := goam43.ScanStream(context.Background(), manager, duration)
	if err != nil {
		return err
	}
	for d := range devices {
		fmt.Printf("%s  %-24s %d dBm\n", d.ID, d.Name, d.RSSI)
	}
	return nil
}

func run(name string, s *am43.Session, args []string) error {
	switch name {
	case "info":
		fmt.Printf("name:     %s\n", s.Name())
		fmt.Printf("address:  %s\n", s.ID())
		if p, ok := s.UpdatePosition(); ok {
			fmt.Printf("position: %d\n", p)
		}
		if b, ok := s.UpdateBatteryStatus(); ok {
			fmt.Printf("battery:  %d%%\n", b)
		}
		if l, ok := s.UpdateLightLevel(); ok {
			fmt.Printf("light:    %d\n", l)
		}
		return nil

	case "move":
		if len(args) != 1 {
			return errors.New("expected open, close or stop")
		}
		m, ok := map[string]comms.MoveCommand{
			"open":  comms.MoveOpen,
			"close": comms.MoveClose,
			"stop":  comms.MoveStop,
		}[args[0]]
		if !ok {
			return fmt.Errorf("unknown direction %q", args[0])
		}
		return s.Move(m)

	case "position":
		if len(args) != 1 {
			return errors.New("expected a position between 0 and 100")
		}
		target, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		if !s.SetPosition(target) {
			return fmt.Errorf("motor did not accept position %d", target)
		}
		return nil

	case "rename":
		if len(args) != 1 {
			return errors.New("expected a name")
		}
		return s.Rename(args[0])

	case "auth":
		if len(args) != 1 {
			return errors.New("expected a passcode")
		}
		ok, err := s.AuthWithPassCode(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("passcode rejected")
		}
		fmt.Println("passcode accepted")
		return nil

	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cancel := s.OnEvent(func(ev goam43.Event) {
			fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), ev)
		})
		defer cancel()
		<-ctx.Done()
		return nil
	}
	return fmt.Errorf("unknown command %q", name)
}

func limit(s *am43.Session, edgeName string, args []string) error {
	edge, ok := map[string]comms.LimitEdge{
		"opened": comms.LimitOpened,
		"closed": comms.LimitClosed,
	}[edgeName]
	if !ok {
		return fmt.Errorf("unknown edge %q", edgeName)
	}
	if len(args) != 1 {
		return errors.New("expected set, save or cancel")
	}
	phase, ok := map[string]comms.LimitPhase{
		"set":    comms.LimitSet,
		"save":   comms.LimitSave,
		"cancel": comms.LimitCancel,
	}[args[0]]
	if !ok {
		return fmt.Errorf("unknown phase %q", args[0])
	}
	return s.AdjustLimit(edge, phase)
}
