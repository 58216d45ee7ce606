// Command cardebug drives the RC car through a fixed Left, Right, Right
// sequence to check the Bluetooth link without an EEG board.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/neurobile/internal/actuator"
	"github.com/banshee-data/neurobile/internal/command"
	"github.com/banshee-data/neurobile/internal/config"
)

var (
	name     = flag.String("name", "", "Advertised car name (default from config)")
	charUUID = flag.String("characteristic", config.CarCharacteristicUUID, "GATT characteristic for command bytes")
	timeout  = flag.Duration("timeout", 5*time.Second, "Discovery timeout")
	sim      = flag.Bool("sim", false, "Use a simulated car")
)

func main() {
	flag.Parse()

	carName := *name
	if carName == "" {
		carName = config.Defaults().GetCarName()
	}

	var transport actuator.Transport
	if *sim {
		transport = &actuator.SimTransport{Present: true}
	} else {
		t, err := actuator.NewBLETransport(*charUUID)
		if err != nil {
			log.Fatalf("bluetooth: %v", err)
		}
		transport = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slot := &command.Slot{}
	car := actuator.NewLoop(transport, slot, carName)
	car.DiscoveryTimeout = *timeout
	car.OnActuation = func(a actuator.Actuation) {
		log.Printf("%s connected=%v err=%v", a.Command, a.Connected, a.Err)
	}

	if err := car.Connect(ctx); err != nil {
		log.Fatal(err)
	}
	defer car.Close()
	if car.State() != actuator.Connected {
		log.Fatalf("car %q not found", carName)
	}

	for _, cmd := range []command.Command{command.Left, command.Right, command.Right} {
		slot.Set(cmd)
		if err := car.Cycle(ctx); err != nil {
			log.Printf("%s failed: %v", cmd, err)
			return
		}
	}
	log.Print("sequence complete")
}
