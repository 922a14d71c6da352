// Command rotord runs the rotor controller and exposes it over Hamlib
// rotctld, HTTP and websocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/w1xm/satrotor/gs232b"
	"github.com/w1xm/satrotor/gs232b/simulator"
	"github.com/w1xm/satrotor/internal/serialport"
	"github.com/w1xm/satrotor/jrk"
	"github.com/w1xm/satrotor/power"
	"github.com/w1xm/satrotor/rig"
	"github.com/w1xm/satrotor/rotator"
	"github.com/w1xm/satrotor/rotor"
	"github.com/w1xm/satrotor/settings"
)

var (
	configPath   = flag.String("config", "rotord.yaml", "settings file")
	staticDir    = flag.String("static_dir", "static", "directory containing static files")
	addr         = flag.String("addr", "127.0.0.1:8502", "HTTP listen address")
	rotctldAddr  = flag.String("rotctld", ":4533", "rotctld listen address; empty to disable")
	backend      = flag.String("backend", "", "override the configured backend")
	simulate     = flag.Bool("simulate", false, "drive a simulated GS-232B instead of hardware")
	pollInterval = flag.Duration("poll", 500*time.Millisecond, "position poll interval")
	mqttBroker   = flag.String("mqtt_broker", "", "MQTT broker URL; empty to disable")
	mqttTopic    = flag.String("mqtt_topic", "rotor/status", "MQTT status topic")
	powerSerial  = flag.String("power_serial", "", "relay board serial port or host:port; empty to disable")
	powerBaud    = flag.Int("power_baud", 19200, "relay board baud rate")
	listPorts    = flag.Bool("list_ports", false, "list serial ports and exit")
	listUSB      = flag.Bool("list_usb", false, "list Jrk USB devices and exit")
)

// simulatedDial returns a dialer that starts a fresh simulator for every
// open, carrying the position over from the previous one.
func simulatedDial(ctx context.Context) serialport.DialFunc {
	var last *simulator.Simulator
	return func() (io.ReadWriteCloser, error) {
		sim, conn := simulator.New()
		if last != nil {
			sim.Set(last.Position())
		}
		last = sim
		go func() {
			if err := sim.Run(ctx); err != nil && err != io.EOF && ctx.Err() == nil {
				log.Printf("simulator: %v", err)
			}
		}()
		return conn, nil
	}
}

func buildController(ctx context.Context, store settings.Store) (*rotor.Controller, error) {
	cfg := rotor.DefaultConfig()
	if err := cfg.ReadSettings(store.Section(rotor.SectionRotor)); err != nil {
		return nil, err
	}
	backends := rotor.BuildBackends(store)
	if *simulate {
		gc := gs232b.DefaultConfig()
		gc.ReadSettings(store.Section(rotor.SectionGS232B))
		backends[rotator.GS232B] = gs232b.NewWithDial(gc, simulatedDial(ctx))
		cfg.Active = rotator.GS232B
	}
	if *backend != "" {
		k, err := rotator.ParseKind(*backend)
		if err != nil {
			return nil, err
		}
		cfg.Active = k
	}
	return rotor.New(cfg, backends)
}

func list() error {
	if *listPorts {
		ports, err := serialport.ListPorts()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p)
		}
	}
	if *listUSB {
		devs, err := jrk.List()
		if err != nil {
			return err
		}
		for _, d := range devs {
			fmt.Println(d)
		}
	}
	return nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if *listPorts || *listUSB {
		if err := list(); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settings.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	c, err := buildController(ctx, store)
	if err != nil {
		log.Fatal(err)
	}
	rigCfg := rig.DefaultConfig()
	rigCfg.ReadSettings(store.Section(rig.SectionRig))
	r := rig.New(rigCfg, c)

	var relay *power.Relay
	if *powerSerial != "" {
		relay, err = power.Connect(ctx, *powerSerial, *powerBaud, nil)
		if err != nil {
			log.Fatal(err)
		}
		c.SetPower(relay)
	}

	s := NewServer(r, relay)
	s.OnStatus(updateMetrics)
	if *mqttBroker != "" {
		p, err := NewPublisher(*mqttBroker, *mqttTopic)
		if err != nil {
			log.Fatal(err)
		}
		defer p.Disconnect()
		s.OnStatus(p.Publish)
	}

	if *rotctldAddr != "" {
		if err := s.ListenRotctld(ctx, *rotctldAddr); err != nil {
			log.Fatal(err)
		}
	}

	m := mux.NewRouter()
	m.Handle("/api/status", http.HandlerFunc(s.StatusHandler))
	m.Handle("/api/ws", http.HandlerFunc(s.StatusSocketHandler))
	m.Handle("/metrics", promhttp.Handler())
	m.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
	srv := &http.Server{
		Handler:      m,
		Addr:         *addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Poll(ctx, *pollInterval)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Print(err)
	}

	if err := c.Close(); err != nil {
		log.Printf("closing %v: %v", c.ActiveKind(), err)
	}
	c.WriteSettings(store)
	r.Config().WriteSettings(store.Section(rig.SectionRig))
	if err := store.Save(); err != nil {
		log.Printf("saving settings: %v", err)
	}
}
