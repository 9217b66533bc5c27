package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/smarthome/internal/logging"
	sensorSimulator "github.com/LeonardoBeccarini/smarthome/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

func main() {
	host := flag.String("host", "localhost", "MQTT broker host")
	port := flag.Int("port", 1883, "MQTT broker port")
	user := flag.String("user", "", "MQTT user")
	password := flag.String("password", "", "MQTT password")
	clientID := flag.String("client-id", "smarthome-simulator", "MQTT client ID")
	prefix := flag.String("topic-prefix", "", "topic prefix shared with the coordinator")
	interval := flag.Duration("interval", 5*time.Second, "publish interval")
	noise := flag.Float64("noise", 0.3, "max jitter on temperature and humidity")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(*level, logging.FormatConsole)
	if err != nil {
		zap.NewExample().Sugar().Fatal(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := mqttbus.Config{
		Host:     *host,
		Port:     *port,
		User:     *user,
		Password: *password,
		ClientID: *clientID,
	}
	client, err := mqttbus.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal(err)
	}

	topics := mqttbus.Topics{Prefix: *prefix}
	publisher := mqttbus.NewPublisher(client, cfg.QoS, 2*time.Second)
	simulator := sensorSimulator.NewSensorSimulator(sensorSimulator.NewEnvironment(*seed), publisher, topics, *noise, log)

	consumer := mqttbus.NewMultiConsumer(client, []string{topics.Actuators()}, cfg.QoS, simulator.HandleActuator, log)
	go func() {
		if err := consumer.ConsumeMessage(ctx); err != nil {
			log.Errorf("simulator: %v", err)
			stop()
		}
	}()

	log.Infof("simulator: publishing every %s", *interval)
	simulator.Start(ctx, *interval)
}
