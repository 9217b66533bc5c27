package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/smarthome/internal/config"
	"github.com/LeonardoBeccarini/smarthome/internal/logging"
	"github.com/LeonardoBeccarini/smarthome/internal/metrics"
	"github.com/LeonardoBeccarini/smarthome/internal/services/coordinator"
	"github.com/LeonardoBeccarini/smarthome/internal/services/export"
	"github.com/LeonardoBeccarini/smarthome/internal/services/gateway"
	"github.com/LeonardoBeccarini/smarthome/internal/services/persistence"
	"github.com/LeonardoBeccarini/smarthome/internal/services/rpc"
	"github.com/LeonardoBeccarini/smarthome/pkg/mqttbus"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordinator",
		Long: `Start the coordinator. It connects to the MQTT broker, restores the last
actuator snapshot and serves the HTTP, WebSocket and gRPC surfaces until
interrupted. Every key can be set in the --config file or through a
SMARTHOME_ environment variable (mqtt.host -> SMARTHOME_MQTT_HOST).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().String("address", "", "Override http.address")
	_ = viper.BindPFlag("http.address", cmd.Flags().Lookup("address"))
	return cmd
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load(viper.GetViper(), viper.GetString("config"))
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStore(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer st.close()
	store := st.store

	client, err := mqttbus.Connect(ctx, cfg.MQTT.Bus(), log)
	if err != nil {
		return err
	}
	qos := byte(cfg.MQTT.QoS)
	topics := cfg.MQTT.Topics()
	pub := mqttbus.NewPublisher(client, qos, cfg.MQTT.PublishTimeout)

	hub := coordinator.NewHub(cfg.Hub.QueueSize, cfg.Hub.WriteTimeout, log, m)
	coord := coordinator.New(store, pub, hub, topics, coordinator.Options{
		PersistTimeout: cfg.Store.PersistTimeout,
		Thresholds:     cfg.Thresholds,
	}, log, m)
	if err := coord.Start(ctx); err != nil {
		log.Warnf("serve: actuator snapshot unavailable, starting from defaults: %v", err)
	}

	gw := gateway.NewGateway(gateway.Config{
		Version:            version,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		MQTTConnected:      pub.Connected,
		StorePing:          store.Ping,
		StoreWriteErrorAge: st.guarded.LastWriteErrorAge,
		WriteErrorWindow:   cfg.Store.WriteErrorWindow,
	}, coord, log, m)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           gw.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	consumer := mqttbus.NewMultiConsumer(client, topics.Telemetry(), qos, coord.HandleTelemetry, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return consumer.ConsumeMessage(gctx)
	})
	if st.mirror != nil {
		g.Go(func() error {
			st.mirror.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		persistence.RunRetention(gctx, store, cfg.Store.Retention, cfg.Store.RetentionEvery, log)
		return nil
	})
	g.Go(func() error {
		log.Infof("serve: http listening on %s", cfg.HTTP.Address)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var stopGRPC func()
	if cfg.GRPC.Address != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Address)
		if err != nil {
			stop()
			_ = g.Wait()
			mqttbus.Close(client, log)
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPC.Address, err)
		}
		gs, health := rpc.NewGRPCServer(rpc.NewServer(coord, cfg.HTTP.RequestTimeout, log))
		stopGRPC = func() {
			health.Shutdown()
			gs.GracefulStop()
		}
		g.Go(func() error {
			log.Infof("serve: grpc listening on %s", cfg.GRPC.Address)
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Infof("serve: shutting down")
		if stopGRPC != nil {
			stopGRPC()
		}
		hub.CloseAll()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	mqttbus.Close(client, log)
	if err != nil {
		log.Errorf("serve: %v", err)
	}
	return err
}

type storeStack struct {
	store   persistence.Store
	guarded *persistence.Guarded
	// mirror is nil unless Kafka export is enabled.
	mirror *persistence.Mirror
	close  func()
}

// openStore builds the backend, guards its reads and mirrors appends to
// Kafka when brokers are configured.
func openStore(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, m *metrics.Metrics) (*storeStack, error) {
	backend, err := persistence.Open(ctx, cfg.Store.Persistence())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Infof("serve: store backend %s", cfg.Store.Backend)

	st := &storeStack{guarded: persistence.NewGuarded(backend, cfg.Store.BreakerSettings(), log, m)}
	st.store = st.guarded
	closers := []func() error{st.guarded.Close}

	if cfg.Kafka.Enabled() {
		sink, err := export.NewKafkaSink(export.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			_ = st.guarded.Close()
			return nil, fmt.Errorf("kafka export: %w", err)
		}
		st.mirror = persistence.NewMirror(st.guarded, sink, cfg.Kafka.QueueSize, cfg.Store.PersistTimeout, log)
		st.store = st.mirror
		closers = append(closers, sink.Close)
		log.Infof("serve: mirroring to kafka topic %s", cfg.Kafka.Topic)
	}

	st.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warnf("serve: close: %v", err)
			}
		}
	}
	return st, nil
}
