package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/internal/databus"
	"moff.io/moff-wallet/internal/http"
	"moff.io/moff-wallet/internal/manager"
	"moff.io/moff-wallet/internal/metrics"
	"moff.io/moff-wallet/internal/secrets"
	"moff.io/moff-wallet/internal/sessionstore"
	"moff.io/moff-wallet/internal/starter"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

func main() {
	log.Infof("Starting app")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	conf := config.Global
	log.SetLevelByName(conf.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := secrets.Resolve(ctx, conf); err != nil {
		log.Fatal(err)
	}
	if conf.SentryDSN != "" {
		if err := errors.NewSentryReporter(conf.SentryDSN); err != nil {
			log.Warnf("sentry reporter disabled:%v", err)
		}
	}
	if conf.LarkAlarmWebhook != "" {
		errors.NewLarkReporter("moff-wallet", conf.LarkAlarmWebhook, conf.ReportSilent)
	}

	store, err := sessionstore.New(ctx, &conf.SessionStore)
	if err != nil {
		log.Fatal(err)
	}
	collector := metrics.NewCollector()
	opts := manager.OptionsFromConfig(&conf.WalletConnect)
	opts.Observer = collector
	m := manager.New(store, opts)
	m.AddListener(collector)

	if brokers := conf.Kafka.Brokers(); len(brokers) > 0 {
		bus, err := databus.NewDataBus(brokers)
		if err != nil {
			log.Fatal(err)
		}
		defer bus.Close()
		m.AddListener(databus.NewSessionPublisher(bus, conf.Kafka.Topic))
	}
	if conf.SQS.QueueURL != "" {
		queue, err := databus.NewSQSQueue(ctx, conf.SQS.Region, conf.SQS.QueueURL)
		if err != nil {
			log.Fatal(err)
		}
		m.AddListener(databus.NewSessionPublisher(queue, conf.SQS.Topic))
	}

	serverOpts := []http.Option{http.WithMetrics(collector.Handler())}
	if rs, ok := store.(*sessionstore.RedisStore); ok {
		serverOpts = append(serverOpts, http.WithRedisRateLimit(rs.Client()))
	}
	server := http.NewServer(m, serverOpts...)

	starter.Start(ctx, conf, m, server)
	<-ctx.Done()
	log.Info("shutting down")
	starter.Stop(m, server)
}
