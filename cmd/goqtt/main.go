package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pyr33x/goqtt/internal/broker"
	"github.com/pyr33x/goqtt/internal/config"
	"github.com/pyr33x/goqtt/internal/logger"
	"github.com/pyr33x/goqtt/internal/metrics"
	"github.com/pyr33x/goqtt/internal/plugin"
	"github.com/pyr33x/goqtt/internal/plugin/sqlauth"
	"github.com/pyr33x/goqtt/internal/rewrite"
	"github.com/pyr33x/goqtt/internal/store"
	"github.com/pyr33x/goqtt/internal/store/memory"
	"github.com/pyr33x/goqtt/internal/store/sqlite"
	"github.com/pyr33x/goqtt/internal/transport"
)

func main() {
	log := logger.NewMQTTLogger("main")

	cfgPath := "config.yml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("failed to load config", logger.ErrorAttr(err))
		return
	}

	sessionStore, closeStore, err := buildStore(cfg.Store)
	if err != nil {
		log.Fatal("failed to open session store", logger.ErrorAttr(err))
		return
	}
	defer closeStore()

	rewriter, err := buildRewriter(cfg.Rewrites)
	if err != nil {
		log.Fatal("invalid rewrite rules", logger.ErrorAttr(err))
		return
	}

	plugins, closePlugins, err := buildPlugins(cfg.Plugins)
	if err != nil {
		log.Fatal("failed to load plugins", logger.ErrorAttr(err))
		return
	}
	defer closePlugins()

	stat := metrics.New()
	reg := prometheus.NewRegistry()
	if err := stat.Register(reg); err != nil {
		log.Fatal("failed to register metrics", logger.ErrorAttr(err))
		return
	}

	router := broker.New(sessionStore, broker.Options{
		ReceiveMaximum:   cfg.ReceiveMaximum,
		TopicAliasMax:    cfg.TopicAliasMax,
		MaxPacketSize:    cfg.MaxPacketSize,
		SessionExpiryMax: cfg.SessionExpiryMax,
		KeepAliveMax:     cfg.KeepaliveMax,
		Rewriter:         rewriter,
		Plugins:          plugins,
		Metrics:          stat,
	})

	listeners, err := buildListeners(cfg.Listeners, router)
	if err != nil {
		log.Fatal("failed to configure listeners", logger.ErrorAttr(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	lifecycle := broker.NewLifecycle(router, stat, cfg.SysTopicInterval)
	go lifecycle.Run(ctx)

	for _, l := range listeners {
		l := l
		go func() {
			if err := l.Start(ctx); err != nil {
				log.Error("listener failed to start", logger.String("addr", l.Addr()), logger.ErrorAttr(err))
			}
		}()
		log.Info("listener started", logger.String("addr", l.Addr()))
	}

	gracefulShutdown(listeners, lifecycle, cancel)
	log.Info("shutdown complete")
}

func buildStore(cfg config.Store) (store.SessionStore, func(), error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func buildRewriter(rules []config.Rewrite) (*rewrite.Table, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	specs := make([][2]string, len(rules))
	for i, r := range rules {
		specs[i] = [2]string{r.Pattern, r.Write}
	}
	return rewrite.NewTable(specs)
}

func buildPlugins(cfgs []config.Plugin) (*plugin.Bus, func(), error) {
	if len(cfgs) == 0 {
		return nil, func() {}, nil
	}
	hooks := make([]plugin.Hook, 0, len(cfgs))
	closers := make([]func() error, 0, len(cfgs))

	for _, pc := range cfgs {
		switch pc.Type {
		case "sqlauth":
			dsn, _ := pc.Options["dsn"].(string)
			if dsn == "" {
				dsn = "./store/auth.db"
			}
			db, err := sql.Open("sqlite3", dsn)
			if err != nil {
				return nil, nil, fmt.Errorf("sqlauth: open %s: %w", dsn, err)
			}
			closers = append(closers, db.Close)
			hooks = append(hooks, sqlauth.New(db, parseACLRules(pc.Options)))
		default:
			return nil, nil, fmt.Errorf("unknown plugin type %q", pc.Type)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	return plugin.NewBus(hooks...), closeAll, nil
}

// parseACLRules reads an "acl" list from a plugin's options map. Each
// entry is {principal, from, topic, action, allow}; missing fields default
// to principal "*", from "" (any address), topic "#", ActionAny and
// allow true.
func parseACLRules(opts map[string]interface{}) []sqlauth.ACLRule {
	raw, ok := opts["acl"].([]interface{})
	if !ok {
		return nil
	}
	rules := make([]sqlauth.ACLRule, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rule := sqlauth.ACLRule{
			Principal: stringOr(m["principal"], "*"),
			FromCIDR:  stringOr(m["from"], ""),
			Topic:     stringOr(m["topic"], "#"),
			Action:    actionOf(stringOr(m["action"], "any")),
			Allow:     boolOr(m["allow"], true),
		}
		rules = append(rules, rule)
	}
	return rules
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func boolOr(v interface{}, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func actionOf(s string) sqlauth.Action {
	switch s {
	case "publish":
		return sqlauth.ActionPublish
	case "subscribe":
		return sqlauth.ActionSubscribe
	default:
		return sqlauth.ActionAny
	}
}

func buildListeners(cfgs []config.Listener, router *broker.Router) ([]transport.Listener, error) {
	listeners := make([]transport.Listener, 0, len(cfgs))
	for _, lc := range cfgs {
		switch lc.Protocol {
		case config.ProtocolTCP:
			listeners = append(listeners, transport.NewTCP(lc.Addr, router, 0))
		case config.ProtocolTLS:
			tlsCfg, err := loadTLS(lc.TLS)
			if err != nil {
				return nil, err
			}
			listeners = append(listeners, transport.NewTLS(lc.Addr, router, tlsCfg))
		case config.ProtocolWS, config.ProtocolWSS:
			listeners = append(listeners, transport.NewWS(lc.Addr, router))
		default:
			return nil, fmt.Errorf("unsupported listener protocol %q", lc.Protocol)
		}
	}
	return listeners, nil
}

func loadTLS(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tls listener requires cert/key")
	}
	cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func gracefulShutdown(listeners []transport.Listener, lifecycle *broker.Lifecycle, cancel context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	cancel()
	lifecycle.Stop()
	for _, l := range listeners {
		_ = l.Stop()
	}
	time.Sleep(time.Second)
}
