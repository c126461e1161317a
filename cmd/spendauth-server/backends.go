package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/spendauth"
	"github.com/MrEthical07/spendauth/internal/config"
	"github.com/MrEthical07/spendauth/notify"
	"github.com/MrEthical07/spendauth/session"
	"github.com/MrEthical07/spendauth/store/memory"
	"github.com/MrEthical07/spendauth/store/mongodb"
	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backends holds the external dependencies the engine is built from.
type backends struct {
	redis          redis.UniversalClient
	users          spendauth.UserStore
	sessions       session.Store
	sessionBackend string
	audit          spendauth.AuditRecorder
	notifier       notify.Notifier

	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, s *config.Settings, log *zap.Logger) (_ *backends, err error) {
	b := &backends{sessionBackend: config.SessionsRedis}
	defer func() {
		if err != nil {
			b.close()
		}
	}()

	if err := b.openRedis(ctx, s, log); err != nil {
		return nil, err
	}
	if err := b.openMongo(ctx, s, log); err != nil {
		return nil, err
	}
	if err := b.openNATS(s, log); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *backends) openRedis(ctx context.Context, s *config.Settings, log *zap.Logger) error {
	if s.Redis.URL == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start in-process redis: %w", err)
		}
		b.closers = append(b.closers, mr.Close)
		b.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		log.Warn("redis_url not set, using in-process redis", zap.String("addr", mr.Addr()))
	} else {
		opts, err := redis.ParseURL(s.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis_url: %w", err)
		}
		b.redis = redis.NewClient(opts)
	}
	b.closers = append(b.closers, func() { _ = b.redis.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (b *backends) openMongo(ctx context.Context, s *config.Settings, log *zap.Logger) error {
	if s.Mongo.URI == "" {
		b.users = memory.NewUsers()
		b.audit = &memory.Recorder{}
		log.Warn("mongo_uri not set, using in-memory user and audit stores")
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := mongodb.Connect(connectCtx, s.Mongo.URI, s.Mongo.Database)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Close(closeCtx)
	})
	if err := db.EnsureIndexes(connectCtx); err != nil {
		return err
	}

	b.users = db.Users()
	b.audit = db.Recorder()
	if s.Mongo.SessionBackend == config.SessionsMongo {
		b.sessions = db.Sessions()
		b.sessionBackend = config.SessionsMongo
	}
	return nil
}

func (b *backends) openNATS(s *config.Settings, log *zap.Logger) error {
	if s.NATS.URL == "" {
		b.notifier = notify.Func(func(_ context.Context, m notify.Message) error {
			log.Info("notification",
				zap.String("kind", string(m.Kind)),
				zap.String("user_id", m.UserID),
				zap.Strings("channels", channelNames(m.Channels)),
			)
			return nil
		})
		return nil
	}

	n, err := notify.NewNATS(s.NATS.URL, s.NATS.SubjectPrefix,
		nats.Name("spendauth-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	b.closers = append(b.closers, n.Close)
	b.notifier = n
	return nil
}

func channelNames(chs []notify.Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = string(ch)
	}
	return out
}
