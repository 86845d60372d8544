package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Tekorita/talatrivia/internal/answer"
	"github.com/Tekorita/talatrivia/internal/api"
	"github.com/Tekorita/talatrivia/internal/catalog"
	"github.com/Tekorita/talatrivia/internal/event"
	"github.com/Tekorita/talatrivia/internal/game"
	"github.com/Tekorita/talatrivia/internal/lifeline"
	"github.com/Tekorita/talatrivia/internal/presence"
	"github.com/Tekorita/talatrivia/internal/ranking"
	"github.com/Tekorita/talatrivia/internal/stream"
	"github.com/Tekorita/talatrivia/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Tickets struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Ranking struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Engine struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Presence struct {
		LivenessThreshold time.Duration
	}

	Stream struct {
		TicketTTL        time.Duration
		SubscriberBuffer int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			tickets redis.UniversalClient
			ranking redis.UniversalClient
		}

		postgres struct {
			engine *pgxpool.Pool
		}
	}

	service struct {
		catalog  *catalog.Service
		presence *presence.Service
		game     *game.Service
		answer   *answer.Service
		lifeline *lifeline.Service
		ranking  *ranking.Service
	}

	stream struct {
		hub     *stream.Hub
		tickets *stream.Tickets
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.tickets, err = connect(s.c.Redis.Tickets.Addrs, s.c.Redis.Tickets.Pass)
	if err != nil {
		return fmt.Errorf("tickets: %w", err)
	}

	s.infra.redis.ranking, err = connect(s.c.Redis.Ranking.Addrs, s.c.Redis.Ranking.Pass)
	if err != nil {
		return fmt.Errorf("ranking: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres.Engine
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres.engine = db
	return nil
}

func (s *Server) initService() {
	db := s.infra.postgres.engine

	s.service.catalog = catalog.NewService(catalog.Config{
		Store: catalog.NewPostgresStore(db),
	})

	s.service.presence = presence.NewService(presence.Config{
		Store:             presence.NewPostgresStore(db),
		Catalog:           s.service.catalog,
		EventBus:          s.eb,
		LivenessThreshold: s.c.Presence.LivenessThreshold,
	})

	s.service.game = game.NewService(game.Config{
		Store:    game.NewPostgresStore(db),
		Catalog:  s.service.catalog,
		Roster:   s.service.presence,
		EventBus: s.eb,
	})

	s.service.answer = answer.NewService(answer.Config{
		Store:    answer.NewPostgresStore(db),
		Catalog:  s.service.catalog,
		Game:     s.service.game,
		EventBus: s.eb,
	})

	s.service.lifeline = lifeline.NewService(lifeline.Config{
		Store:   lifeline.NewPostgresStore(db),
		Catalog: s.service.catalog,
		Game:    s.service.game,
	})

	s.service.ranking = ranking.NewService(ranking.Config{
		Store:    ranking.NewPostgresStore(db),
		Catalog:  s.service.catalog,
		EventBus: s.eb,
		Redis:    s.infra.redis.ranking,
		Prefix:   s.c.Redis.Ranking.Prefix,
	})

	s.stream.hub = stream.NewHub(stream.HubConfig{
		SubscriberBuffer: s.c.Stream.SubscriberBuffer,
	})
	s.stream.tickets = stream.NewTickets(stream.TicketsConfig{
		Redis:  s.infra.redis.tickets,
		Prefix: s.c.Redis.Tickets.Prefix,
		TTL:    s.c.Stream.TicketTTL,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:   e,
		EventBus: s.eb,
		Catalog:  s.service.catalog,
		Presence: s.service.presence,
		Game:     s.service.game,
		Answer:   s.service.answer,
		Lifeline: s.service.lifeline,
		Ranking:  s.service.ranking,
		Hub:      s.stream.hub,
		Tickets:  s.stream.tickets,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.engine.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
