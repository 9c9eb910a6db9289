package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/deceptly/honeypot/internal/ai"
	"github.com/deceptly/honeypot/internal/common"
	"github.com/deceptly/honeypot/internal/config"
	"github.com/deceptly/honeypot/internal/honeypot"
	"github.com/deceptly/honeypot/internal/store/rabbitmq"
)

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Svc    *honeypot.Service
	Rabbit *rabbitmq.Publisher // nil disables the async turn path
}

func NewHandler(db *gorm.DB, cfg config.Config, locker honeypot.SessionLocker, pub *rabbitmq.Publisher) *Handler {
	repo := honeypot.NewRepo(db)

	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenAIModel
		}
		return ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, m), nil
	})

	svc := honeypot.NewService(repo, reg, honeypot.Options{
		Provider:              cfg.AIProvider,
		GenTimeout:            cfg.GenTimeout,
		BlockedPhrases:        cfg.BlockedPhrases,
		MonotonicConfirmation: cfg.MonotonicConfirmation,
		Locker:                locker,
	})

	return &Handler{DB: db, Cfg: cfg, Svc: svc, Rabbit: pub}
}

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, gin.H{"pong": true})
}
