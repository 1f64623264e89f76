package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/raymondsend/ytfetch/internal/broadcast"
	"github.com/raymondsend/ytfetch/internal/dispatch"
	"github.com/raymondsend/ytfetch/internal/jobs"
	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/logx"
	"github.com/raymondsend/ytfetch/internal/notify"
	"github.com/raymondsend/ytfetch/internal/quota"
	"github.com/raymondsend/ytfetch/internal/reconcile"
	"github.com/raymondsend/ytfetch/internal/throttle"
	"github.com/raymondsend/ytfetch/internal/users"
)

type cfg struct {
	RedisAddr     string
	RedisPassword string
	PostgresDSN   string
	AdminIDs      map[int64]bool
	SupportHandle string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func loadCfg() cfg {
	admins := make(map[int64]bool)
	for _, p := range strings.Split(os.Getenv("ADMIN_IDS"), ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			admins[id] = true
		}
	}
	return cfg{
		RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		AdminIDs:      admins,
		SupportHandle: env("SUPPORT_HANDLE", "@Raymond_send"),
	}
}

var rctx = context.Background()

type server struct {
	cfg      cfg
	bot      *tgbotapi.BotAPI
	kv       kvstore.Store
	throttle *throttle.Store
	quota    *quota.Tracker
	users    *users.Repository
	dispatch *dispatch.Dispatcher
	mailer   *broadcast.Mailer
}

func main() {
	_ = godotenv.Load()
	c := loadCfg()

	logx.Setup(logx.FromEnv("bot"))
	log.Info().Msg("bot starting")

	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}

	// health endpoint
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
		log.Info().Msg("bot health on :8080/health")
		log.Error().Err(http.ListenAndServe(":8080", nil)).Msg("health server stopped")
	}()

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	bot.Debug = false
	log.Info().Str("username", bot.Self.UserName).Msg("bot authorized")

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword})
	kv := kvstore.NewRedis(rdb)

	pool, err := pgxpool.New(rctx, c.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect failed")
	}
	repo := users.NewRepository(pool)

	asClient := asynq.NewClient(asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword})
	defer asClient.Close()

	th := throttle.New(kv)
	qt := quota.New(kv, repo)

	s := &server{
		cfg:      c,
		bot:      bot,
		kv:       kv,
		throttle: th,
		quota:    qt,
		users:    repo,
		dispatch: dispatch.New(asClient),
		mailer:   broadcast.NewMailer(kv, repo),
	}

	// Result reconciler runs alongside the update loop: finished jobs
	// become chat notifications here, in the bot process.
	rec := reconcile.New(kv, notify.NewTelegram(bot), qt, repo)
	go rec.Run(rctx, reconcile.DefaultFormatsEvery, reconcile.DefaultFetchEvery)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for upd := range updates {
		switch {
		case upd.Message != nil:
			s.onMessage(upd.Message)
		case upd.CallbackQuery != nil:
			s.onCallback(upd.CallbackQuery)
		}
	}
}

// --- Handlers ---

func (s *server) onMessage(m *tgbotapi.Message) {
	if m.From == nil || m.Text == "" {
		return
	}
	log.Info().
		Int64("chat_id", m.Chat.ID).
		Int64("user_id", m.From.ID).
		Msg("message received")

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			s.onStart(m)
		case "supports":
			s.onSupports(m)
		case "reset_redis":
			s.onResetRedis(m)
		case "mailing":
			s.onMailing(m)
		case "mailing_status":
			s.onMailingStatus(m)
		case "cancel_mailing":
			s.onCancelMailing(m)
		default:
			s.reply(m.Chat.ID, "Unknown command. Send a video link to start.")
		}
		return
	}

	if strings.Contains(m.Text, "youtu") {
		s.onVideoLink(m)
	}
}

func (s *server) onStart(m *tgbotapi.Message) {
	// Commands are debounced on their literal text.
	if s.throttled(m.From.ID, m.Text, throttle.DefaultTTL) {
		return
	}
	s.reply(m.Chat.ID, "Hi! Send me a video link and I will download it for you.")

	name := m.From.UserName
	if name == "" {
		name = "NO_USERNAME"
	}
	if err := s.users.Insert(rctx, m.From.ID, name); err != nil {
		log.Error().Err(err).Int64("user_id", m.From.ID).Msg("user insert failed")
	}
	if err := s.users.LogEvent(rctx, m.From.ID, name, "/start", "command"); err != nil {
		log.Warn().Err(err).Int64("user_id", m.From.ID).Msg("event log failed")
	}
}

func (s *server) onSupports(m *tgbotapi.Message) {
	if s.throttled(m.From.ID, m.Text, throttle.DefaultTTL) {
		return
	}
	s.reply(m.Chat.ID,
		"✉️ <b>Contact support</b>\n\n"+
			"Questions, suggestions, or something broken — just write to "+s.cfg.SupportHandle+".\n\n"+
			"We will get back to you as fast as we can.\nThanks for using the bot 🙌")
}

// onResetRedis drops one user's coordination keys. Admin-only.
func (s *server) onResetRedis(m *tgbotapi.Message) {
	if !s.cfg.AdminIDs[m.From.ID] {
		s.reply(m.Chat.ID, "You are not allowed to run this command.")
		return
	}
	target := m.From.ID
	if args := strings.Fields(m.CommandArguments()); len(args) > 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			target = id
		}
	}

	patterns := []string{
		kvstore.ThrottleKey(target, "*"),
		kvstore.QuotaKey(target),
		kvstore.FetchResultKey(target, "*"),
		kvstore.FormatSelectionKey(target, "*"),
	}
	deleted := 0
	for _, pattern := range patterns {
		keys, err := s.kv.Scan(rctx, pattern)
		if err != nil {
			log.Error().Err(err).Str("pattern", pattern).Msg("reset scan failed")
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.kv.Delete(rctx, keys...); err != nil {
			log.Error().Err(err).Str("pattern", pattern).Msg("reset delete failed")
			continue
		}
		deleted += len(keys)
	}
	s.reply(m.Chat.ID, fmt.Sprintf("Cleared %d store keys for user %d.", deleted, target))
}

func (s *server) onVideoLink(m *tgbotapi.Message) {
	userID := m.From.ID
	url := strings.TrimSpace(m.Text)

	throttled, err := s.throttle.TryAcquire(rctx, userID, throttle.ActionSend, throttle.LongTTL)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("throttle check failed")
		s.reply(m.Chat.ID, "Internal error. Try again in a moment.")
		return
	}
	if throttled {
		s.reply(m.Chat.ID, "🔍 Still working on your previous link...")
		return
	}

	handle, err := s.dispatch.EnqueueFormatDiscovery(rctx, userID, url)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("discovery enqueue failed")
		// Let the user retry right away instead of waiting out the TTL.
		_ = s.throttle.Release(rctx, userID, throttle.ActionSend)
		s.reply(m.Chat.ID, "Queue error. Try again in a moment.")
		return
	}
	log.Info().Int64("user_id", userID).Str("job_id", handle.ID).Str("url", url).Msg("discovery enqueued")
	s.reply(m.Chat.ID, "🔍 Processing the link... Format buttons will appear here as soon as everything is ready!")
}

func (s *server) onCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || !strings.HasPrefix(cq.Data, "dl|") {
		_ = s.answerCB(cq, "")
		return
	}
	userID := cq.From.ID
	chatID := cq.Message.Chat.ID
	_ = s.answerCB(cq, "")

	ok, err := s.quota.CanConsume(rctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("quota check failed")
		s.reply(chatID, "Internal error. Try again in a moment.")
		return
	}
	if !ok {
		s.reply(chatID,
			"❗️ You have reached today's download limit.\n\n"+
				"To get more downloads, write to support — "+s.cfg.SupportHandle+" 😊")
		return
	}

	throttled, err := s.throttle.TryAcquire(rctx, userID, throttle.ActionDownload, throttle.LongTTL)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("throttle check failed")
		s.reply(chatID, "Internal error. Try again in a moment.")
		return
	}
	if throttled {
		s.reply(chatID, "⏳ Already downloading. Wait for it to finish.")
		return
	}

	formatID, err := jobs.ParseSelector(cq.Data)
	if err != nil {
		s.reply(chatID, "❌ Could not read the selected format.")
		return
	}
	url, err := s.kv.Get(rctx, kvstore.FormatSelectionKey(userID, formatID))
	if errors.Is(err, kvstore.ErrNotFound) {
		s.reply(chatID, "❌ The link has expired or was not found.")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("selection lookup failed")
		s.reply(chatID, "Internal error. Try again in a moment.")
		return
	}

	handle, err := s.dispatch.EnqueueFetch(rctx, url, cq.Data, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("fetch enqueue failed")
		_ = s.throttle.Release(rctx, userID, throttle.ActionDownload)
		s.reply(chatID, "❌ Could not start the download for the selected format.")
		return
	}
	log.Info().Int64("user_id", userID).Str("job_id", handle.ID).Str("format", formatID).Msg("fetch enqueued")
	s.reply(chatID, "📥 Downloading...\n\nI will send you a link as soon as it is ready.")

	if err := s.users.IncrementSentLinks(rctx, userID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("sent_links increment failed")
	}
}

// --- Broadcast commands ---

func (s *server) onMailing(m *tgbotapi.Message) {
	if !s.cfg.AdminIDs[m.From.ID] {
		s.reply(m.Chat.ID, "You are not allowed to run this command.")
		return
	}
	text := strings.TrimSpace(m.CommandArguments())
	if text == "" {
		s.reply(m.Chat.ID, "Usage: /mailing <message text>")
		return
	}

	recipients, err := s.users.ActiveIDs(rctx)
	if err != nil {
		log.Error().Err(err).Msg("recipient lookup failed")
		s.reply(m.Chat.ID, "Could not load the recipient list.")
		return
	}
	s.reply(m.Chat.ID, fmt.Sprintf("Broadcast started: %d recipients.", len(recipients)))

	go func() {
		res, err := s.mailer.Run(rctx, recipients, func(userID int64) error {
			_, err := s.bot.Send(tgbotapi.NewMessage(userID, text))
			return err
		})
		if err != nil {
			log.Error().Err(err).Msg("broadcast aborted")
		}
		s.reply(m.Chat.ID, fmt.Sprintf(
			"Broadcast finished.\nDelivered: %d\nFailed: %d\nTook: %.1fs",
			res.Sent, res.Failed, res.Duration.Seconds()))
	}()
}

func (s *server) onMailingStatus(m *tgbotapi.Message) {
	if !s.cfg.AdminIDs[m.From.ID] {
		return
	}
	pending, total, err := s.mailer.Status(rctx)
	if err != nil {
		s.reply(m.Chat.ID, "Could not read the mailing status.")
		return
	}
	if total == 0 {
		s.reply(m.Chat.ID, "No mailing in progress.")
		return
	}
	s.reply(m.Chat.ID, fmt.Sprintf("Mailing: %d of %d still pending.", pending, total))
}

func (s *server) onCancelMailing(m *tgbotapi.Message) {
	if !s.cfg.AdminIDs[m.From.ID] {
		return
	}
	if err := s.mailer.Cancel(rctx); err != nil {
		s.reply(m.Chat.ID, "Could not cancel the mailing.")
		return
	}
	s.reply(m.Chat.ID, "Mailing cancelled.")
}

// --- Helpers ---

func (s *server) throttled(userID int64, action string, ttl time.Duration) bool {
	hit, err := s.throttle.TryAcquire(rctx, userID, action, ttl)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("throttle check failed")
		return false
	}
	return hit
}

func (s *server) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(msg); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

func (s *server) answerCB(cq *tgbotapi.CallbackQuery, text string) error {
	_, err := s.bot.Request(tgbotapi.NewCallback(cq.ID, text))
	return err
}
