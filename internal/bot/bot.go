package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jusunglee/igrelay/internal/db"
	"github.com/jusunglee/igrelay/internal/fetch"
	"github.com/jusunglee/igrelay/internal/instagram"
	"github.com/jusunglee/igrelay/internal/metrics"
	"github.com/samber/lo"
)

type Config struct {
	NumWorkers           int64
	ProcessTimeout       time.Duration
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	MaxRequestsPerHour   int
}

type Bot struct {
	log      Logger
	api      Sender
	fetcher  MediaFetcher
	limiter  Admitter
	repo     db.Repository
	files    FileStore
	sessions *sessionStore
	config   Config
}

func New(
	log Logger,
	api Sender,
	fetcher MediaFetcher,
	limiter Admitter,
	repo db.Repository,
	files FileStore,
	config Config,
) *Bot {
	return &Bot{
		log:      log,
		api:      api,
		fetcher:  fetcher,
		limiter:  limiter,
		repo:     repo,
		files:    files,
		sessions: newSessionStore(config.SessionTTL),
		config:   config,
	}
}

// TODO: Support stories, blocked on plumbing the sessionid cookie through yt-dlp
// TODO: Per-chat send queue so a Telegram 429 on one chat doesn't stall a whole worker

// Run consumes updates until the channel is closed. The caller owns the
// channel and closes it on shutdown, which is what lets the workers drain
// in-flight downloads before returning.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	var wg sync.WaitGroup

	b.log.InfoContext(ctx, "starting workers", "count", b.config.NumWorkers)
	wg.Add(int(b.config.NumWorkers))
	for i := int64(0); i < b.config.NumWorkers; i++ {
		go b.runWorker(ctx, updates, &wg, i)
	}

	wg.Add(1)
	go b.runSessionSweeper(ctx, &wg)

	b.log.InfoContext(ctx, "bot is running")

	wg.Wait()
	b.log.Info("bot stopped")
	return nil
}

func (b *Bot) runWorker(ctx context.Context, updates <-chan tgbotapi.Update, wg *sync.WaitGroup, id int64) {
	defer wg.Done()
	log := b.log.With("worker_id", id)
	for update := range updates {
		processCtx, cancel := context.WithTimeout(ctx, b.config.ProcessTimeout)
		b.handleUpdate(processCtx, update)
		cancel()
	}
	log.Info("worker stopped")
}

func (b *Bot) runSessionSweeper(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for ctx.Err() == nil {
		removed := b.sessions.sweep(time.Now())
		if removed > 0 {
			b.log.Info("expired pending format choices", "removed", removed)
		}
		metrics.ActiveSessions.Set(float64(b.sessions.len()))
		sleepWithContext(ctx, b.config.SessionSweepInterval)
	}
	b.log.Info("session sweeper stopped")
}

func sleepWithContext(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-timer.C:
		return
	case <-ctx.Done():
		return
	}
}

type handlerResult struct {
	Response string
	Err      error
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		metrics.UpdatesTotal.WithLabelValues("callback").Inc()
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		metrics.UpdatesTotal.WithLabelValues("command").Inc()
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		metrics.UpdatesTotal.WithLabelValues("message").Inc()
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	var result handlerResult
	cmd := msg.Command()

	switch cmd {
	case "start", "help":
		result = b.handleStart(ctx, msg)
	case "stats":
		result = b.handleStats(ctx, msg)
	default:
		result = handlerResult{Response: "Unknown command. Send /help to see what I can do."}
	}

	if result.Response != "" {
		b.reply(ctx, msg.Chat.ID, result.Response)
	}
	b.logResult(ctx, "/"+cmd, msg.Chat.ID, result)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Text == "" {
		return
	}

	result := b.handleInstagramLink(ctx, msg)
	if result.Response != "" {
		b.reply(ctx, msg.Chat.ID, result.Response)
	}
	b.logResult(ctx, "message", msg.Chat.ID, result)
}

func (b *Bot) logResult(ctx context.Context, op string, chatID int64, result handlerResult) {
	if result.Err == nil {
		return
	}

	var uerr *userError
	if errors.As(result.Err, &uerr) {
		b.log.WarnContext(ctx, "user error", "op", op, "error", result.Err, "chat_id", chatID)
	} else {
		b.log.ErrorContext(ctx, "handler failed", "op", op, "error", result.Err, "chat_id", chatID)
	}
}

type userError struct {
	Err error
}

func (e *userError) Error() string {
	return e.Err.Error()
}

func (e *userError) Unwrap() error {
	return e.Err
}

func newUserError(err error) *userError {
	return &userError{Err: err}
}

const welcomeText = "🎬 *Instagram Media Downloader*\n\n" +
	"*What I can do:*\n" +
	"📸 Download profile pictures\n" +
	"🎥 Download reels & posts\n" +
	"🎵 Extract audio from videos\n\n" +
	"*How to use:*\n" +
	"Just send me an Instagram link!\n\n" +
	"*Supported links:*\n" +
	"🔗 Profile → profile picture\n" +
	"🎬 Reel → video or audio\n" +
	"📷 Post → video or audio\n\n" +
	"Commands: /help /stats"

const usageText = "🔗 Send me an Instagram link!\n\n" +
	"Profile, reel, and post URLs all work. /help shows the details."

const invalidLinkText = "❌ *No valid Instagram URL found!*\n\n" +
	"✅ *Supported formats:*\n" +
	"📸 Profile: `instagram.com/username`\n" +
	"🎥 Reel: `instagram.com/reel/xxx`\n" +
	"📷 Post: `instagram.com/p/xxx`"

const rateLimitText = "⚠️ *Rate limit exceeded!*\n\n" +
	"You can make %d requests per hour. Please try again in %s."

const unsupportedText = "❌ *Unsupported content type*\n\n" +
	"Stories aren't supported yet. Try a profile, reel, or post link."

const chooserText = "🎯 *%s detected!*\n\n" +
	"📥 *Choose your download format:*\n" +
	"🎥 Video → full quality video\n" +
	"🎵 Audio → MP3 only"

const downloadingText = "⏳ *Downloading %s...*\n\n" +
	"Please wait while I process your request."

const sessionExpiredText = "⏰ *Session expired!*\n\n" +
	"Send the Instagram link again to start fresh."

const cancelledText = "❌ *Download cancelled*\n\n" +
	"Send another Instagram link to try again."

func (b *Bot) handleStart(_ context.Context, _ *tgbotapi.Message) handlerResult {
	return handlerResult{Response: welcomeText}
}

func (b *Bot) handleStats(ctx context.Context, msg *tgbotapi.Message) handlerResult {
	userID := msg.From.ID

	var lastHour int64
	var counts []db.KindCount
	err := b.repo.WithTx(ctx, func(repo db.Repository) error {
		var err error
		lastHour, err = repo.CountDownloadsByUserSince(ctx, db.CountDownloadsByUserSinceParams{
			UserID: userID,
			Since:  time.Now().Add(-time.Hour),
		})
		if err != nil {
			return fmt.Errorf("counting recent downloads: %w", err)
		}
		counts, err = repo.GetUserKindCounts(ctx, userID)
		if err != nil {
			return fmt.Errorf("counting downloads by kind: %w", err)
		}
		return nil
	})
	if err != nil {
		return handlerResult{
			Response: "❌ Failed to load your stats. Please try again later.",
			Err:      fmt.Errorf("loading stats for user %d: %w", userID, err),
		}
	}

	total := lo.SumBy(counts, func(kc db.KindCount) int64 { return kc.Count })
	if total == 0 {
		return handlerResult{Response: "📊 Nothing downloaded yet. Send me an Instagram link to get started!"}
	}

	var sb strings.Builder
	sb.WriteString("📊 *Your download stats*\n\n")
	for _, kc := range counts {
		sb.WriteString(fmt.Sprintf("%s: %d\n", kindLabel(kc.Kind), kc.Count))
	}
	sb.WriteString(fmt.Sprintf("\n📦 Total: %d\n", total))
	sb.WriteString(fmt.Sprintf("🕐 Last hour: %d of %d requests", lastHour, b.config.MaxRequestsPerHour))
	return handlerResult{Response: sb.String()}
}

func kindLabel(kind string) string {
	switch kind {
	case db.KindProfilePic:
		return "📸 Profile pictures"
	case db.KindVideo:
		return "🎥 Videos"
	case db.KindAudio:
		return "🎵 Audio tracks"
	default:
		return kind
	}
}

func (b *Bot) handleInstagramLink(ctx context.Context, msg *tgbotapi.Message) handlerResult {
	if !strings.Contains(msg.Text, "instagram.com") {
		return handlerResult{Response: usageText}
	}

	decision := b.limiter.TryAdmit(msg.From.ID, time.Now())
	if !decision.Admitted {
		metrics.RateLimitRejections.Inc()
		return handlerResult{
			Response: fmt.Sprintf(rateLimitText, b.config.MaxRequestsPerHour, formatRetryAfter(decision.RetryAfter)),
			Err:      newUserError(fmt.Errorf("rate limited user %d, retry after %s", msg.From.ID, decision.RetryAfter)),
		}
	}

	link, ok := instagram.FindLink(msg.Text)
	if !ok {
		return handlerResult{Response: invalidLinkText}
	}

	switch link.Kind {
	case instagram.LinkProfile:
		return b.handleProfile(ctx, msg, link)
	case instagram.LinkReel, instagram.LinkPost:
		return b.sendChooser(ctx, msg, link)
	default:
		return handlerResult{Response: unsupportedText}
	}
}

func (b *Bot) handleProfile(ctx context.Context, msg *tgbotapi.Message, link instagram.Link) handlerResult {
	chatID := msg.Chat.ID

	processing, err := b.api.Send(tgbotapi.NewMessage(chatID, "📸 Fetching profile picture..."))
	if err != nil {
		return handlerResult{Err: fmt.Errorf("sending processing message: %w", err)}
	}

	start := time.Now()
	res, err := b.fetcher.FetchProfilePicture(ctx, link.ID)
	if err != nil {
		b.recordDownload(ctx, msg.From.ID, chatID, db.KindProfilePic, link.URL, db.StatusFailed, time.Since(start))
		b.editText(ctx, chatID, processing.MessageID, failureText(err))
		return handlerResult{Err: classifyFailure(err, fmt.Sprintf("fetching profile %s", link.ID))}
	}
	defer b.files.Remove(res.Path)

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(res.Path))
	photo.Caption = profileCaption(res)
	photo.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(photo); err != nil {
		b.recordDownload(ctx, msg.From.ID, chatID, db.KindProfilePic, link.URL, db.StatusFailed, time.Since(start))
		b.editText(ctx, chatID, processing.MessageID, failureText(err))
		return handlerResult{Err: fmt.Errorf("sending profile picture: %w", err)}
	}

	b.deleteMessage(ctx, chatID, processing.MessageID)
	b.recordDownload(ctx, msg.From.ID, chatID, db.KindProfilePic, link.URL, db.StatusOK, time.Since(start))
	b.log.InfoContext(ctx, "profile picture sent", "username", link.ID, "chat_id", chatID)
	return handlerResult{}
}

func (b *Bot) sendChooser(ctx context.Context, msg *tgbotapi.Message, link instagram.Link) handlerResult {
	userID := msg.From.ID

	label := "📷 Post"
	if link.Kind == instagram.LinkReel {
		label = "🎬 Reel"
	}

	chooser := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(chooserText, label))
	chooser.ParseMode = tgbotapi.ModeMarkdown
	chooser.ReplyMarkup = chooserKeyboard(userID)

	// Register the session before sending so a fast click can't race a
	// worker into "session expired".
	b.sessions.put(userID, link.URL, link.Kind, time.Now())
	if _, err := b.api.Send(chooser); err != nil {
		b.sessions.clear(userID)
		return handlerResult{Err: fmt.Errorf("sending format chooser: %w", err)}
	}

	b.log.InfoContext(ctx, "format chooser sent", "kind", link.Kind, "user_id", userID)
	return handlerResult{}
}

const (
	actionVideo  = "video"
	actionAudio  = "audio"
	actionCancel = "cancel"
)

func chooserKeyboard(userID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎥 Video", callbackData(actionVideo, userID)),
			tgbotapi.NewInlineKeyboardButtonData("🎵 Audio", callbackData(actionAudio, userID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", callbackData(actionCancel, userID)),
		),
	)
}

func callbackData(action string, userID int64) string {
	return fmt.Sprintf("%s:%d", action, userID)
}

func parseCallback(data string) (action string, userID int64, ok bool) {
	action, rest, found := strings.Cut(data, ":")
	if !found {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return action, id, true
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	result := b.handleFormatChoice(ctx, cb)

	var chatID int64
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}
	b.logResult(ctx, "callback", chatID, result)
}

func (b *Bot) handleFormatChoice(ctx context.Context, cb *tgbotapi.CallbackQuery) handlerResult {
	if cb.Message == nil {
		return handlerResult{Err: newUserError(errors.New("callback without message"))}
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	action, owner, ok := parseCallback(cb.Data)
	if !ok {
		b.answerCallback(ctx, cb.ID, "")
		return handlerResult{Err: fmt.Errorf("malformed callback data: %q", cb.Data)}
	}

	// Answer exactly once: the alert for the wrong user, the silent ack
	// otherwise.
	if cb.From.ID != owner {
		b.answerCallback(ctx, cb.ID, "❌ This button is not for you!")
		return handlerResult{}
	}
	b.answerCallback(ctx, cb.ID, "")

	if action == actionCancel {
		b.sessions.clear(owner)
		b.editText(ctx, chatID, messageID, cancelledText)
		return handlerResult{}
	}

	sess, ok := b.sessions.get(owner, time.Now())
	if !ok {
		b.editText(ctx, chatID, messageID, sessionExpiredText)
		return handlerResult{}
	}

	audioOnly := action == actionAudio
	kind := db.KindVideo
	formatLabel := "video"
	if audioOnly {
		kind = db.KindAudio
		formatLabel = "audio"
	}

	b.editText(ctx, chatID, messageID, fmt.Sprintf(downloadingText, formatLabel))

	start := time.Now()
	res, err := b.fetcher.FetchMedia(ctx, sess.url, audioOnly)
	if err != nil {
		b.sessions.clear(owner)
		b.recordDownload(ctx, owner, chatID, kind, sess.url, db.StatusFailed, time.Since(start))
		b.editText(ctx, chatID, messageID, failureText(err))
		return handlerResult{Err: classifyFailure(err, formatLabel+" download")}
	}
	defer b.files.Remove(res.Path)

	caption := mediaCaption(res, sess.url)
	var media tgbotapi.Chattable
	if audioOnly {
		audio := tgbotapi.NewAudio(chatID, tgbotapi.FilePath(res.Path))
		audio.Caption = caption
		audio.ParseMode = tgbotapi.ModeMarkdown
		audio.Duration = int(res.Duration.Seconds())
		audio.Title = res.Title
		audio.Performer = res.Uploader
		media = audio
	} else {
		video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(res.Path))
		video.Caption = caption
		video.ParseMode = tgbotapi.ModeMarkdown
		video.Duration = int(res.Duration.Seconds())
		video.SupportsStreaming = true
		media = video
	}

	if _, err := b.api.Send(media); err != nil {
		b.sessions.clear(owner)
		b.recordDownload(ctx, owner, chatID, kind, sess.url, db.StatusFailed, time.Since(start))
		b.editText(ctx, chatID, messageID, failureText(err))
		return handlerResult{Err: fmt.Errorf("sending %s: %w", formatLabel, err)}
	}

	b.deleteMessage(ctx, chatID, messageID)
	b.sessions.clear(owner)
	b.recordDownload(ctx, owner, chatID, kind, sess.url, db.StatusOK, time.Since(start))
	b.log.InfoContext(ctx, "media sent", "kind", kind, "chat_id", chatID, "took", time.Since(start))
	return handlerResult{}
}

// recordDownload bumps the delivery metrics and persists the attempt.
// Persistence failures are logged, not returned: the user already has
// their answer by the time we get here.
func (b *Bot) recordDownload(ctx context.Context, userID, chatID int64, kind, url, status string, took time.Duration) {
	metrics.DownloadsTotal.WithLabelValues(kind, status).Inc()
	if status == db.StatusOK {
		metrics.DownloadDuration.WithLabelValues(kind).Observe(took.Seconds())
	}

	_, err := b.repo.RecordDownload(ctx, db.RecordDownloadParams{
		UserID:     userID,
		ChatID:     chatID,
		Kind:       kind,
		URL:        url,
		Status:     status,
		DurationMs: took.Milliseconds(),
	})
	if err != nil {
		b.log.ErrorContext(ctx, "failed to record download", "error", err, "user_id", userID, "kind", kind)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.ErrorContext(ctx, "failed to send reply", "error", err, "chat_id", chatID)
	}
}

func (b *Bot) editText(ctx context.Context, chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(edit); err != nil {
		b.log.ErrorContext(ctx, "failed to edit message", "error", err, "chat_id", chatID, "message_id", messageID)
	}
}

func (b *Bot) deleteMessage(ctx context.Context, chatID int64, messageID int) {
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		b.log.WarnContext(ctx, "failed to delete message", "error", err, "chat_id", chatID, "message_id", messageID)
	}
}

func (b *Bot) answerCallback(ctx context.Context, callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, "")
	if text != "" {
		callback = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := b.api.Request(callback); err != nil {
		b.log.WarnContext(ctx, "failed to answer callback", "error", err)
	}
}

func failureText(err error) string {
	switch {
	case errors.Is(err, instagram.ErrNotFound):
		return "❌ *Profile not found*\n\nDouble-check the username and try again."
	case errors.Is(err, instagram.ErrLoginWall), errors.Is(err, fetch.ErrUnavailable):
		return "🔒 *Download failed*\n\nThis content is private or unavailable."
	case errors.Is(err, instagram.ErrRateLimited):
		return "⚠️ *Instagram is throttling us*\n\nPlease try again in a few minutes."
	default:
		return "💥 *Something went wrong*\n\nPlease try again later."
	}
}

// classifyFailure decides who gets paged: bad input and private content
// are the user's problem, everything else is ours.
func classifyFailure(err error, what string) error {
	wrapped := fmt.Errorf("%s: %w", what, err)
	if errors.Is(err, instagram.ErrNotFound) || errors.Is(err, instagram.ErrLoginWall) || errors.Is(err, fetch.ErrUnavailable) {
		return newUserError(wrapped)
	}
	return wrapped
}

func profileCaption(res fetch.Result) string {
	caption := "📸 *Profile Picture*"
	if res.Title != "" {
		caption = fmt.Sprintf("📸 *%s*", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, res.Title))
	}
	if res.Uploader != "" {
		caption += fmt.Sprintf("\n👤 @%s", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, res.Uploader))
	}
	return caption
}

func mediaCaption(res fetch.Result, sourceURL string) string {
	var sb strings.Builder
	sb.WriteString("✅ *Download Complete!*\n\n")
	if res.Title != "" {
		sb.WriteString(fmt.Sprintf("📷 *Title:* %s\n", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, truncate(res.Title, 100))))
	}
	if res.Uploader != "" {
		sb.WriteString(fmt.Sprintf("👤 *Creator:* %s\n", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, res.Uploader)))
	}
	if res.Duration > 0 {
		sb.WriteString(fmt.Sprintf("🎥 *Duration:* %s\n", formatDuration(res.Duration)))
	}
	if res.Description != "" {
		sb.WriteString(fmt.Sprintf("\n📝 %s\n", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, truncate(res.Description, 200))))
	}
	sb.WriteString(fmt.Sprintf("\n🔗 *Source:* [Instagram](%s)", sourceURL))
	return truncate(sb.String(), captionLimit)
}

// Telegram rejects captions longer than 1024 characters.
const captionLimit = 1024

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func formatRetryAfter(d time.Duration) string {
	if d <= time.Minute {
		return "a minute"
	}
	minutes := int((d + time.Minute - 1) / time.Minute)
	return fmt.Sprintf("%d minutes", minutes)
}
